// Package cache persists the fingerprint-to-result mapping that lets
// repeated invocations skip remote execution. The cache is an optimization,
// not a correctness mechanism: concurrent processes may race to write the
// same fingerprint and the last successful write wins.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/queryctl/queryctl/internal/exec"
	"github.com/queryctl/queryctl/internal/fingerprint"
)

// Entry is one durable cache record. Entries exist only for terminal,
// successful executions; failed executions are never cached.
type Entry struct {
	Fingerprint    fingerprint.Fingerprint
	ExecutionID    string
	State          exec.State
	ResultLocation string
	RowCount       int64
	ByteSize       int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Fresh reports whether the entry's creation time is within window of now.
// Entries expire by age only, never by count.
func (e Entry) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.CreatedAt) <= window
}

// Store is the persistence capability of the cache. Implementations must be
// safe for concurrent use and must keep their critical sections free of
// network I/O.
type Store interface {
	// Lookup returns the fresh entry for fp, if any. A stale entry is
	// reported as a miss but is not deleted; the next successful write to
	// the same fingerprint supersedes it.
	Lookup(ctx context.Context, fp fingerprint.Fingerprint, window time.Duration) (Entry, bool, error)
	// Put overwrites any existing entry for the same fingerprint.
	Put(ctx context.Context, entry Entry) error
	// EvictIf deletes every entry matching pred and returns the count.
	// Administrative sweep, not on the hot path.
	EvictIf(ctx context.Context, pred func(Entry) bool) (int, error)
	Close() error
}

// validateEntry enforces the terminal-success invariant shared by all
// store implementations.
func validateEntry(entry Entry) error {
	if entry.State != exec.StateSucceeded {
		return fmt.Errorf("refusing to cache execution %s in state %s", entry.ExecutionID, entry.State)
	}
	if entry.ExecutionID == "" {
		return fmt.Errorf("cache entry requires an execution id")
	}
	if entry.ResultLocation == "" {
		return fmt.Errorf("cache entry requires a result location")
	}
	return nil
}

// MemoryStore is the in-process Store used by tests and the memory driver.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[fingerprint.Fingerprint]Entry

	// Clock is injectable for staleness tests.
	Clock func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[fingerprint.Fingerprint]Entry), Clock: time.Now}
}

func (s *MemoryStore) Lookup(_ context.Context, fp fingerprint.Fingerprint, window time.Duration) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[fp]
	if !ok {
		return Entry{}, false, nil
	}
	now := s.Clock()
	if !entry.Fresh(now, window) {
		return Entry{}, false, nil
	}
	entry.LastAccessedAt = now
	s.entries[fp] = entry
	return entry, true, nil
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Fingerprint] = entry
	return nil
}

func (s *MemoryStore) EvictIf(_ context.Context, pred func(Entry) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for fp, entry := range s.entries {
		if pred(entry) {
			delete(s.entries, fp)
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemoryStore) Close() error { return nil }

// Len reports the number of stored entries, fresh or stale.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
