package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/exec"
	"github.com/queryctl/queryctl/internal/fingerprint"
)

// SQLiteStore is the default durable cache: one local database file shared
// by successive CLI invocations. Columns are selected by name on read, so a
// binary that predates a schema addition ignores the unknown columns.
type SQLiteStore struct {
	db *sql.DB
	// mu serializes writes; sqlite allows a single writer and concurrent
	// processes are additionally covered by the busy timeout.
	mu    sync.Mutex
	clock func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS query_cache (
	fingerprint      TEXT PRIMARY KEY,
	execution_id     TEXT NOT NULL,
	state            TEXT NOT NULL,
	result_location  TEXT NOT NULL,
	row_count        INTEGER NOT NULL,
	byte_size        INTEGER NOT NULL,
	created_at       TEXT NOT NULL,
	last_accessed_at TEXT NOT NULL
);`

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db, clock: time.Now}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return store, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle. Used by tests.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, clock: time.Now}
}

func (s *SQLiteStore) Lookup(ctx context.Context, fp fingerprint.Fingerprint, window time.Duration) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT fingerprint, execution_id, state, result_location, row_count, byte_size, created_at, last_accessed_at
FROM query_cache
WHERE fingerprint = ?`, fp.String())

	entry, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, qerrors.Wrap(qerrors.KindStore, "lookup cache entry", err)
	}

	now := s.clock()
	if !entry.Fresh(now, window) {
		return Entry{}, false, nil
	}

	s.mu.Lock()
	_, err = s.db.ExecContext(ctx, `UPDATE query_cache SET last_accessed_at = ? WHERE fingerprint = ?`,
		now.UTC().Format(time.RFC3339Nano), fp.String())
	s.mu.Unlock()
	if err != nil {
		return Entry{}, false, qerrors.Wrap(qerrors.KindStore, "touch cache entry", err)
	}
	entry.LastAccessedAt = now.UTC()
	return entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO query_cache (fingerprint, execution_id, state, result_location, row_count, byte_size, created_at, last_accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
	execution_id = excluded.execution_id,
	state = excluded.state,
	result_location = excluded.result_location,
	row_count = excluded.row_count,
	byte_size = excluded.byte_size,
	created_at = excluded.created_at,
	last_accessed_at = excluded.last_accessed_at`,
		entry.Fingerprint.String(),
		entry.ExecutionID,
		string(entry.State),
		entry.ResultLocation,
		entry.RowCount,
		entry.ByteSize,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		entry.LastAccessedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return qerrors.Wrap(qerrors.KindStore, "write cache entry", err)
	}
	return nil
}

func (s *SQLiteStore) EvictIf(ctx context.Context, pred func(Entry) bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, execution_id, state, result_location, row_count, byte_size, created_at, last_accessed_at
FROM query_cache`)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.KindStore, "scan cache entries", err)
	}
	defer func() { _ = rows.Close() }()

	var victims []string
	for rows.Next() {
		entry, err := scanSQLiteEntry(rows)
		if err != nil {
			return 0, qerrors.Wrap(qerrors.KindStore, "scan cache entry", err)
		}
		if pred(entry) {
			victims = append(victims, entry.Fingerprint.String())
		}
	}
	if err := rows.Err(); err != nil {
		return 0, qerrors.Wrap(qerrors.KindStore, "scan cache entries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for _, fp := range victims {
		result, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE fingerprint = ?`, fp)
		if err != nil {
			return evicted, qerrors.Wrap(qerrors.KindStore, "evict cache entry", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			evicted += int(n)
		}
	}
	return evicted, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (Entry, error) {
	var (
		entry        Entry
		fp           string
		state        string
		createdAt    string
		lastAccessed string
	)
	if err := row.Scan(&fp, &entry.ExecutionID, &state, &entry.ResultLocation, &entry.RowCount, &entry.ByteSize, &createdAt, &lastAccessed); err != nil {
		return Entry{}, err
	}
	parsed, ok := fingerprint.Parse(fp)
	if !ok {
		return Entry{}, fmt.Errorf("malformed fingerprint %q in cache", fp)
	}
	entry.Fingerprint = parsed
	entry.State = exec.State(state)

	var err error
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("malformed created_at %q in cache: %w", createdAt, err)
	}
	if entry.LastAccessedAt, err = time.Parse(time.RFC3339Nano, lastAccessed); err != nil {
		return Entry{}, fmt.Errorf("malformed last_accessed_at %q in cache: %w", lastAccessed, err)
	}
	return entry, nil
}
