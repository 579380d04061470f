package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	qerrors "github.com/queryctl/queryctl/internal/errors"
	"github.com/queryctl/queryctl/internal/exec"
	"github.com/queryctl/queryctl/internal/fingerprint"
)

// PostgresStore backs the cache with a shared database so a team of
// operators benefits from each other's executions. Same last-write-wins
// policy as the local store; no distributed lock is taken.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS query_cache (
	fingerprint      TEXT PRIMARY KEY,
	execution_id     TEXT NOT NULL,
	state            TEXT NOT NULL,
	result_location  TEXT NOT NULL,
	row_count        BIGINT NOT NULL,
	byte_size        BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ NOT NULL
)`

// OpenPostgres connects to the shared cache database at dsn.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("cache dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return &PostgresStore{db: db, clock: time.Now}, nil
}

// NewPostgresStoreWithDB wraps an existing database handle. Used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Lookup(ctx context.Context, fp fingerprint.Fingerprint, window time.Duration) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT fingerprint, execution_id, state, result_location, row_count, byte_size, created_at, last_accessed_at
FROM query_cache
WHERE fingerprint = $1`, fp.String())

	entry, err := scanPostgresEntry(row)
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

	if _, err := s.db.ExecContext(ctx, `UPDATE query_cache SET last_accessed_at = $1 WHERE fingerprint = $2`,
		now.UTC(), fp.String()); err != nil {
		return Entry{}, false, qerrors.Wrap(qerrors.KindStore, "touch cache entry", err)
	}
	entry.LastAccessedAt = now.UTC()
	return entry, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, entry Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO query_cache (fingerprint, execution_id, state, result_location, row_count, byte_size, created_at, last_accessed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (fingerprint) DO UPDATE SET
	execution_id = EXCLUDED.execution_id,
	state = EXCLUDED.state,
	result_location = EXCLUDED.result_location,
	row_count = EXCLUDED.row_count,
	byte_size = EXCLUDED.byte_size,
	created_at = EXCLUDED.created_at,
	last_accessed_at = EXCLUDED.last_accessed_at`,
		entry.Fingerprint.String(),
		entry.ExecutionID,
		string(entry.State),
		entry.ResultLocation,
		entry.RowCount,
		entry.ByteSize,
		entry.CreatedAt.UTC(),
		entry.LastAccessedAt.UTC(),
	)
	if err != nil {
		return qerrors.Wrap(qerrors.KindStore, "write cache entry", err)
	}
	return nil
}

func (s *PostgresStore) EvictIf(ctx context.Context, pred func(Entry) bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, execution_id, state, result_location, row_count, byte_size, created_at, last_accessed_at
FROM query_cache`)
	if err != nil {
		return 0, qerrors.Wrap(qerrors.KindStore, "scan cache entries", err)
	}
	defer func() { _ = rows.Close() }()

	var victims []string
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
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

	evicted := 0
	for _, fp := range victims {
		result, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE fingerprint = $1`, fp)
		if err != nil {
			return evicted, qerrors.Wrap(qerrors.KindStore, "evict cache entry", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			evicted += int(n)
		}
	}
	return evicted, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPostgresEntry(row rowScanner) (Entry, error) {
	var (
		entry Entry
		fp    string
		state string
	)
	if err := row.Scan(&fp, &entry.ExecutionID, &state, &entry.ResultLocation, &entry.RowCount, &entry.ByteSize, &entry.CreatedAt, &entry.LastAccessedAt); err != nil {
		return Entry{}, err
	}
	parsed, ok := fingerprint.Parse(fp)
	if !ok {
		return Entry{}, fmt.Errorf("malformed fingerprint %q in cache", fp)
	}
	entry.Fingerprint = parsed
	entry.State = exec.State(state)
	return entry, nil
}
