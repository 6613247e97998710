package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
    id            TEXT PRIMARY KEY,
    code          TEXT NOT NULL,
    stdout        TEXT NOT NULL,
    stderr        TEXT NOT NULL,
    exit_code     INTEGER NOT NULL,
    error         TEXT NOT NULL DEFAULT '',
    error_kind    TEXT NOT NULL DEFAULT '',
    duration_ms   INTEGER NOT NULL,
    peak_memory   INTEGER NOT NULL,
    fuel_consumed INTEGER,
    cached_module INTEGER NOT NULL,
    created_at    DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createExecutionsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create executions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores a new execution record.
func (s *SQLiteStore) Insert(ctx context.Context, e *Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (
			id, code, stdout, stderr, exit_code, error, error_kind,
			duration_ms, peak_memory, fuel_consumed, cached_module, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Code, e.Stdout, e.Stderr, e.ExitCode, e.Error, e.ErrorKind,
		e.DurationMS, e.PeakMemory, e.FuelConsumed, e.CachedModule, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Get retrieves an execution by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Execution, error) {
	e := &Execution{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, stdout, stderr, exit_code, error, error_kind,
			duration_ms, peak_memory, fuel_consumed, cached_module, created_at
		FROM executions WHERE id = ?`, id,
	).Scan(
		&e.ID, &e.Code, &e.Stdout, &e.Stderr, &e.ExitCode, &e.Error, &e.ErrorKind,
		&e.DurationMS, &e.PeakMemory, &e.FuelConsumed, &e.CachedModule, &e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// List returns a page of executions ordered by created_at DESC, along with
// the total count.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Execution, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count executions: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, code, stdout, stderr, exit_code, error, error_kind,
			duration_ms, peak_memory, fuel_consumed, cached_module, created_at
		FROM executions ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		e := &Execution{}
		if err := rows.Scan(
			&e.ID, &e.Code, &e.Stdout, &e.Stderr, &e.ExitCode, &e.Error, &e.ErrorKind,
			&e.DurationMS, &e.PeakMemory, &e.FuelConsumed, &e.CachedModule, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate executions: %w", err)
	}

	return executions, total, nil
}

// GetStats returns aggregate counters over all recorded executions.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN error = '' AND exit_code = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error != '' OR exit_code != 0 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM executions`,
	).Scan(&stats.Total, &stats.Succeeded, &stats.Failed, &stats.AvgDurationMS)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}
