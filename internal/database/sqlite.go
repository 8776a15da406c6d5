package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filedrop/internal/database/migrations"
	"filedrop/internal/drop"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements drop.MetadataStore and drop.DeadlineStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	clock drop.Clock
}

// NewSQLiteStore opens the database at path, applies pending migrations, and
// returns a ready store. path can be a file path or ":memory:".
func NewSQLiteStore(path string, clock drop.Clock) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return NewSQLiteStoreFromDB(db, path, clock), nil
}

// NewSQLiteStoreFromDB wraps an existing, already migrated connection.
func NewSQLiteStoreFromDB(db *sql.DB, path string, clock drop.Clock) *SQLiteStore {
	if clock == nil {
		clock = drop.RealClock{}
	}
	return &SQLiteStore{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite database connection.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database (%s): %w", pragma, err)
		}
	}
	return db, nil
}

// Get returns the stored value, or nil if the field was never written.
func (s *SQLiteStore) Get(ctx context.Context, scopeID, field string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM session_fields WHERE scope_id = ? AND field = ?",
		scopeID, field,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying %s/%s: %w", scopeID, field, err)
	}
	return value, nil
}

// Put replaces the value of field in scope.
func (s *SQLiteStore) Put(ctx context.Context, scopeID, field string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_fields (scope_id, field, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope_id, field)
		DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scopeID, field, value, s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", scopeID, field, err)
	}
	return nil
}

// DeleteAll removes every field and any pending deadline of scope.
func (s *SQLiteStore) DeleteAll(ctx context.Context, scopeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_fields WHERE scope_id = ?", scopeID); err != nil {
		return fmt.Errorf("deleting fields of %s: %w", scopeID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_deadlines WHERE scope_id = ?", scopeID); err != nil {
		return fmt.Errorf("deleting deadline of %s: %w", scopeID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete of %s: %w", scopeID, err)
	}
	return nil
}

// SaveDeadline records when scope should expire, replacing any earlier deadline.
func (s *SQLiteStore) SaveDeadline(ctx context.Context, scopeID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_deadlines (scope_id, fire_at) VALUES (?, ?)
		ON CONFLICT (scope_id) DO UPDATE SET fire_at = excluded.fire_at`,
		scopeID, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving deadline of %s: %w", scopeID, err)
	}
	return nil
}

// DeleteDeadline forgets the pending deadline of scope.
func (s *SQLiteStore) DeleteDeadline(ctx context.Context, scopeID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM session_deadlines WHERE scope_id = ?", scopeID); err != nil {
		return fmt.Errorf("deleting deadline of %s: %w", scopeID, err)
	}
	return nil
}

// ListDeadlines returns every pending deadline, soonest first.
func (s *SQLiteStore) ListDeadlines(ctx context.Context) ([]drop.Deadline, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT scope_id, fire_at FROM session_deadlines ORDER BY fire_at, scope_id")
	if err != nil {
		return nil, fmt.Errorf("listing deadlines: %w", err)
	}
	defer rows.Close()

	var deadlines []drop.Deadline
	for rows.Next() {
		var (
			scopeID string
			fireAt  int64
		)
		if err := rows.Scan(&scopeID, &fireAt); err != nil {
			return nil, fmt.Errorf("scanning deadline: %w", err)
		}
		deadlines = append(deadlines, drop.Deadline{ScopeID: scopeID, At: time.UnixMilli(fireAt).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deadlines: %w", err)
	}
	return deadlines, nil
}

// DB returns the underlying connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ drop.MetadataStore = (*SQLiteStore)(nil)
	_ drop.DeadlineStore = (*SQLiteStore)(nil)
)
