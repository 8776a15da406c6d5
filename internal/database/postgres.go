package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"filedrop/internal/drop"

	_ "github.com/lib/pq" // Postgres driver
)

const (
	postgresFieldsTable    = "filedrop_session_fields"
	postgresDeadlinesTable = "filedrop_session_deadlines"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore implements drop.MetadataStore and drop.DeadlineStore on
// Postgres. The connection is opened and the tables are created lazily on
// first use, so constructing a store never touches the network.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore creates a store for the given connection string.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres store requires a dsn")
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (p *PostgresStore) Get(ctx context.Context, scopeID, field string) ([]byte, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := p.db.QueryRowContext(ctx,
		"SELECT value FROM "+postgresFieldsTable+" WHERE scope_id = $1 AND field = $2",
		scopeID, field,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s/%s: %w", scopeID, field, err)
	}
	return value, nil
}

func (p *PostgresStore) Put(ctx context.Context, scopeID, field string, value []byte) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO `+postgresFieldsTable+` (scope_id, field, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (scope_id, field)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		scopeID, field, value,
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", scopeID, field, err)
	}
	return nil
}

func (p *PostgresStore) DeleteAll(ctx context.Context, scopeID string) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+postgresFieldsTable+" WHERE scope_id = $1", scopeID); err != nil {
		return fmt.Errorf("deleting fields of %s: %w", scopeID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+postgresDeadlinesTable+" WHERE scope_id = $1", scopeID); err != nil {
		return fmt.Errorf("deleting deadline of %s: %w", scopeID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete of %s: %w", scopeID, err)
	}
	return nil
}

func (p *PostgresStore) SaveDeadline(ctx context.Context, scopeID string, at time.Time) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO `+postgresDeadlinesTable+` (scope_id, fire_at) VALUES ($1, $2)
		ON CONFLICT (scope_id) DO UPDATE SET fire_at = EXCLUDED.fire_at`,
		scopeID, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving deadline of %s: %w", scopeID, err)
	}
	return nil
}

func (p *PostgresStore) DeleteDeadline(ctx context.Context, scopeID string) error {
	if err := p.ensureReady(ctx); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "DELETE FROM "+postgresDeadlinesTable+" WHERE scope_id = $1", scopeID); err != nil {
		return fmt.Errorf("deleting deadline of %s: %w", scopeID, err)
	}
	return nil
}

func (p *PostgresStore) ListDeadlines(ctx context.Context) ([]drop.Deadline, error) {
	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, "SELECT scope_id, fire_at FROM "+postgresDeadlinesTable+" ORDER BY fire_at, scope_id")
	if err != nil {
		return nil, fmt.Errorf("listing deadlines: %w", err)
	}
	defer rows.Close()

	var deadlines []drop.Deadline
	for rows.Next() {
		var d drop.Deadline
		if err := rows.Scan(&d.ScopeID, &d.At); err != nil {
			return nil, fmt.Errorf("scanning deadline: %w", err)
		}
		deadlines = append(deadlines, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deadlines: %w", err)
	}
	return deadlines, nil
}

func (p *PostgresStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresStore) ensureReady(ctx context.Context) error {
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = fmt.Errorf("opening postgres: %w", err)
			return
		}

		for _, stmt := range []string{
			`CREATE TABLE IF NOT EXISTS ` + postgresFieldsTable + ` (
				scope_id   TEXT        NOT NULL,
				field      TEXT        NOT NULL,
				value      BYTEA       NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (scope_id, field)
			)`,
			`CREATE TABLE IF NOT EXISTS ` + postgresDeadlinesTable + ` (
				scope_id TEXT        PRIMARY KEY,
				fire_at  TIMESTAMPTZ NOT NULL
			)`,
		} {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				p.initErr = fmt.Errorf("creating postgres tables: %w", err)
				return
			}
		}
		p.db = db
	})
	return p.initErr
}

var (
	_ drop.MetadataStore = (*PostgresStore)(nil)
	_ drop.DeadlineStore = (*PostgresStore)(nil)
)
