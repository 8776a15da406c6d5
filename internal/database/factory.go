package database

import (
	"fmt"
	"os"
	"path/filepath"

	"filedrop/internal/config"
	"filedrop/internal/drop"
)

// Store is what the server needs from a metadata backend: session fields
// plus persisted expiry deadlines.
type Store interface {
	drop.MetadataStore
	drop.DeadlineStore
}

// NewStoreFromConfig creates a Store based on the database config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		store, err := NewSQLiteStore(filepath.Join(cfg.DataDir, "filedrop.db"), nil)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
