package database

import (
	"os"
	"path/filepath"
	"testing"

	"filedrop/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		if _, ok := got.(*MemoryStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *MemoryStore", got)
		}
		got.Close()
	})

	t.Run("sqlite store", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dir})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, ok := got.(*SQLiteStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *SQLiteStore", got)
		}
		if _, err := os.Stat(filepath.Join(dir, "filedrop.db")); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("postgres store is lazy", func(t *testing.T) {
		got, err := NewStoreFromConfig(config.DatabaseConfig{Type: "postgres", DSN: "postgres://127.0.0.1:1/none"})
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		if _, ok := got.(*PostgresStore); !ok {
			t.Errorf("NewStoreFromConfig() = %T, want *PostgresStore", got)
		}
		got.Close()
	})

	tests := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{name: "sqlite without data_dir", cfg: config.DatabaseConfig{Type: "sqlite"}},
		{name: "postgres without dsn", cfg: config.DatabaseConfig{Type: "postgres"}},
		{name: "unknown type", cfg: config.DatabaseConfig{Type: "unknown"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(tt.cfg)
			if err == nil {
				t.Error("NewStoreFromConfig() expected error, got nil")
			}
			if got != nil {
				t.Error("NewStoreFromConfig() should return nil on error")
			}
		})
	}
}
