package testutil

import (
	"testing"

	"filedrop/internal/blob"
	"filedrop/internal/database"
)

// NewTestBlobStore creates an in-memory blob store for testing.
func NewTestBlobStore() *blob.MemoryStore {
	return blob.NewMemoryStore(FixedClock())
}

// NewTestMetadataStore creates an in-memory SQLite store with the schema
// applied. The store is closed when the test completes.
func NewTestMetadataStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", FixedClock())
	if err != nil {
		t.Fatalf("failed to open metadata store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
