package testutil

import (
	"path/filepath"
	"testing"

	"dircheck/internal/database"
)

// NewTestStore creates a migrated SQLite store in a temporary directory.
// A file is used rather than :memory: so the pool can hold several
// connections, as it does in production. The store is closed when the test
// completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	if err := store.MigrateUp(); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	return store
}
