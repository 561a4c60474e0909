package testutil

import (
	"path/filepath"
	"testing"

	"dms-go/internal/database"
)

// NewTestStore creates a migrated in-memory SQLite store. It is closed when
// the test completes.
func NewTestStore(t *testing.T) *database.SQLStore {
	t.Helper()
	return openTestStore(t, ":memory:")
}

// NewFileTestStore creates a migrated SQLite store in a file under
// t.TempDir(), for tests that race transactions against each other.
func NewFileTestStore(t *testing.T) *database.SQLStore {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "dms.db"))
}

func openTestStore(t *testing.T, path string) *database.SQLStore {
	t.Helper()

	store, err := database.OpenSQLite(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})
	return store
}
