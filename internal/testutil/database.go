package testutil

import (
	"testing"

	"gliderdac/internal/database"
	"gliderdac/internal/dac"
)

// NewTestStore creates a new in-memory SQLite deployment store with all
// migrations applied. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

var _ dac.DeploymentStore = (*database.SQLiteStore)(nil)
