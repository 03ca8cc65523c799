// Package testing provides testing utilities and helpers for the studio.
package testing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/botstudio/internal/clientdata"
	"github.com/aristath/botstudio/internal/database"
)

// NewTestDB creates a file-backed SQLite database in a temporary directory
// with the client data schema applied. Returns the database instance and a
// cleanup function that closes the connection. The cleanup function is
// idempotent and can be called multiple times safely.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "botstudio_test_*")
	if err != nil {
		t.Fatalf("Failed to create temporary directory: %v", err)
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Profile: database.ProfileCache,
		Name:    name,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(context.Background(), clientdata.Schema); err != nil {
		_ = db.Close()
		_ = os.RemoveAll(dir)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		if err := os.RemoveAll(dir); err != nil {
			t.Logf("Warning: Failed to remove temporary directory %s: %v", dir, err)
		}
	}
}
