package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/Mathweuzz/Andorinha-Jobs/db"
)

// CreateTestDB creates a migrated SQLite test database in a per-test temp
// directory. A file-backed database (rather than :memory:) is used so that
// every pooled connection sees the same schema.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "andorinha_test.db")
	database, err := db.OpenWithMigrations(path, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}
