package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/fireflydesigns/meowbot/db"
)

// SetupTestDB opens a throwaway sqlite database under t.TempDir() and runs
// the embedded-SQL migration. The file is removed with the temp dir when the
// test finishes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meow_test.db")
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(t.Context(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}
