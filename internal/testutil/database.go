package testutil

import (
	"testing"
	"time"

	"pdrb/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with migrations applied.
// Dates are stored in UTC. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", time.UTC)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
