package testing

import (
	"database/sql"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/teranos/dailyix/db"
)

// CreateTestDB creates a migrated in-memory SQLite database.
// The pool holds a single connection; cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	testDB, err := db.OpenWithMigrations(":memory:", zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		testDB.Close()
	})

	return testDB
}

// SeedPillar inserts a health pillar and returns its id.
func SeedPillar(t *testing.T, testDB *sql.DB, name string) int64 {
	t.Helper()

	res, err := testDB.Exec(`INSERT INTO health_pillars (name, created_at, updated_at)
		VALUES (?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, name)
	if err != nil {
		t.Fatalf("Failed to seed pillar %q: %v", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read pillar id: %v", err)
	}
	return id
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, testDB *sql.DB, table string) int {
	t.Helper()

	var n int
	if err := testDB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}
