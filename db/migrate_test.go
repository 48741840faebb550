package db

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestOpenWithMigrations(t *testing.T) {
	t.Run("creates every table", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{
			"schema_migrations",
			"dailies",
			"health_pillars",
			"daily_health_pillars",
			"pulse_jobs",
			"file_uploads",
		} {
			assert.True(t, tableExists(t, db, table), "table %s should exist", table)
		}

		var versions int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
		assert.Equal(t, 6, versions)
	})

	t.Run("reopening applies nothing twice", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		first, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		require.NoError(t, first.Close())

		second, err := OpenWithMigrations(dbPath, nil)
		require.NoError(t, err)
		defer second.Close()

		var versions int
		require.NoError(t, second.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
		assert.Equal(t, 6, versions)
	})

	t.Run("conflicting schema surfaces a wrapped error", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		raw, err := Open(dbPath, nil)
		require.NoError(t, err)
		_, err = raw.Exec("CREATE TABLE dailies (id INTEGER PRIMARY KEY)")
		require.NoError(t, err)
		require.NoError(t, raw.Close())

		db, err := OpenWithMigrations(dbPath, nil)
		require.Error(t, err)
		assert.Nil(t, db)
		assert.Contains(t, err.Error(), "failed to run migrations")
		assert.Contains(t, err.Error(), "001_create_dailies.sql")
	})
}

func TestMigratedSchemaConstraints(t *testing.T) {
	db, err := OpenWithMigrations(":memory:", nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO dailies (unleash_id, name, created_at, updated_at)
		VALUES ('u-1', 'Walk', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.NoError(t, err)

	t.Run("unleash_id is unique", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO dailies (unleash_id, name, created_at, updated_at)
			VALUES ('u-1', 'Other', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		assert.Error(t, err)
	})

	t.Run("links require existing rows", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO daily_health_pillars (daily_id, health_pillar_id, created_at, updated_at)
			VALUES (1, 999, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		assert.Error(t, err)
	})

	t.Run("quartile is bounded", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO health_pillars (name, created_at, updated_at)
			VALUES ('Sleep', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		require.NoError(t, err)

		_, err = db.Exec(`INSERT INTO daily_health_pillars (daily_id, health_pillar_id, quartile, created_at, updated_at)
			VALUES (1, 1, 5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		assert.Error(t, err)
	})

	t.Run("deleting a daily cascades to links", func(t *testing.T) {
		_, err := db.Exec(`INSERT INTO daily_health_pillars (daily_id, health_pillar_id, created_at, updated_at)
			VALUES (1, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
		require.NoError(t, err)

		_, err = db.Exec("DELETE FROM dailies WHERE id = 1")
		require.NoError(t, err)

		var links int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM daily_health_pillars").Scan(&links))
		assert.Equal(t, 0, links)
	})
}

func TestLoadMigrations(t *testing.T) {
	t.Run("embedded files are ordered by version", func(t *testing.T) {
		all, err := loadMigrations(migrations)
		require.NoError(t, err)
		require.Len(t, all, 6)
		assert.Equal(t, "000", all[0].version)
		assert.Equal(t, "005_create_file_uploads.sql", all[5].filename)
	})

	t.Run("duplicate versions are rejected", func(t *testing.T) {
		fsys := fstest.MapFS{
			"sqlite/migrations/001_a.sql": {Data: []byte("SELECT 1;")},
			"sqlite/migrations/001_b.sql": {Data: []byte("SELECT 1;")},
		}
		_, err := loadMigrations(fsys)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "share version 001")
	})

	t.Run("files without a prefix are rejected", func(t *testing.T) {
		fsys := fstest.MapFS{"sqlite/migrations/init.sql": {Data: []byte("SELECT 1;")}}
		_, err := loadMigrations(fsys)
		require.Error(t, err)
	})
}
