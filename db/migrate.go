package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/dailyix/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded NNN_name.sql file.
type migration struct {
	version  string
	filename string
	body     string
}

// loadMigrations returns the embedded migrations ordered by version.
// Two files sharing a version prefix is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}

	var out []migration
	seen := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", name)
		}
		if prev, dup := seen[version]; dup {
			return nil, errors.Newf("migrations %s and %s share version %s", prev, name, version)
		}
		seen[version] = name

		body, err := fs.ReadFile(fsys, migrationsDir+"/"+name)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		out = append(out, migration{version: version, filename: name, body: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// appliedVersions reads schema_migrations. A missing table means nothing
// has been applied yet.
func appliedVersions(db *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	var hasTable int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&hasTable)
	if err != nil {
		return nil, errors.Wrap(err, "inspect schema_migrations")
	}
	if hasTable == 0 {
		return applied, nil
	}

	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs m and records its version in one transaction.
func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.filename)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.body); err != nil {
		return errors.Wrapf(err, "execute %s", m.filename)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.filename)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "commit %s", m.filename)
	}
	return nil
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations. logger may be nil.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	all, err := loadMigrations(migrations)
	if err != nil {
		return err
	}
	done, err := appliedVersions(db)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range all {
		if done[m.version] {
			continue
		}
		if logger != nil {
			logger.Infow("Applying migration", "migration", m.filename, "version", m.version)
		}
		if err := apply(db, m); err != nil {
			return err
		}
		applied++
	}

	if logger != nil {
		logger.Infow("Migrations complete", "total_migrations", len(all), "applied", applied)
	}
	return nil
}
