package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/teranos/dailyix/am"
	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/db"
	"github.com/teranos/dailyix/errors"
	"github.com/teranos/dailyix/ixgest/orchestrator"
	"github.com/teranos/dailyix/ixgest/tabular"
	"github.com/teranos/dailyix/logger"
	"github.com/teranos/dailyix/pulse/async"
	"github.com/teranos/dailyix/uploads"
)

// JSONOutput switches command output to JSON. Bound to the root --json flag.
var JSONOutput bool

// app bundles what most commands need.
type app struct {
	cfg          *am.Config
	db           *sql.DB
	queue        *async.Queue
	pipeline     *tabular.Pipeline
	orchestrator *orchestrator.Orchestrator
	uploads      *uploads.Store
}

// openApp loads config and opens the migrated database.
func openApp() (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	database, err := openDatabase("")
	if err != nil {
		return nil, err
	}

	queue := async.NewQueue(database)
	stager := tabular.NewStager(cfg.Staging.TempDir, cfg.Staging.S3Region, logger.Logger.Named("stage"))
	return &app{
		cfg:          cfg,
		db:           database,
		queue:        queue,
		pipeline:     tabular.NewPipeline(database, stager, cfg.Import, logger.Logger),
		orchestrator: orchestrator.New(queue, cfg.Import, cfg.Pulse.MaxRetries, logger.Logger),
		uploads:      uploads.NewStore(database),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) catalog() *catalog.Store {
	return a.pipeline.Store()
}

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it comes from DB_PATH or the am config.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
