package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/dailyix/errors"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store reads and writes the catalog tables.
type Store struct {
	db  DBTX
	now func() time.Time
}

// New creates a store over a database handle or transaction.
func New(db DBTX) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a store whose statements run inside tx.
//
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//	outcome, err := store.WithTx(tx).UpsertDaily(ctx, daily)
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, now: s.now}
}

const dailyColumns = `id, unleash_id, name, description, duration_minutes, effort,
		category, step_by_step_guide, scientific_explanation,
		detailed_health_benefit, guide, tools, science_rating,
		goal_match_percentage, coaching, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDaily(row rowScanner) (*Daily, error) {
	var (
		d                                                  Daily
		description, category, stepByStep, scientific      sql.NullString
		benefit, guide, scienceRating, goalMatch, coaching sql.NullString
		tools                                              string
	)
	err := row.Scan(
		&d.ID, &d.UnleashID, &d.Name, &description, &d.DurationMinutes, &d.Effort,
		&category, &stepByStep, &scientific,
		&benefit, &guide, &tools, &scienceRating,
		&goalMatch, &coaching, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Description = description.String
	d.Category = category.String
	d.StepByStepGuide = stepByStep.String
	d.ScientificExplanation = scientific.String
	d.DetailedHealthBenefit = benefit.String
	d.Guide = guide.String
	d.ScienceRating = scienceRating.String
	d.GoalMatchPercentage = goalMatch.String
	d.Coaching = coaching.String
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(tools), &d.Tools); err != nil {
		return nil, errors.Wrapf(err, "daily %s has unreadable tools %q", d.UnleashID, tools)
	}
	if d.Tools == nil {
		d.Tools = []string{}
	}
	return &d, nil
}

// FindDailyByUnleashID returns the daily with the natural key, or nil when none exists.
func (s *Store) FindDailyByUnleashID(ctx context.Context, unleashID string) (*Daily, error) {
	query := `SELECT ` + dailyColumns + ` FROM dailies WHERE unleash_id = ?`

	d, err := scanDaily(s.db.QueryRowContext(ctx, query, unleashID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find daily %s", unleashID)
	}
	return d, nil
}

// GetDaily returns a daily by storage id.
func (s *Store) GetDaily(ctx context.Context, id int64) (*Daily, error) {
	query := `SELECT ` + dailyColumns + ` FROM dailies WHERE id = ?`

	d, err := scanDaily(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("daily %d not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get daily %d", id)
	}
	return d, nil
}

// ListDailies returns dailies ordered by name. limit <= 0 means all.
func (s *Store) ListDailies(ctx context.Context, limit int) ([]*Daily, error) {
	query := `SELECT ` + dailyColumns + ` FROM dailies ORDER BY name, id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dailies")
	}
	defer rows.Close()

	var dailies []*Daily
	for rows.Next() {
		d, err := scanDaily(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan daily")
		}
		dailies = append(dailies, d)
	}
	return dailies, errors.Wrap(rows.Err(), "failed to iterate dailies")
}

// UpsertDaily writes d keyed by its unleash id and sets d.ID.
// A daily whose stored content already matches is left untouched,
// so re-importing the same row does not move updated_at.
func (s *Store) UpsertDaily(ctx context.Context, d *Daily) (UpsertOutcome, error) {
	if err := d.Validate(); err != nil {
		return Unchanged, err
	}

	existing, err := s.FindDailyByUnleashID(ctx, d.UnleashID)
	if err != nil {
		return Unchanged, err
	}
	if existing != nil && existing.SameContent(d) {
		d.ID = existing.ID
		d.CreatedAt = existing.CreatedAt
		d.UpdatedAt = existing.UpdatedAt
		return Unchanged, nil
	}

	tools := d.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return Unchanged, errors.Wrapf(err, "failed to encode tools for daily %s", d.UnleashID)
	}

	now := s.now()
	query := `
		INSERT INTO dailies (
			unleash_id, name, description, duration_minutes, effort,
			category, step_by_step_guide, scientific_explanation,
			detailed_health_benefit, guide, tools, science_rating,
			goal_match_percentage, coaching, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unleash_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			duration_minutes = excluded.duration_minutes,
			effort = excluded.effort,
			category = excluded.category,
			step_by_step_guide = excluded.step_by_step_guide,
			scientific_explanation = excluded.scientific_explanation,
			detailed_health_benefit = excluded.detailed_health_benefit,
			guide = excluded.guide,
			tools = excluded.tools,
			science_rating = excluded.science_rating,
			goal_match_percentage = excluded.goal_match_percentage,
			coaching = excluded.coaching,
			updated_at = excluded.updated_at
		RETURNING id`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		d.UnleashID,
		d.Name,
		nullString(d.Description),
		d.DurationMinutes,
		d.Effort,
		nullString(d.Category),
		nullString(d.StepByStepGuide),
		nullString(d.ScientificExplanation),
		nullString(d.DetailedHealthBenefit),
		nullString(d.Guide),
		string(toolsJSON),
		nullString(d.ScienceRating),
		nullString(d.GoalMatchPercentage),
		nullString(d.Coaching),
		now,
		now,
	).Scan(&id)
	if err != nil {
		return Unchanged, errors.Wrapf(err, "failed to upsert daily %s", d.UnleashID)
	}

	d.ID = id
	d.UpdatedAt = now
	if existing != nil {
		d.CreatedAt = existing.CreatedAt
		return Updated, nil
	}
	d.CreatedAt = now
	return Created, nil
}

// FindDailyIDByName returns the id of the oldest daily with exactly this name.
func (s *Store) FindDailyIDByName(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM dailies WHERE name = ? ORDER BY id LIMIT 1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "failed to find daily named %q", name)
	}
	return id, true, nil
}

// ClearDailyPillars removes every pillar link of a daily and returns how many went.
func (s *Store) ClearDailyPillars(ctx context.Context, dailyID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM daily_health_pillars WHERE daily_id = ?`, dailyID)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to clear pillars of daily %d", dailyID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read cleared link count")
	}
	return n, nil
}

// LinkPillar links a daily to a pillar. It reports false when the pair
// was already linked, leaving the existing link as it was.
func (s *Store) LinkPillar(ctx context.Context, dailyID, pillarID int64, quartile *int) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO daily_health_pillars (daily_id, health_pillar_id, quartile, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		dailyID, pillarID, nullInt(quartile), now, now)
	if err != nil {
		return false, errors.Wrapf(err, "failed to link daily %d to pillar %d", dailyID, pillarID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read link count")
	}
	return n == 1, nil
}

// PillarNamesForDaily lists the names of pillars linked to a daily, sorted.
func (s *Store) PillarNamesForDaily(ctx context.Context, dailyID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hp.name
		FROM daily_health_pillars dhp
		JOIN health_pillars hp ON hp.id = dhp.health_pillar_id
		WHERE dhp.daily_id = ?
		ORDER BY hp.name`, dailyID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list pillars of daily %d", dailyID)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "failed to scan pillar name")
		}
		names = append(names, name)
	}
	return names, errors.Wrap(rows.Err(), "failed to iterate pillar names")
}

// Snapshot enumerates every pillar once into a name to id map.
func (s *Store) Snapshot(ctx context.Context) (PillarSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM health_pillars`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot health pillars")
	}
	defer rows.Close()

	snap := PillarSnapshot{}
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.Wrap(err, "failed to scan health pillar")
		}
		snap[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate health pillars")
	}
	return snap, nil
}

// EnsurePillar returns the pillar with name, creating it when absent.
// An existing pillar keeps its description.
func (s *Store) EnsurePillar(ctx context.Context, name, description string) (*HealthPillar, bool, error) {
	if name == "" {
		return nil, false, errors.NewInvalidRequestError("health pillar name can't be blank")
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO health_pillars (name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, nullString(description), now, now)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to create health pillar %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read pillar insert count")
	}

	var (
		p    HealthPillar
		desc sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM health_pillars WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &desc, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read health pillar %q", name)
	}
	p.Description = desc.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, n == 1, nil
}

// ListPillars returns all pillars ordered by name.
func (s *Store) ListPillars(ctx context.Context) ([]*HealthPillar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM health_pillars ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list health pillars")
	}
	defer rows.Close()

	var pillars []*HealthPillar
	for rows.Next() {
		var (
			p    HealthPillar
			desc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Name, &desc, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan health pillar")
		}
		p.Description = desc.String
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		pillars = append(pillars, &p)
	}
	return pillars, errors.Wrap(rows.Err(), "failed to iterate health pillars")
}

// Counts is a size summary of the catalog.
type Counts struct {
	Dailies int `json:"dailies"`
	Pillars int `json:"health_pillars"`
	Links   int `json:"daily_health_pillars"`
}

// Counts returns row counts for the three catalog tables.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM dailies),
			(SELECT COUNT(*) FROM health_pillars),
			(SELECT COUNT(*) FROM daily_health_pillars)`).
		Scan(&c.Dailies, &c.Pillars, &c.Links)
	if err != nil {
		return Counts{}, errors.Wrap(err, "failed to count catalog rows")
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
