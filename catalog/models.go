// Package catalog persists dailies, health pillars and the links between them.
package catalog

import (
	"strings"
	"time"

	"github.com/teranos/dailyix/errors"
)

// Daily is one habit, keyed by its stable unleash id.
// Blank text fields are stored as NULL.
type Daily struct {
	ID                    int64     `json:"id"`
	UnleashID             string    `json:"unleash_id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	DurationMinutes       int       `json:"duration_minutes"`
	Effort                int       `json:"effort"`
	Category              string    `json:"category,omitempty"`
	StepByStepGuide       string    `json:"step_by_step_guide,omitempty"`
	ScientificExplanation string    `json:"scientific_explanation,omitempty"`
	DetailedHealthBenefit string    `json:"detailed_health_benefit,omitempty"`
	Guide                 string    `json:"guide,omitempty"`
	Tools                 []string  `json:"tools"`
	ScienceRating         string    `json:"science_rating,omitempty"`
	GoalMatchPercentage   string    `json:"goal_match_percentage,omitempty"`
	Coaching              string    `json:"coaching,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Effort bounds accepted by Validate.
const (
	MinEffort = 1
	MaxEffort = 5
)

// Validate checks the constraints every stored daily satisfies.
func (d *Daily) Validate() error {
	switch {
	case strings.TrimSpace(d.UnleashID) == "":
		return errors.NewInvalidRequestError("unleash id can't be blank")
	case strings.TrimSpace(d.Name) == "":
		return errors.NewInvalidRequestError("name can't be blank")
	case d.DurationMinutes < 0:
		return errors.NewInvalidRequestError("duration must be zero or greater, got %d", d.DurationMinutes)
	case d.Effort < MinEffort || d.Effort > MaxEffort:
		return errors.NewInvalidRequestError("effort must be in %d..%d, got %d", MinEffort, MaxEffort, d.Effort)
	}
	return nil
}

// SameContent reports whether two dailies would persist identically.
// Ids and timestamps are ignored.
func (d *Daily) SameContent(o *Daily) bool {
	if len(d.Tools) != len(o.Tools) {
		return false
	}
	for i := range d.Tools {
		if d.Tools[i] != o.Tools[i] {
			return false
		}
	}
	return d.UnleashID == o.UnleashID &&
		d.Name == o.Name &&
		d.Description == o.Description &&
		d.DurationMinutes == o.DurationMinutes &&
		d.Effort == o.Effort &&
		d.Category == o.Category &&
		d.StepByStepGuide == o.StepByStepGuide &&
		d.ScientificExplanation == o.ScientificExplanation &&
		d.DetailedHealthBenefit == o.DetailedHealthBenefit &&
		d.Guide == o.Guide &&
		d.ScienceRating == o.ScienceRating &&
		d.GoalMatchPercentage == o.GoalMatchPercentage &&
		d.Coaching == o.Coaching
}

// Clone returns a deep copy.
func (d *Daily) Clone() *Daily {
	c := *d
	c.Tools = append([]string(nil), d.Tools...)
	return &c
}

// HealthPillar is a relationship target, unique by name.
type HealthPillar struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DailyHealthPillar links a daily to a pillar.
type DailyHealthPillar struct {
	ID             int64     `json:"id"`
	DailyID        int64     `json:"daily_id"`
	HealthPillarID int64     `json:"health_pillar_id"`
	Quartile       *int      `json:"quartile,omitempty"` // 1..4 when set
	CreatedAt      time.Time `json:"created_at"`
}

// PillarSnapshot maps pillar name to id.
// Taken once per import and never refreshed while the import runs.
type PillarSnapshot map[string]int64

// Lookup returns the pillar id for an exact name.
func (s PillarSnapshot) Lookup(name string) (int64, bool) {
	id, ok := s[name]
	return id, ok
}

// UpsertOutcome says what UpsertDaily did with a record.
type UpsertOutcome int

const (
	Unchanged UpsertOutcome = iota
	Created
	Updated
)

func (o UpsertOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}
