package tabular

import (
	"context"

	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/errors"
)

// rowOutcome is what reconciling one row did.
type rowOutcome struct {
	Skipped       bool // blank key, neither processed nor an error
	Upsert        catalog.UpsertOutcome
	Relationships int
	MissingParent string
}

// buildDaily applies rec on top of existing, or on a new daily when
// existing is nil. Optional columns only overwrite when they carry a value.
func buildDaily(rec DailyRecord, existing *catalog.Daily) *catalog.Daily {
	var d *catalog.Daily
	if existing != nil {
		d = existing.Clone()
	} else {
		d = &catalog.Daily{UnleashID: rec.UnleashID}
	}

	d.Name = rec.Name
	d.Description = rec.Description
	d.DurationMinutes = rec.DurationMinutes
	d.Effort = rec.Effort
	d.DetailedHealthBenefit = rec.DetailedHealthBenefit
	d.Guide = rec.Guide
	d.Tools = rec.Tools
	d.Coaching = rec.Coaching

	if rec.ScienceRating != nil {
		d.ScienceRating = *rec.ScienceRating
	}
	if rec.GoalMatchPercentage != nil {
		d.GoalMatchPercentage = *rec.GoalMatchPercentage
	}
	if rec.Category != nil {
		d.Category = *rec.Category
	}
	if rec.StepByStepGuide != nil {
		d.StepByStepGuide = *rec.StepByStepGuide
	}
	if rec.ScientificExplanation != nil {
		d.ScientificExplanation = *rec.ScientificExplanation
	}
	return d
}

// upsertDaily reconciles one dailies row against the store.
// In test mode the row is looked up, built and validated but not written;
// the outcome is what a real run would have done.
func upsertDaily(ctx context.Context, store *catalog.Store, rec DailyRecord, testMode bool) (rowOutcome, error) {
	if rec.UnleashID == "" {
		return rowOutcome{Skipped: true}, nil
	}

	existing, err := store.FindDailyByUnleashID(ctx, rec.UnleashID)
	if err != nil {
		return rowOutcome{}, err
	}
	d := buildDaily(rec, existing)

	if testMode {
		if err := d.Validate(); err != nil {
			return rowOutcome{}, errors.Wrapf(err, "daily %s", rec.UnleashID)
		}
		switch {
		case existing == nil:
			return rowOutcome{Upsert: catalog.Created}, nil
		case existing.SameContent(d):
			return rowOutcome{Upsert: catalog.Unchanged}, nil
		default:
			return rowOutcome{Upsert: catalog.Updated}, nil
		}
	}

	outcome, err := store.UpsertDaily(ctx, d)
	if err != nil {
		return rowOutcome{}, errors.Wrapf(err, "daily %s", rec.UnleashID)
	}
	return rowOutcome{Upsert: outcome}, nil
}
