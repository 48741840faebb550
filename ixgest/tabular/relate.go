package tabular

import (
	"context"

	"github.com/teranos/dailyix/catalog"
	"github.com/teranos/dailyix/errors"
)

// syncRelationships rebuilds one daily's pillar links from a relationship row.
//
// A blank parent is skipped. A parent that does not exist is reported
// through MissingParent and is neither processed nor an error. Targets
// absent from snap are ignored.
func syncRelationships(ctx context.Context, store *catalog.Store, rec PillarRecord, snap catalog.PillarSnapshot, clearExisting, testMode bool) (rowOutcome, error) {
	if rec.DailyName == "" {
		return rowOutcome{Skipped: true}, nil
	}

	dailyID, found, err := store.FindDailyIDByName(ctx, rec.DailyName)
	if err != nil {
		return rowOutcome{}, err
	}
	if !found {
		return rowOutcome{MissingParent: rec.DailyName}, nil
	}

	if testMode {
		return rowOutcome{}, nil
	}

	if clearExisting {
		if _, err := store.ClearDailyPillars(ctx, dailyID); err != nil {
			return rowOutcome{}, err
		}
	}

	created := 0
	for _, link := range rec.Links {
		pillarID, ok := snap.Lookup(link.Target)
		if !ok {
			continue
		}
		linked, err := store.LinkPillar(ctx, dailyID, pillarID, link.Quartile)
		if err != nil {
			return rowOutcome{}, errors.Wrapf(err, "daily %q", rec.DailyName)
		}
		if linked {
			created++
		}
	}
	return rowOutcome{Relationships: created}, nil
}
