package catalog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dailyix/errors"
	dxtest "github.com/teranos/dailyix/internal/testing"
)

func sampleDaily(unleashID string) *Daily {
	return &Daily{
		UnleashID:       unleashID,
		Name:            "Morning walk",
		Description:     "Walk outside after waking",
		DurationMinutes: 20,
		Effort:          2,
		Guide:           "Leave the phone at home",
		Tools:           []string{"shoes", "water"},
	}
}

func TestUpsertDailyCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	db := dxtest.CreateTestDB(t)
	store := New(db)

	d := sampleDaily("U-1")
	outcome, err := store.UpsertDaily(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, Created, outcome)
	assert.NotZero(t, d.ID)

	changed := sampleDaily("U-1")
	changed.Effort = 4
	changed.Tools = []string{"shoes"}
	outcome, err = store.UpsertDaily(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, Updated, outcome)
	assert.Equal(t, d.ID, changed.ID)

	got, err := store.FindDailyByUnleashID(ctx, "U-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Effort)
	assert.Equal(t, []string{"shoes"}, got.Tools)
	assert.Equal(t, "Leave the phone at home", got.Guide)
	assert.Empty(t, got.Coaching)

	assert.Equal(t, 1, dxtest.CountRows(t, db, "dailies"))
}

func TestUpsertDailyIdenticalContentIsUnchanged(t *testing.T) {
	ctx := context.Background()
	db := dxtest.CreateTestDB(t)
	store := New(db)

	first := sampleDaily("U-2")
	_, err := store.UpsertDaily(ctx, first)
	require.NoError(t, err)

	again := sampleDaily("U-2")
	outcome, err := store.UpsertDaily(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, first.UpdatedAt.Equal(again.UpdatedAt))
}

func TestUpsertDailyRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := New(dxtest.CreateTestDB(t))

	tests := []struct {
		name   string
		mutate func(d *Daily)
		want   string
	}{
		{name: "blank name", mutate: func(d *Daily) { d.Name = "  " }, want: "name can't be blank"},
		{name: "effort too low", mutate: func(d *Daily) { d.Effort = 0 }, want: "effort must be in 1..5"},
		{name: "effort too high", mutate: func(d *Daily) { d.Effort = 6 }, want: "effort must be in 1..5"},
		{name: "negative duration", mutate: func(d *Daily) { d.DurationMinutes = -5 }, want: "duration must be zero or greater"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDaily("U-bad")
			tt.mutate(d)

			_, err := store.UpsertDaily(ctx, d)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsInvalidRequestError(err))
		})
	}
}

func TestFindDailyByUnleashIDMissing(t *testing.T) {
	store := New(dxtest.CreateTestDB(t))

	d, err := store.FindDailyByUnleashID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestGetDailyNotFound(t *testing.T) {
	store := New(dxtest.CreateTestDB(t))

	_, err := store.GetDaily(context.Background(), 42)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestFindDailyIDByNamePicksOldest(t *testing.T) {
	ctx := context.Background()
	store := New(dxtest.CreateTestDB(t))

	a := sampleDaily("U-a")
	a.Name = "Stretch"
	b := sampleDaily("U-b")
	b.Name = "Stretch"
	_, err := store.UpsertDaily(ctx, a)
	require.NoError(t, err)
	_, err = store.UpsertDaily(ctx, b)
	require.NoError(t, err)

	id, ok, err := store.FindDailyIDByName(ctx, "Stretch")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a.ID, id)

	_, ok, err = store.FindDailyIDByName(ctx, "stretch")
	require.NoError(t, err)
	assert.False(t, ok, "name lookup is exact")
}

func TestLinkAndClearPillars(t *testing.T) {
	ctx := context.Background()
	db := dxtest.CreateTestDB(t)
	store := New(db)

	sleep := dxtest.SeedPillar(t, db, "Sleep")
	move := dxtest.SeedPillar(t, db, "Movement")

	d := sampleDaily("U-3")
	_, err := store.UpsertDaily(ctx, d)
	require.NoError(t, err)

	created, err := store.LinkPillar(ctx, d.ID, sleep, nil)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.LinkPillar(ctx, d.ID, sleep, nil)
	require.NoError(t, err)
	assert.False(t, created, "duplicate pair is ignored")

	q := 3
	created, err = store.LinkPillar(ctx, d.ID, move, &q)
	require.NoError(t, err)
	assert.True(t, created)

	names, err := store.PillarNamesForDaily(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Movement", "Sleep"}, names)

	removed, err := store.ClearDailyPillars(ctx, d.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
	assert.Equal(t, 0, dxtest.CountRows(t, db, "daily_health_pillars"))
}

func TestSnapshotAndEnsurePillar(t *testing.T) {
	ctx := context.Background()
	store := New(dxtest.CreateTestDB(t))

	p, created, err := store.EnsurePillar(ctx, "Nutrition", "Food and drink")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.EnsurePillar(ctx, "Nutrition", "other text")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)
	assert.Equal(t, "Food and drink", again.Description)

	_, _, err = store.EnsurePillar(ctx, "Sleep", "")
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	id, ok := snap.Lookup("Nutrition")
	assert.True(t, ok)
	assert.Equal(t, p.ID, id)
	_, ok = snap.Lookup("nutrition")
	assert.False(t, ok)

	pillars, err := store.ListPillars(ctx)
	require.NoError(t, err)
	require.Len(t, pillars, 2)
	assert.Equal(t, "Nutrition", pillars[0].Name)
	assert.Equal(t, "Sleep", pillars[1].Name)

	_, _, err = store.EnsurePillar(ctx, "", "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestWithTxRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	db := dxtest.CreateTestDB(t)
	store := New(db)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = store.WithTx(tx).UpsertDaily(ctx, sampleDaily("U-tx"))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
}

func TestListDailies(t *testing.T) {
	ctx := context.Background()
	store := New(dxtest.CreateTestDB(t))

	for _, id := range []string{"U-c", "U-a", "U-b"} {
		d := sampleDaily(id)
		d.Name = "Daily " + id
		_, err := store.UpsertDaily(ctx, d)
		require.NoError(t, err)
	}

	all, err := store.ListDailies(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "U-a", all[0].UnleashID)

	limited, err := store.ListDailies(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLinkPillarSQL(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectExec(`INSERT OR IGNORE INTO daily_health_pillars`).
		WithArgs(int64(7), int64(9), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := New(mockDB).LinkPillar(context.Background(), 7, 9, nil)
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}
