package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/store"
)

// runStore serves canned run records and captures the filter it was asked for.
type runStore struct {
	runs   []store.RunRecord
	filter store.RunFilter
}

func (s *runStore) Begin(context.Context) (store.Session, error) { return nil, nil }

func (s *runStore) ListReadings(context.Context, store.ReadingFilter) ([]store.Reading, error) {
	return nil, nil
}

func (s *runStore) ListTruth(context.Context, string, string, epiweek.Week, epiweek.Week) ([]store.Truth, error) {
	return nil, nil
}

func (s *runStore) ListRuns(_ context.Context, filter store.RunFilter) ([]store.RunRecord, error) {
	s.filter = filter
	return s.runs, nil
}

func (s *runStore) MostRecentEpiweek(context.Context, string, string, string) (epiweek.Week, bool, error) {
	return 0, false, nil
}

func (s *runStore) Migrate(context.Context) error { return nil }
func (s *runStore) Close() error                  { return nil }

func TestCollectAggregatesRuns(t *testing.T) {
	early := time.Date(2015, 3, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2015, 3, 1, 14, 0, 0, 0, time.UTC)
	st := &runStore{runs: []store.RunRecord{
		{Name: "isch", Upserts: 10, Skips: 0, StartedAt: late, LastWeek: 201512},
		{Name: "isch", Upserts: 5, Skips: 5, StartedAt: early, LastWeek: 201510},
		{Name: "ght", Upserts: 0, Skips: 10, StartedAt: early, LastWeek: 201511},
	}}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 15, snap.Upserts)
	assert.Equal(t, 15, snap.Skips)
	assert.InDelta(t, 0.5, snap.SkipRate, 1e-9)
	assert.Equal(t, late.Format(time.RFC3339), snap.LastRunAt)
	assert.Equal(t, "201512", snap.LatestWeek)
	assert.Equal(t, 24, snap.LookbackHrs)

	require.Contains(t, snap.BySensor, "isch")
	isch := snap.BySensor["isch"]
	assert.Equal(t, 2, isch.Runs)
	assert.Equal(t, 15, isch.Upserts)
	assert.InDelta(t, 0.25, isch.SkipRate, 1e-9)

	ght := snap.BySensor["ght"]
	assert.Equal(t, 1, ght.Runs)
	assert.InDelta(t, 1.0, ght.SkipRate, 1e-9)

	// The lookback window is pushed down to the store query.
	assert.WithinDuration(t, time.Now().UTC().Add(-24*time.Hour), st.filter.StartedAfter, time.Minute)
	assert.Equal(t, 10000, st.filter.Limit)
}

func TestCollectEmptyWindow(t *testing.T) {
	snap, err := NewCollector(&runStore{}).Collect(context.Background(), 6)
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.SkipRate)
	assert.Empty(t, snap.LastRunAt)
	assert.Empty(t, snap.BySensor)
}
