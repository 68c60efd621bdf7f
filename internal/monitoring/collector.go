// Package monitoring summarizes orchestrator run history into health metrics.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brookslogan/nowcast-template/internal/store"
)

// SensorMetrics aggregates the runs of one sensor within the window.
type SensorMetrics struct {
	Runs     int     `json:"runs"`
	Upserts  int     `json:"upserts"`
	Skips    int     `json:"skips"`
	SkipRate float64 `json:"skip_rate"`
}

// MetricsSnapshot holds a point-in-time view of fitting health.
type MetricsSnapshot struct {
	RunsTotal   int     `json:"runs_total"`
	Upserts     int     `json:"upserts"`
	Skips       int     `json:"skips"`
	SkipRate    float64 `json:"skip_rate"`
	LastRunAt   string  `json:"last_run_at,omitempty"`
	LatestWeek  string  `json:"latest_week,omitempty"`
	LookbackHrs int     `json:"lookback_hours"`

	BySensor map[string]SensorMetrics `json:"by_sensor"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run records.
type Collector struct {
	store store.Store
}

// NewCollector creates a metrics collector over the given store.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect summarizes the orchestrator runs of the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHrs: lookbackHours,
		BySensor:    make(map[string]SensorMetrics),
		CollectedAt: time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		StartedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		snap.Upserts += r.Upserts
		snap.Skips += r.Skips

		m := snap.BySensor[r.Name]
		m.Runs++
		m.Upserts += r.Upserts
		m.Skips += r.Skips
		snap.BySensor[r.Name] = m

		if snap.LastRunAt == "" || r.StartedAt.Format(time.RFC3339) > snap.LastRunAt {
			snap.LastRunAt = r.StartedAt.Format(time.RFC3339)
		}
		if snap.LatestWeek == "" || r.LastWeek.String() > snap.LatestWeek {
			snap.LatestWeek = r.LastWeek.String()
		}
	}

	snap.SkipRate = skipRate(snap.Upserts, snap.Skips)
	for name, m := range snap.BySensor {
		m.SkipRate = skipRate(m.Upserts, m.Skips)
		snap.BySensor[name] = m
	}
	return snap, nil
}

func skipRate(upserts, skips int) float64 {
	if upserts+skips == 0 {
		return 0
	}
	return float64(skips) / float64(upserts+skips)
}
