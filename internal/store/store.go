package store

import (
	"context"
	"time"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// Reading is one fitted sensor value for a (target, name, location, epiweek)
// key. Re-running a fit for the same key replaces the stored value.
type Reading struct {
	Target   string       `json:"target"`
	Name     string       `json:"name"`
	Location string       `json:"location"`
	Epiweek  epiweek.Week `json:"epiweek"`
	Value    float64      `json:"value"`
}

// Truth is one ground-truth observation for a (target, location, epiweek) key.
type Truth struct {
	Target   string       `json:"target"`
	Location string       `json:"location"`
	Epiweek  epiweek.Week `json:"epiweek"`
	Value    float64      `json:"value"`
}

// ReadingFilter specifies criteria for listing readings. Zero fields match
// everything.
type ReadingFilter struct {
	Target   string       `json:"target,omitempty"`
	Name     string       `json:"name,omitempty"`
	Location string       `json:"location,omitempty"`
	From     epiweek.Week `json:"from,omitempty"`
	To       epiweek.Week `json:"to,omitempty"`
	Limit    int          `json:"limit,omitempty"`
}

// RunRecord summarizes one orchestrator invocation for auditability.
type RunRecord struct {
	ID         string       `json:"id"`
	Target     string       `json:"target"`
	Name       string       `json:"name"`
	Location   string       `json:"location"`
	FirstWeek  epiweek.Week `json:"first_week"`
	LastWeek   epiweek.Week `json:"last_week"`
	Upserts    int          `json:"upserts"`
	Skips      int          `json:"skips"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// RunFilter specifies criteria for listing run records.
type RunFilter struct {
	Target       string    `json:"target,omitempty"`
	Name         string    `json:"name,omitempty"`
	StartedAfter time.Time `json:"started_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
}

// Session is a transactional view of the store. Nothing written through a
// Session is visible to other readers until Commit; Rollback discards it all,
// which is how dry runs exercise the full write path without persisting.
type Session interface {
	UpsertReading(ctx context.Context, r Reading) error
	UpsertTruth(ctx context.Context, t Truth) error
	RecordRun(ctx context.Context, rec RunRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store defines the persistence interface for sensor readings and truth.
type Store interface {
	Begin(ctx context.Context) (Session, error)

	ListReadings(ctx context.Context, filter ReadingFilter) ([]Reading, error)
	ListTruth(ctx context.Context, target, location string, from, to epiweek.Week) ([]Truth, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)

	// MostRecentEpiweek reports the latest epiweek with a stored reading for
	// the key, or ok=false when the key has no readings yet.
	MostRecentEpiweek(ctx context.Context, target, name, location string) (epiweek.Week, bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
