package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brookslogan/nowcast-template/internal/datasource"
	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/store"
)

// bootstrapWeek is where fitting starts for a (sensor, location) pair that
// has no stored readings yet.
const bootstrapWeek = epiweek.Week(201040)

// Pair names one sensor to fit at one location.
type Pair struct {
	Kind     Kind
	Location string
}

// UpdateOptions tunes one orchestrator run.
type UpdateOptions struct {
	// Target labels the signal being sensed (e.g. "ili").
	Target string
	// FirstWeek/LastWeek override the fitting range when nonzero. FirstWeek
	// otherwise resumes at the most recent stored reading, recomputing it in
	// case the upstream data changed, and LastWeek defaults to the latest
	// week the data source has truth for.
	FirstWeek epiweek.Week
	LastWeek  epiweek.Week
	// Valid requires the covariate signal to be final rather than preliminary.
	Valid bool
	// DryRun runs the full fit-and-write path in a transaction that is
	// rolled back instead of committed.
	DryRun bool
}

// Updater fits sensors over a range of weeks and persists the readings.
type Updater struct {
	store  store.Store
	fitter *Fitter
	source datasource.DataSource
}

// NewUpdater builds an Updater over the given store, fitter and data source.
func NewUpdater(st store.Store, fitter *Fitter, source datasource.DataSource) *Updater {
	return &Updater{store: st, fitter: fitter, source: source}
}

// ExpandPairs resolves the special location "all" to every location the data
// source carries sensor data for.
func (u *Updater) ExpandPairs(pairs []Pair) []Pair {
	var out []Pair
	for _, p := range pairs {
		if p.Location != "all" {
			out = append(out, p)
			continue
		}
		for _, loc := range u.source.SensorLocations() {
			out = append(out, Pair{Kind: p.Kind, Location: loc})
		}
	}
	return out
}

// Update fits every pair over its week range. A week whose fit fails with a
// recoverable error is logged and skipped; the run carries on. All writes
// happen in a single transaction so a partial run never lands.
func (u *Updater) Update(ctx context.Context, pairs []Pair, opts UpdateOptions) ([]store.Reading, error) {
	pairs = u.ExpandPairs(pairs)
	lastData := datasource.LastWeek(u.source)

	session, err := u.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Rollback(ctx) //nolint:errcheck // no-op after commit

	var readings []store.Reading
	for _, pair := range pairs {
		first, last, err := u.weekRange(ctx, pair, opts, lastData)
		if err != nil {
			return nil, err
		}
		if first > last {
			zap.L().Info("sensor up to date",
				zap.String("sensor", pair.Kind.String()),
				zap.String("location", pair.Location))
			continue
		}

		rec := store.RunRecord{
			ID:        uuid.New().String(),
			Target:    opts.Target,
			Name:      pair.Kind.String(),
			Location:  pair.Location,
			FirstWeek: first,
			LastWeek:  last,
			StartedAt: time.Now().UTC(),
		}

		for _, week := range epiweek.Range(first, last) {
			// Train on data through the week before the one being sensed.
			value, err := u.fitter.Fit(ctx, pair.Kind, pair.Location, week.Add(-1), opts.Valid)
			if err != nil {
				var fe *FitError
				if !errors.As(err, &fe) {
					return nil, err
				}
				level := zap.WarnLevel
				if !fe.Recoverable() {
					level = zap.ErrorLevel
				}
				zap.L().Log(level, "fit failed",
					zap.String("sensor", pair.Kind.String()),
					zap.String("location", pair.Location),
					zap.Stringer("epiweek", week),
					zap.Error(err))
				rec.Skips++
				continue
			}

			r := store.Reading{
				Target:   opts.Target,
				Name:     pair.Kind.String(),
				Location: pair.Location,
				Epiweek:  week,
				Value:    value,
			}
			if err := session.UpsertReading(ctx, r); err != nil {
				return nil, err
			}
			readings = append(readings, r)
			rec.Upserts++
		}

		rec.FinishedAt = time.Now().UTC()
		if err := session.RecordRun(ctx, rec); err != nil {
			return nil, err
		}
		zap.L().Info("pair complete",
			zap.String("sensor", pair.Kind.String()),
			zap.String("location", pair.Location),
			zap.Int("upserts", rec.Upserts),
			zap.Int("skips", rec.Skips))
	}

	if opts.DryRun {
		zap.L().Info("dry run, rolling back", zap.Int("readings", len(readings)))
		if err := session.Rollback(ctx); err != nil {
			return nil, err
		}
		return readings, nil
	}
	if err := session.Commit(ctx); err != nil {
		return nil, err
	}
	return readings, nil
}

func (u *Updater) weekRange(ctx context.Context, pair Pair, opts UpdateOptions, lastData epiweek.Week) (first, last epiweek.Week, err error) {
	first = opts.FirstWeek
	if first == 0 {
		recent, ok, err := u.store.MostRecentEpiweek(ctx, opts.Target, pair.Kind.String(), pair.Location)
		switch {
		case err != nil:
			return 0, 0, err
		case ok:
			// Resume at the most recent stored week, not after it: the
			// upstream data for that week may have been revised since the
			// last run, so it gets refit and upserted.
			first = recent
		default:
			first = bootstrapWeek
		}
	}
	last = opts.LastWeek
	if last == 0 {
		last = lastData
	}
	if err := first.Check(); err != nil {
		return 0, 0, eris.Wrap(err, "sensor: first week")
	}
	if err := last.Check(); err != nil {
		return 0, 0, eris.Wrap(err, "sensor: last week")
	}
	return first, last, nil
}
