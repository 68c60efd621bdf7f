package datasource

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/geo"
	"github.com/brookslogan/nowcast-template/internal/store"
	"github.com/brookslogan/nowcast-template/pkg/epidata"
)

const prefetchConcurrency = 8

// EpidataSource implements DataSource over the Epidata API for ground truth
// and the local store for past sensor readings. Series are fetched once per
// location and cached for the lifetime of the instance; a week the API does
// not report stays absent from the cache and reads as missing.
type EpidataSource struct {
	client  epidata.Client
	store   store.Store
	geo     *geo.Geo
	target  string
	first   epiweek.Week
	last    epiweek.Week
	sensors []string

	mu       sync.Mutex
	truth    map[string]map[epiweek.Week]float64
	readings map[string]map[epiweek.Week]float64
}

// NewEpidataSource builds a source for one target over an inclusive week
// range. sensors names the sensor readings the store may hold.
func NewEpidataSource(client epidata.Client, st store.Store, g *geo.Geo, target string, first, last epiweek.Week, sensors []string) *EpidataSource {
	return &EpidataSource{
		client:   client,
		store:    st,
		geo:      g,
		target:   target,
		first:    first,
		last:     last,
		sensors:  sensors,
		truth:    make(map[string]map[epiweek.Week]float64),
		readings: make(map[string]map[epiweek.Week]float64),
	}
}

// Prefetch warms the truth cache for every location in parallel. It is an
// optimization only; getters fetch on demand.
func (s *EpidataSource) Prefetch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchConcurrency)
	for _, loc := range s.TruthLocations() {
		g.Go(func() error {
			_, err := s.truthSeries(ctx, loc)
			return err
		})
	}
	return g.Wait()
}

// truthSeries returns the cached truth series for a location. On first use
// it reads truth the store already holds; only a location the store has
// nothing for goes to the API.
func (s *EpidataSource) truthSeries(ctx context.Context, location string) (map[epiweek.Week]float64, error) {
	s.mu.Lock()
	series, ok := s.truth[location]
	s.mu.Unlock()
	if ok {
		return series, nil
	}

	stored, err := s.store.ListTruth(ctx, s.target, location, s.first, s.last)
	if err != nil {
		return nil, err
	}
	series = make(map[epiweek.Week]float64, len(stored))
	for _, tr := range stored {
		series[tr.Epiweek] = tr.Value
	}
	if len(series) == 0 {
		rows, err := s.client.Truth(ctx, location, s.first, s.last)
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			series[r.Epiweek] = r.Value
		}
	}

	s.mu.Lock()
	s.truth[location] = series
	s.mu.Unlock()
	return series, nil
}

// readingSeries returns the stored sensor readings for (name, location),
// loading them from the store on first use.
func (s *EpidataSource) readingSeries(ctx context.Context, location, name string) (map[epiweek.Week]float64, error) {
	key := name + "|" + location
	s.mu.Lock()
	series, ok := s.readings[key]
	s.mu.Unlock()
	if ok {
		return series, nil
	}

	stored, err := s.store.ListReadings(ctx, store.ReadingFilter{
		Target:   s.target,
		Name:     name,
		Location: location,
		From:     s.first,
		To:       s.last,
	})
	if err != nil {
		return nil, err
	}
	series = make(map[epiweek.Week]float64, len(stored))
	for _, r := range stored {
		series[r.Epiweek] = r.Value
	}

	s.mu.Lock()
	s.readings[key] = series
	s.mu.Unlock()
	return series, nil
}

func (s *EpidataSource) TruthValue(week epiweek.Week, location string) (float64, bool) {
	series, err := s.truthSeries(context.Background(), location)
	if err != nil {
		zap.L().Warn("truth fetch failed", zap.String("location", location), zap.Error(err))
		return 0, false
	}
	v, ok := series[week]
	return v, ok
}

func (s *EpidataSource) SensorValue(week epiweek.Week, location, name string) (float64, bool) {
	series, err := s.readingSeries(context.Background(), location, name)
	if err != nil {
		zap.L().Warn("reading load failed",
			zap.String("sensor", name), zap.String("location", location), zap.Error(err))
		return 0, false
	}
	v, ok := series[week]
	return v, ok
}

func (s *EpidataSource) Weeks() []epiweek.Week {
	return epiweek.Range(s.first, s.last)
}

func (s *EpidataSource) Sensors() []string {
	return s.sensors
}

func (s *EpidataSource) TruthLocations() []string {
	return s.geo.Catalog()
}

func (s *EpidataSource) SensorLocations() []string {
	return s.geo.Catalog()
}

func (s *EpidataSource) MissingLocations(week epiweek.Week) []string {
	var missing []string
	for _, atom := range s.geo.Atoms() {
		if _, ok := s.TruthValue(week, atom); !ok {
			missing = append(missing, atom)
		}
	}
	return missing
}

// ghtLocation translates a catalogue location into the name the search-trends
// endpoint uses; it labels the national location "US" rather than "nat".
func ghtLocation(location string) string {
	if location == "nat" {
		return "US"
	}
	return location
}

// TrendsSignal adapts the search-trends endpoint to the per-week covariate
// shape the regression fitters consume.
func (s *EpidataSource) TrendsSignal(ctx context.Context, location string, from, to epiweek.Week) (map[epiweek.Week][]float64, error) {
	rows, err := s.client.Trends(ctx, ghtLocation(location), from, to)
	if err != nil {
		return nil, err
	}
	return signalMap(rows), nil
}

// DashboardSignal adapts the hospital-dashboard endpoint likewise.
func (s *EpidataSource) DashboardSignal(ctx context.Context, location string, from, to epiweek.Week) (map[epiweek.Week][]float64, error) {
	rows, err := s.client.Dashboard(ctx, location, from, to)
	if err != nil {
		return nil, err
	}
	return signalMap(rows), nil
}

func signalMap(rows []epidata.Row) map[epiweek.Week][]float64 {
	out := make(map[epiweek.Week][]float64, len(rows))
	for _, r := range rows {
		out[r.Epiweek] = []float64{r.Value}
	}
	return out
}
