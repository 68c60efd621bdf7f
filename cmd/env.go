package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/brookslogan/nowcast-template/internal/datasource"
	"github.com/brookslogan/nowcast-template/internal/epiweek"
	"github.com/brookslogan/nowcast-template/internal/geo"
	"github.com/brookslogan/nowcast-template/internal/sensor"
	"github.com/brookslogan/nowcast-template/internal/store"
	"github.com/brookslogan/nowcast-template/pkg/epidata"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "nowcast.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initGeo() (*geo.Geo, error) {
	if cfg.Geo.Path != "" {
		return geo.Load(cfg.Geo.Path)
	}
	return geo.Default(), nil
}

func initClient() epidata.Client {
	opts := []epidata.Option{epidata.WithRateLimit(cfg.Epidata.RateLimit)}
	if cfg.Epidata.BaseURL != "" {
		opts = append(opts, epidata.WithBaseURL(cfg.Epidata.BaseURL))
	}
	return epidata.NewClient(cfg.Epidata.Key, opts...)
}

// dataRange returns the inclusive week range the data source covers: from the
// configured first data week through either the configured last week or the
// current week.
func dataRange() (epiweek.Week, epiweek.Week) {
	first := epiweek.Week(cfg.Sensor.FirstWeek)
	last := epiweek.Week(cfg.Sensor.LastWeek)
	if last == 0 {
		last = epiweek.FromTime(time.Now().UTC())
	}
	return first, last
}

func sensorNames() []string {
	kinds := sensor.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}

func initSource(client epidata.Client, st store.Store, g *geo.Geo) *datasource.EpidataSource {
	first, last := dataRange()
	return datasource.NewEpidataSource(client, st, g, cfg.Sensor.Target, first, last, sensorNames())
}
