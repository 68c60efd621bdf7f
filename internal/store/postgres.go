package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// which keeps the query layer unit-testable without a server.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot upsert path.
var preparedStatements = map[string]string{
	"upsert_reading": `INSERT INTO readings (target, name, location, epiweek, value) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (target, name, location, epiweek) DO UPDATE SET value = EXCLUDED.value`,
	"upsert_truth": `INSERT INTO truth (target, location, epiweek, value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (target, location, epiweek) DO UPDATE SET value = EXCLUDED.value`,
	"most_recent_epiweek": `SELECT MAX(epiweek) FROM readings WHERE target = $1 AND name = $2 AND location = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS readings (
	target   TEXT             NOT NULL,
	name     TEXT             NOT NULL,
	location TEXT             NOT NULL,
	epiweek  INTEGER          NOT NULL,
	value    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (target, name, location, epiweek)
);

CREATE TABLE IF NOT EXISTS truth (
	target   TEXT             NOT NULL,
	location TEXT             NOT NULL,
	epiweek  INTEGER          NOT NULL,
	value    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (target, location, epiweek)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	target      TEXT        NOT NULL,
	name        TEXT        NOT NULL,
	location    TEXT        NOT NULL,
	first_week  INTEGER     NOT NULL,
	last_week   INTEGER     NOT NULL,
	upserts     INTEGER     NOT NULL,
	skips       INTEGER     NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_target_name ON runs(target, name);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Begin(ctx context.Context) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	return &postgresSession{tx: tx}, nil
}

func (s *PostgresStore) ListReadings(ctx context.Context, filter ReadingFilter) ([]Reading, error) {
	query := `SELECT target, name, location, epiweek, value FROM readings WHERE 1=1`
	var args []any

	if filter.Target != "" {
		args = append(args, filter.Target)
		query += ` AND target = $` + strconv.Itoa(len(args))
	}
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += ` AND name = $` + strconv.Itoa(len(args))
	}
	if filter.Location != "" {
		args = append(args, filter.Location)
		query += ` AND location = $` + strconv.Itoa(len(args))
	}
	if filter.From != 0 {
		args = append(args, int(filter.From))
		query += ` AND epiweek >= $` + strconv.Itoa(len(args))
	}
	if filter.To != 0 {
		args = append(args, int(filter.To))
		query += ` AND epiweek <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY epiweek, target, name, location`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list readings")
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		var week int
		if err := rows.Scan(&r.Target, &r.Name, &r.Location, &week, &r.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reading")
		}
		r.Epiweek = epiweek.Week(week)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list readings")
}

func (s *PostgresStore) ListTruth(ctx context.Context, target, location string, from, to epiweek.Week) ([]Truth, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT target, location, epiweek, value FROM truth
		 WHERE target = $1 AND location = $2 AND epiweek >= $3 AND epiweek <= $4
		 ORDER BY epiweek`,
		target, location, int(from), int(to),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list truth")
	}
	defer rows.Close()

	var out []Truth
	for rows.Next() {
		var t Truth
		var week int
		if err := rows.Scan(&t.Target, &t.Location, &week, &t.Value); err != nil {
			return nil, eris.Wrap(err, "postgres: scan truth")
		}
		t.Epiweek = epiweek.Week(week)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list truth")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `SELECT id, target, name, location, first_week, last_week, upserts, skips, started_at, finished_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Target != "" {
		args = append(args, filter.Target)
		query += ` AND target = $` + strconv.Itoa(len(args))
	}
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += ` AND name = $` + strconv.Itoa(len(args))
	}
	if !filter.StartedAfter.IsZero() {
		args = append(args, filter.StartedAfter.UTC())
		query += ` AND started_at > $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var first, last int
		if err := rows.Scan(&rec.ID, &rec.Target, &rec.Name, &rec.Location,
			&first, &last, &rec.Upserts, &rec.Skips, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		rec.FirstWeek = epiweek.Week(first)
		rec.LastWeek = epiweek.Week(last)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs")
}

func (s *PostgresStore) MostRecentEpiweek(ctx context.Context, target, name, location string) (epiweek.Week, bool, error) {
	var week sql.NullInt64
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(epiweek) FROM readings WHERE target = $1 AND name = $2 AND location = $3`,
		target, name, location,
	).Scan(&week)
	if err != nil {
		return 0, false, eris.Wrap(err, "postgres: most recent epiweek")
	}
	if !week.Valid {
		return 0, false, nil
	}
	return epiweek.Week(week.Int64), true, nil
}

type postgresSession struct {
	tx pgx.Tx
}

func (s *postgresSession) UpsertReading(ctx context.Context, r Reading) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO readings (target, name, location, epiweek, value) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (target, name, location, epiweek) DO UPDATE SET value = EXCLUDED.value`,
		r.Target, r.Name, r.Location, int(r.Epiweek), r.Value,
	)
	return eris.Wrapf(err, "postgres: upsert reading %s/%s/%s/%s", r.Target, r.Name, r.Location, r.Epiweek)
}

func (s *postgresSession) UpsertTruth(ctx context.Context, t Truth) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO truth (target, location, epiweek, value) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (target, location, epiweek) DO UPDATE SET value = EXCLUDED.value`,
		t.Target, t.Location, int(t.Epiweek), t.Value,
	)
	return eris.Wrapf(err, "postgres: upsert truth %s/%s/%s", t.Target, t.Location, t.Epiweek)
}

func (s *postgresSession) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.tx.Exec(ctx,
		`INSERT INTO runs (id, target, name, location, first_week, last_week, upserts, skips, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Target, rec.Name, rec.Location, int(rec.FirstWeek), int(rec.LastWeek),
		rec.Upserts, rec.Skips, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record run %s", rec.ID)
}

func (s *postgresSession) Commit(ctx context.Context) error {
	return eris.Wrap(s.tx.Commit(ctx), "postgres: commit")
}

func (s *postgresSession) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !eris.Is(err, pgx.ErrTxClosed) {
		return eris.Wrap(err, "postgres: rollback")
	}
	return nil
}
