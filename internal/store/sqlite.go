package store

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS readings (
	target   TEXT    NOT NULL,
	name     TEXT    NOT NULL,
	location TEXT    NOT NULL,
	epiweek  INTEGER NOT NULL,
	value    REAL    NOT NULL,
	PRIMARY KEY (target, name, location, epiweek)
);

CREATE TABLE IF NOT EXISTS truth (
	target   TEXT    NOT NULL,
	location TEXT    NOT NULL,
	epiweek  INTEGER NOT NULL,
	value    REAL    NOT NULL,
	PRIMARY KEY (target, location, epiweek)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	target      TEXT    NOT NULL,
	name        TEXT    NOT NULL,
	location    TEXT    NOT NULL,
	first_week  INTEGER NOT NULL,
	last_week   INTEGER NOT NULL,
	upserts     INTEGER NOT NULL,
	skips       INTEGER NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_readings_key_week ON readings(target, name, location, epiweek);
CREATE INDEX IF NOT EXISTS idx_truth_key_week ON truth(target, location, epiweek);
CREATE INDEX IF NOT EXISTS idx_runs_target_name ON runs(target, name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context) (Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteSession{tx: tx}, nil
}

func (s *SQLiteStore) ListReadings(ctx context.Context, filter ReadingFilter) ([]Reading, error) {
	query := `SELECT target, name, location, epiweek, value FROM readings WHERE 1=1`
	var args []any

	if filter.Target != "" {
		query += ` AND target = ?`
		args = append(args, filter.Target)
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	if filter.Location != "" {
		query += ` AND location = ?`
		args = append(args, filter.Location)
	}
	if filter.From != 0 {
		query += ` AND epiweek >= ?`
		args = append(args, int(filter.From))
	}
	if filter.To != 0 {
		query += ` AND epiweek <= ?`
		args = append(args, int(filter.To))
	}
	query += ` ORDER BY epiweek, target, name, location`

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list readings")
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		var week int
		if err := rows.Scan(&r.Target, &r.Name, &r.Location, &week, &r.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reading")
		}
		r.Epiweek = epiweek.Week(week)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list readings")
}

func (s *SQLiteStore) ListTruth(ctx context.Context, target, location string, from, to epiweek.Week) ([]Truth, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target, location, epiweek, value FROM truth
		 WHERE target = ? AND location = ? AND epiweek >= ? AND epiweek <= ?
		 ORDER BY epiweek`,
		target, location, int(from), int(to),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list truth")
	}
	defer rows.Close()

	var out []Truth
	for rows.Next() {
		var t Truth
		var week int
		if err := rows.Scan(&t.Target, &t.Location, &week, &t.Value); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan truth")
		}
		t.Epiweek = epiweek.Week(week)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list truth")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := `SELECT id, target, name, location, first_week, last_week, upserts, skips, started_at, finished_at
		FROM runs WHERE 1=1`
	var args []any

	if filter.Target != "" {
		query += ` AND target = ?`
		args = append(args, filter.Target)
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at > ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var first, last int
		if err := rows.Scan(&rec.ID, &rec.Target, &rec.Name, &rec.Location,
			&first, &last, &rec.Upserts, &rec.Skips, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		rec.FirstWeek = epiweek.Week(first)
		rec.LastWeek = epiweek.Week(last)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) MostRecentEpiweek(ctx context.Context, target, name, location string) (epiweek.Week, bool, error) {
	var week sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(epiweek) FROM readings WHERE target = ? AND name = ? AND location = ?`,
		target, name, location,
	).Scan(&week)
	if err != nil {
		return 0, false, eris.Wrap(err, "sqlite: most recent epiweek")
	}
	if !week.Valid {
		return 0, false, nil
	}
	return epiweek.Week(week.Int64), true, nil
}

type sqliteSession struct {
	tx *sql.Tx
}

func (s *sqliteSession) UpsertReading(ctx context.Context, r Reading) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO readings (target, name, location, epiweek, value) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (target, name, location, epiweek) DO UPDATE SET value = excluded.value`,
		r.Target, r.Name, r.Location, int(r.Epiweek), r.Value,
	)
	return eris.Wrapf(err, "sqlite: upsert reading %s/%s/%s/%s", r.Target, r.Name, r.Location, r.Epiweek)
}

func (s *sqliteSession) UpsertTruth(ctx context.Context, t Truth) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO truth (target, location, epiweek, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (target, location, epiweek) DO UPDATE SET value = excluded.value`,
		t.Target, t.Location, int(t.Epiweek), t.Value,
	)
	return eris.Wrapf(err, "sqlite: upsert truth %s/%s/%s", t.Target, t.Location, t.Epiweek)
}

func (s *sqliteSession) RecordRun(ctx context.Context, rec RunRecord) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO runs (id, target, name, location, first_week, last_week, upserts, skips, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Target, rec.Name, rec.Location, int(rec.FirstWeek), int(rec.LastWeek),
		rec.Upserts, rec.Skips, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record run %s", rec.ID)
}

func (s *sqliteSession) Commit(ctx context.Context) error {
	return eris.Wrap(s.tx.Commit(), "sqlite: commit")
}

func (s *sqliteSession) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(); err != nil && !eris.Is(err, sql.ErrTxDone) {
		return eris.Wrap(err, "sqlite: rollback")
	}
	return nil
}
