package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS results (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	evaluation      TEXT NOT NULL,
	paradigm        TEXT NOT NULL,
	dataset         TEXT NOT NULL,
	subject         INTEGER NOT NULL,
	session         TEXT NOT NULL,
	pipeline        TEXT NOT NULL,
	data_size       REAL NOT NULL DEFAULT -1,
	permutation     INTEGER NOT NULL DEFAULT -1,
	score           REAL NOT NULL,
	fit_time        REAL NOT NULL,
	score_time      REAL NOT NULL,
	n_samples       INTEGER NOT NULL,
	n_channels      INTEGER NOT NULL,
	carbon_emission REAL,
	extra_json      TEXT,
	run_id          TEXT,
	created_at      TEXT NOT NULL,
	UNIQUE (evaluation, paradigm, dataset, subject, session, pipeline, data_size, permutation)
);

CREATE INDEX IF NOT EXISTS results_scope ON results (evaluation, paradigm, dataset, pipeline);
`

// #endregion schema

// #region store-struct
// SQLiteStore is the default Store. Writes are serialized by a mutex.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// #endregion constructor

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. runlog).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #region exists
func (s *SQLiteStore) Exists(ctx context.Context, key Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM results
		 WHERE evaluation = ? AND paradigm = ? AND dataset = ? AND subject = ? AND session = ? AND pipeline = ?
		   AND data_size = ? AND permutation = ?`,
		key.Evaluation, key.Paradigm, key.Dataset, key.Subject, key.Session, key.Pipeline, key.DataSize, key.Permutation,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query result %s: %w", key, err)
	}
	return n > 0, nil
}

// #endregion exists

// #region append
func (s *SQLiteStore) Append(ctx context.Context, e Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var extra any
	if len(e.Extra) > 0 {
		raw, err := json.Marshal(e.Extra)
		if err != nil {
			return false, fmt.Errorf("%w %s: extra columns: %v", ErrInvalidEntry, e.Key, err)
		}
		extra = string(raw)
	}
	var emissions any
	if e.Emissions != nil {
		emissions = *e.Emissions
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO results (evaluation, paradigm, dataset, subject, session, pipeline, data_size, permutation,
		   score, fit_time, score_time, n_samples, n_channels, carbon_emission, extra_json, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (evaluation, paradigm, dataset, subject, session, pipeline, data_size, permutation) DO NOTHING`,
		e.Key.Evaluation, e.Key.Paradigm, e.Key.Dataset, e.Key.Subject, e.Key.Session, e.Key.Pipeline, e.Key.DataSize, e.Key.Permutation,
		e.Score, e.FitTime, e.ScoreTime, e.NSamples, e.NChannels, emissions, extra,
		nullIfEmpty(e.RunID), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("insert result %s: %w", e.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// #endregion append

// #region all
func (s *SQLiteStore) All(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT evaluation, paradigm, dataset, subject, session, pipeline, data_size, permutation, score, fit_time, score_time,
		        n_samples, n_channels, carbon_emission, extra_json, run_id, created_at
		 FROM results ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			emissions sql.NullFloat64
			extra     sql.NullString
			runID     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.Key.Evaluation, &e.Key.Paradigm, &e.Key.Dataset, &e.Key.Subject, &e.Key.Session, &e.Key.Pipeline,
			&e.Key.DataSize, &e.Key.Permutation, &e.Score, &e.FitTime, &e.ScoreTime,
			&e.NSamples, &e.NChannels, &emissions, &extra, &runID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if emissions.Valid {
			v := emissions.Float64
			e.Emissions = &v
		}
		if extra.Valid {
			if err := json.Unmarshal([]byte(extra.String), &e.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal extra columns: %w", err)
			}
		}
		e.RunID = runID.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion all

// #region delete
func (s *SQLiteStore) Delete(ctx context.Context, scope Scope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE evaluation = ? AND paradigm = ? AND dataset = ? AND pipeline = ?`,
		scope.Evaluation, scope.Paradigm, scope.Dataset, scope.Pipeline)
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// #endregion delete

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
