// Package runlog records units of work that failed during an evaluation
// in the results database, next to the results they would have produced.
package runlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS unit_errors (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	dataset     TEXT NOT NULL,
	subject     INTEGER NOT NULL,
	session     TEXT,
	pipeline    TEXT NOT NULL,
	data_size   REAL NOT NULL DEFAULT -1,
	permutation INTEGER NOT NULL DEFAULT -1,
	stage       TEXT NOT NULL,
	error       TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// #endregion schema

// EnsureSchema creates the unit_errors table if needed.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate unit_errors: %w", err)
	}
	return nil
}

// NewRunID stamps one evaluation run.
func NewRunID() string {
	return uuid.New().String()
}

// #region log-failure
// LogFailure writes a failed unit to the unit_errors table.
func LogFailure(db *sql.DB, entry FailureEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO unit_errors (run_id, dataset, subject, session, pipeline, data_size, permutation, stage, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Dataset,
		entry.Subject,
		nullIfEmpty(entry.Session),
		entry.Pipeline,
		entry.DataSize,
		entry.Permutation,
		entry.Stage,
		entry.Error,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log failure: %w", err)
	}
	return nil
}

// #endregion log-failure

// #region list
// List returns the failures of one run, or of every run when runID is empty.
func List(db *sql.DB, runID string) ([]FailureEntry, error) {
	query := `SELECT run_id, dataset, subject, session, pipeline, data_size, permutation, stage, error, created_at
		FROM unit_errors`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []FailureEntry
	for rows.Next() {
		var (
			e         FailureEntry
			session   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.RunID, &e.Dataset, &e.Subject, &session, &e.Pipeline,
			&e.DataSize, &e.Permutation, &e.Stage, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		e.Session = session.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
