// Package results keeps the durable record of finished units of work so an
// evaluation can resume without refitting what is already scored.
package results

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// #region key
// NoSize marks data_size and permutation outside learning-curve mode.
const NoSize = -1

// Key is the identity of one unit of work. Evaluation and Paradigm keep
// the results of different protocols on one dataset apart.
type Key struct {
	Evaluation  string
	Paradigm    string
	Dataset     string
	Subject     int
	Session     string
	Pipeline    string
	DataSize    float64
	Permutation int
}

// NewKey builds a key for a run without learning-curve sub-sampling.
func NewKey(evaluation, paradigm, dataset string, subject int, session, pipeline string) Key {
	return Key{Evaluation: evaluation, Paradigm: paradigm, Dataset: dataset, Subject: subject,
		Session: session, Pipeline: pipeline, DataSize: NoSize, Permutation: NoSize}
}

// Scope is the set of entries Delete drops.
func (k Key) Scope() Scope {
	return Scope{Evaluation: k.Evaluation, Paradigm: k.Paradigm, Dataset: k.Dataset, Pipeline: k.Pipeline}
}

func (k Key) String() string {
	s := fmt.Sprintf("%s/%s/%s/%d/%s/%s", k.Paradigm, k.Evaluation, k.Dataset, k.Subject, k.Session, k.Pipeline)
	if k.Permutation != NoSize {
		s += fmt.Sprintf("/%g/%d", k.DataSize, k.Permutation)
	}
	return s
}

// Scope selects every entry of one pipeline on one dataset under one
// evaluation and paradigm.
type Scope struct {
	Evaluation string
	Paradigm   string
	Dataset    string
	Pipeline   string
}

// #endregion key

// #region entry
// Entry is one stored result row.
type Entry struct {
	Key       Key
	Score     float64
	FitTime   float64 // seconds
	ScoreTime float64 // seconds
	NSamples  int
	NChannels int
	Emissions *float64       // nil when no tracker was configured
	Extra     map[string]any // additional result columns
	RunID     string
	CreatedAt time.Time
}

// ErrInvalidEntry marks entries no backend can store. The store is left untouched.
var ErrInvalidEntry = errors.New("invalid result entry")

// Validate rejects non-finite measurements.
func (e Entry) Validate() error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w %s: %s is %v", ErrInvalidEntry, e.Key, name, v)
		}
		return nil
	}
	if err := check("score", e.Score); err != nil {
		return err
	}
	if err := check("fit_time", e.FitTime); err != nil {
		return err
	}
	if err := check("score_time", e.ScoreTime); err != nil {
		return err
	}
	if e.Emissions != nil {
		return check("carbon_emission", *e.Emissions)
	}
	return nil
}

// #endregion entry

// #region store
// Store is an append-only result table. Append is idempotent per Key and
// fails with ErrInvalidEntry, storing nothing, when Validate does.
type Store interface {
	Exists(ctx context.Context, key Key) (bool, error)
	// Append reports whether the entry was new.
	Append(ctx context.Context, e Entry) (bool, error)
	All(ctx context.Context) ([]Entry, error)
	// Delete drops every entry in scope.
	Delete(ctx context.Context, scope Scope) (int, error)
	Close() error
}

// #endregion store
