package evaluation

import (
	"github.com/danielpatrickdp/eegbench/internal/results"
)

// #region record
// Record is the result of one unit of work. It is never mutated once emitted.
// Evaluation and Paradigm scope the record in the store and are not columns.
type Record struct {
	Evaluation string
	Paradigm   string

	Dataset   string
	Subject   int
	Session   string
	Pipeline  string
	Score     float64
	FitTime   float64 // seconds
	ScoreTime float64 // seconds
	NSamples  int
	NChannels int

	LearningCurve bool
	DataSize      float64
	Permutation   int

	Emissions *float64 // kg CO2eq, nil without a tracker
	Extra     map[string]any
}

// Map is the tabular row: 8 base columns, data_size and permutation in
// learning-curve mode, carbon_emission with a tracker, then any additional columns.
func (r Record) Map() map[string]any {
	m := map[string]any{
		"dataset":    r.Dataset,
		"subject":    r.Subject,
		"session":    r.Session,
		"pipeline":   r.Pipeline,
		"score":      r.Score,
		"time":       r.FitTime + r.ScoreTime,
		"n_samples":  r.NSamples,
		"n_channels": r.NChannels,
	}
	if r.LearningCurve {
		m["data_size"] = r.DataSize
		m["permutation"] = r.Permutation
	}
	if r.Emissions != nil {
		m["carbon_emission"] = *r.Emissions
	}
	for k, v := range r.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return m
}

// Key is the store identity of the record.
func (r Record) Key() results.Key {
	k := results.NewKey(r.Evaluation, r.Paradigm, r.Dataset, r.Subject, r.Session, r.Pipeline)
	if r.LearningCurve {
		k.DataSize, k.Permutation = r.DataSize, r.Permutation
	}
	return k
}

// Entry converts the record for the results store.
func (r Record) Entry(runID string) results.Entry {
	return results.Entry{
		Key:       r.Key(),
		Score:     r.Score,
		FitTime:   r.FitTime,
		ScoreTime: r.ScoreTime,
		NSamples:  r.NSamples,
		NChannels: r.NChannels,
		Emissions: r.Emissions,
		Extra:     r.Extra,
		RunID:     runID,
	}
}

// FromEntry rebuilds a record from a stored entry.
func FromEntry(e results.Entry) Record {
	return Record{
		Evaluation:    e.Key.Evaluation,
		Paradigm:      e.Key.Paradigm,
		Dataset:       e.Key.Dataset,
		Subject:       e.Key.Subject,
		Session:       e.Key.Session,
		Pipeline:      e.Key.Pipeline,
		Score:         e.Score,
		FitTime:       e.FitTime,
		ScoreTime:     e.ScoreTime,
		NSamples:      e.NSamples,
		NChannels:     e.NChannels,
		LearningCurve: e.Key.Permutation != results.NoSize,
		DataSize:      e.Key.DataSize,
		Permutation:   e.Key.Permutation,
		Emissions:     e.Emissions,
		Extra:         e.Extra,
	}
}

// #endregion record
