package dataset

import (
	"context"
	"slices"
)

// #region dataset
// Dataset is the read-only view of a recorded EEG dataset the benchmark consumes.
// Adapters for real datasets live outside this module.
type Dataset interface {
	Code() string
	Subjects() []int
	Sessions(subject int) []string
	Runs(subject int, session string) []string
	Channels() []string
	EventIDs() map[string]int
	Interval() [2]float64 // trial window in seconds relative to event onset
	SFreq() float64
	Recording(ctx context.Context, subject int, session, run string) (Recording, error)
}

// #endregion dataset

// #region recording
// Event marks a stimulus onset inside a continuous recording.
type Event struct {
	Sample int
	Code   int
}

// Recording is one continuous run: Data[channel][sample].
type Recording struct {
	Subject  int
	Session  string
	Run      string
	Channels []string
	SFreq    float64
	Data     [][]float64
	Events   []Event
}

// Samples returns the run length in samples.
func (r Recording) Samples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// #endregion recording

// #region metadata
// Row describes one example. Extra carries paradigm-added columns.
type Row struct {
	Subject int               `json:"subject"`
	Session string            `json:"session"`
	Run     string            `json:"run"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Metadata is aligned row-for-row with X and labels.
type Metadata []Row

// Subjects returns the distinct subjects in ascending order.
func (m Metadata) Subjects() []int {
	var out []int
	for _, r := range m {
		if !slices.Contains(out, r.Subject) {
			out = append(out, r.Subject)
		}
	}
	slices.Sort(out)
	return out
}

// Sessions returns the distinct sessions of a subject in ascending order.
func (m Metadata) Sessions(subject int) []string {
	var out []string
	for _, r := range m {
		if r.Subject == subject && !slices.Contains(out, r.Session) {
			out = append(out, r.Session)
		}
	}
	slices.Sort(out)
	return out
}

// Where returns the indices of rows matching fn, in row order.
func (m Metadata) Where(fn func(Row) bool) []int {
	var idx []int
	for i, r := range m {
		if fn(r) {
			idx = append(idx, i)
		}
	}
	return idx
}

// #endregion metadata
