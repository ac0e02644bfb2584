package evaluation

import (
	"context"
	"iter"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/paradigm"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
)

// #region state
// State is the position of a run in the evaluation state machine.
type State string

const (
	StateConfigured State = "CONFIGURED"
	StateValidating State = "VALIDATING"
	StateIterating  State = "ITERATING"
	StateFitting    State = "FITTING"
	StateScoring    State = "SCORING"
	StatePersisting State = "PERSISTING"
	StateEmitted    State = "EMITTED"
	StateDone       State = "DONE"
)

// Stats counts what a run did so far.
type Stats struct {
	Emitted int // records yielded
	Fitted  int // units fitted and scored
	Skipped int // units already in the store
	Failed  int // units that failed and were logged
}

// #endregion state

// #region results
// Results is a forward-only pull iterator over one dataset's records. Each
// Next runs units of work until one yields a record. It cannot be rewound;
// calling Evaluate again restarts from the top and skips stored units.
type Results struct {
	e  *Engine
	ds dataset.Dataset

	names     []string
	pipelines map[string]pipeline.Estimator
	grid      map[string]map[string][]any
	data      *paradigm.Data
	labels    []string

	ctx      context.Context
	next     func() (Record, error, bool)
	stop     func()
	state    State
	stats    Stats
	failures []*UnitError
	err      error
}

// Next returns the next record. ok is false once the sequence is exhausted
// or a fatal error occurred; err reports the latter.
func (r *Results) Next(ctx context.Context) (rec Record, ok bool, err error) {
	if r.state == StateDone {
		return Record{}, false, r.err
	}
	if r.next == nil {
		r.next, r.stop = iter.Pull2(iter.Seq2[Record, error](r.run))
	}
	r.ctx = ctx
	rec, err, ok = r.next()
	if !ok || err != nil {
		r.err = err
		r.finish()
		return Record{}, false, err
	}
	return rec, true, nil
}

// All adapts Next to a range-over-func sequence. Breaking out stops the run.
func (r *Results) All(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		defer r.Close()
		for {
			rec, ok, err := r.Next(ctx)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !ok || !yield(rec, nil) {
				return
			}
		}
	}
}

// Collect drains the sequence.
func (r *Results) Collect(ctx context.Context) ([]Record, error) {
	var out []Record
	for rec, err := range r.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close stops the run early. Units already stored stay valid.
func (r *Results) Close() {
	r.finish()
}

func (r *Results) finish() {
	if r.stop != nil {
		r.stop()
	}
	r.state = StateDone
}

func (r *Results) Err() error { return r.err }

func (r *Results) State() State { return r.state }

func (r *Results) Stats() Stats { return r.stats }

// Failures lists the unit errors logged so far.
func (r *Results) Failures() []*UnitError { return r.failures }

func (r *Results) setState(s State) { r.state = s }

// #endregion results
