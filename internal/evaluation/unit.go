package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/datasize"
	"github.com/danielpatrickdp/eegbench/internal/persist"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
	"github.com/danielpatrickdp/eegbench/internal/results"
	"github.com/danielpatrickdp/eegbench/internal/runlog"
	"github.com/danielpatrickdp/eegbench/internal/split"
	"github.com/danielpatrickdp/eegbench/internal/telemetry"
)

// #region loop
// unit identifies one fold × pipeline [× size × permutation].
type unit struct {
	fold  split.Fold
	index int // fold position: session index, or subject index for cross-subject
	name  string
	step  *datasize.Step
	perm  int
}

func (u unit) size() (float64, int) {
	if u.step == nil {
		return results.NoSize, results.NoSize
	}
	return u.step.Value, u.perm
}

// run is the generator behind Next. A non-nil error ends the sequence.
func (r *Results) run(yield func(Record, error) bool) {
	e := r.e
	for fold := range e.policy.Folds(r.data.Meta, r.labels) {
		r.setState(StateIterating)
		u := unit{fold: fold, index: r.foldIndex(fold), perm: results.NoSize}
		var steps []datasize.Step
		if e.sizes != nil && fold.Err == nil {
			steps = e.sizes.Steps(r.labels, fold.Train)
		}
		for _, name := range r.names {
			u.name = name
			if e.sizes == nil || fold.Err != nil {
				if !r.emit(u, yield) {
					return
				}
				continue
			}
			for i := range steps {
				u.step = &steps[i]
				for perm := range steps[i].NPerms {
					u.perm = perm
					if !r.emit(u, yield) {
						return
					}
				}
			}
			u.step, u.perm = nil, results.NoSize
		}
	}
	r.setState(StateDone)
	r.e.logger.Info("evaluation done", "dataset", r.ds.Code(), "emitted", r.stats.Emitted,
		"fitted", r.stats.Fitted, "skipped", r.stats.Skipped, "failed", r.stats.Failed)
}

// emit runs one unit and yields its records. It returns false when the
// caller stopped or a fatal error was yielded.
func (r *Results) emit(u unit, yield func(Record, error) bool) bool {
	if err := r.ctx.Err(); err != nil {
		yield(Record{}, err)
		return false
	}
	recs, err := r.unit(u)
	if err != nil {
		yield(Record{}, err)
		return false
	}
	for _, rec := range recs {
		r.setState(StateEmitted)
		r.stats.Emitted++
		if !yield(rec, nil) {
			return false
		}
	}
	return true
}

func (r *Results) foldIndex(f split.Fold) int {
	if r.e.cfg.Kind == split.CrossSubject {
		return slices.Index(r.data.Meta.Subjects(), f.Subject)
	}
	return slices.Index(r.data.Meta.Sessions(f.Subject), f.Session)
}

// #endregion loop

// #region unit
// unit runs one unit of work. Unit failures are logged and swallowed; the
// returned error is fatal to the run.
func (r *Results) unit(u unit) ([]Record, error) {
	e := r.e
	size, perm := u.size()

	var pending []split.Group
	for _, g := range u.fold.Groups {
		key := results.Key{Evaluation: string(e.cfg.Kind), Paradigm: e.paradigm.Name(), Dataset: r.ds.Code(),
			Subject: u.fold.Subject, Session: g.Session, Pipeline: u.name, DataSize: size, Permutation: perm}
		done, err := e.store.Exists(r.ctx, key)
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, g)
		}
	}
	if len(pending) == 0 {
		r.stats.Skipped++
		e.metrics.Unit(string(e.cfg.Kind), telemetry.OutcomeSkipped)
		e.logger.Debug("unit already stored", r.attrs(u)...)
		return nil, nil
	}

	ctx, span := e.tracer.StartUnit(r.ctx, telemetry.UnitAttrs{Kind: string(e.cfg.Kind), Dataset: r.ds.Code(),
		Subject: u.fold.Subject, Session: u.fold.Session, Pipeline: u.name, DataSize: size, Permutation: perm})
	recs, stage, err := r.fitScore(ctx, u, pending)
	if err != nil {
		telemetry.EndUnit(span, telemetry.OutcomeFailed, err)
		r.fail(u, stage, err)
		return nil, nil
	}
	entries := make([]results.Entry, len(recs))
	for i, rec := range recs {
		entries[i] = rec.Entry(e.runID)
		if err := entries[i].Validate(); err != nil {
			telemetry.EndUnit(span, telemetry.OutcomeFailed, err)
			r.fail(u, "store", err)
			return nil, nil
		}
	}
	for _, entry := range entries {
		if _, err := e.store.Append(r.ctx, entry); err != nil {
			telemetry.EndUnit(span, telemetry.OutcomeFailed, err)
			if errors.Is(err, results.ErrInvalidEntry) {
				r.fail(u, "store", err)
				return nil, nil
			}
			return nil, err
		}
	}
	telemetry.EndUnit(span, telemetry.OutcomeOK, nil)
	r.stats.Fitted++
	e.metrics.Unit(string(e.cfg.Kind), telemetry.OutcomeOK)
	return recs, nil
}

func (r *Results) attrs(u unit) []any {
	size, perm := u.size()
	a := []any{"dataset", r.ds.Code(), "subject", u.fold.Subject, "session", u.fold.Session, "pipeline", u.name}
	if perm != results.NoSize {
		a = append(a, "data_size", size, "permutation", perm)
	}
	return a
}

func (r *Results) fail(u unit, stage string, err error) {
	e := r.e
	size, perm := u.size()
	ue := &UnitError{Dataset: r.ds.Code(), Subject: u.fold.Subject, Session: u.fold.Session, Pipeline: u.name,
		DataSize: size, Permutation: perm, Stage: stage, Err: err}
	r.failures = append(r.failures, ue)
	r.stats.Failed++
	e.metrics.Unit(string(e.cfg.Kind), telemetry.OutcomeFailed)
	e.logger.Warn("unit failed", append(r.attrs(u), "stage", stage, "err", err)...)
	if e.runlog == nil {
		return
	}
	if lerr := runlog.LogFailure(e.runlog, runlog.FailureEntry{RunID: e.runID, Dataset: ue.Dataset,
		Subject: ue.Subject, Session: ue.Session, Pipeline: ue.Pipeline, DataSize: size, Permutation: perm,
		Stage: stage, Error: err.Error()}); lerr != nil {
		e.logger.Error("run log write failed", "err", lerr)
	}
}

// #endregion unit

// #region fit-score
// fitted is what one unit produced before records are built.
type fitted struct {
	scores    map[string]float64 // by session
	fitTime   time.Duration
	scoreTime map[string]time.Duration
	nSamples  int
	models    []pipeline.Estimator
	cvScores  []float64
	grid      *pipeline.GridSearch
}

func (r *Results) fitScore(ctx context.Context, u unit, pending []split.Group) ([]Record, string, error) {
	e := r.e
	if u.fold.Err != nil {
		return nil, "split", u.fold.Err
	}
	train := u.fold.Train
	if u.step != nil {
		var err error
		if train, err = datasize.Sample(r.labels, u.fold.Train, *u.step, u.perm, e.cfg.Seed); err != nil {
			return nil, "sample", err
		}
	}

	m := e.tracker.Start(ctx)
	var (
		out   *fitted
		stage string
		err   error
	)
	if u.fold.CV != nil {
		out, stage, err = r.crossValidate(ctx, u)
	} else {
		out, stage, err = r.holdout(ctx, u, train, pending)
	}
	co2, merr := m.Stop()
	if err != nil {
		return nil, stage, err
	}
	if merr != nil {
		return nil, "emissions", merr
	}

	r.setState(StatePersisting)
	if err := r.persist(ctx, u, out); err != nil {
		return nil, "persist", err
	}

	size, perm := u.size()
	var recs []Record
	for _, g := range pending {
		rec := Record{
			Evaluation:    string(e.cfg.Kind),
			Paradigm:      e.paradigm.Name(),
			Dataset:       r.ds.Code(),
			Subject:       u.fold.Subject,
			Session:       g.Session,
			Pipeline:      u.name,
			Score:         out.scores[g.Session],
			FitTime:       out.fitTime.Seconds(),
			ScoreTime:     out.scoreTime[g.Session].Seconds(),
			NSamples:      out.nSamples,
			NChannels:     r.data.X.Channels(),
			LearningCurve: u.step != nil,
			DataSize:      size,
			Permutation:   perm,
		}
		if e.tracker.Enabled() {
			v := co2
			rec.Emissions = &v
		}
		if err := r.addColumns(ctx, &rec); err != nil {
			return nil, "columns", err
		}
		recs = append(recs, rec)
	}
	return recs, "", nil
}

func (r *Results) build(name string) (pipeline.Scorer, *pipeline.GridSearch, error) {
	base := r.pipelines[name].Clone()
	params, ok := r.grid[name]
	if !ok {
		return base.(pipeline.Scorer), nil, nil
	}
	gs, err := pipeline.NewGridSearch(base, params, r.e.cfg.GridFolds, r.e.cfg.Seed)
	if err != nil {
		return nil, nil, err
	}
	return gs, gs, nil
}

// holdout fits once on train and scores every pending session group.
func (r *Results) holdout(ctx context.Context, u unit, train []int, pending []split.Group) (*fitted, string, error) {
	est, gs, err := r.build(u.name)
	if err != nil {
		return nil, "build", err
	}
	r.setState(StateFitting)
	start := time.Now()
	if err := est.Fit(ctx, r.data.X.Take(train), dataset.TakeLabels(r.labels, train)); err != nil {
		return nil, "fit", err
	}
	out := &fitted{
		scores:    make(map[string]float64, len(pending)),
		scoreTime: make(map[string]time.Duration, len(pending)),
		fitTime:   time.Since(start),
		nSamples:  len(train),
		models:    []pipeline.Estimator{est},
		grid:      gs,
	}
	r.e.metrics.Fit(string(r.e.cfg.Kind), out.fitTime)

	r.setState(StateScoring)
	for _, g := range pending {
		start := time.Now()
		s, err := est.Score(ctx, r.data.X.Take(g.Test), dataset.TakeLabels(r.labels, g.Test))
		if err == nil {
			err = finite(s)
		}
		if err != nil {
			return nil, "score", fmt.Errorf("session %s: %w", g.Session, err)
		}
		out.scores[g.Session], out.scoreTime[g.Session] = s, time.Since(start)
		r.e.metrics.Score(string(r.e.cfg.Kind), out.scoreTime[g.Session])
	}
	return out, "", nil
}

// crossValidate scores the within-session inner folds; the result is their mean.
func (r *Results) crossValidate(ctx context.Context, u unit) (*fitted, string, error) {
	session := u.fold.Session
	out := &fitted{nSamples: len(u.fold.Train)}
	var scoreTime time.Duration
	bestFold := -1
	var grids []*pipeline.GridSearch
	for i, tt := range u.fold.CV {
		est, gs, err := r.build(u.name)
		if err != nil {
			return nil, "build", err
		}
		r.setState(StateFitting)
		start := time.Now()
		if err := est.Fit(ctx, r.data.X.Take(tt.Train), dataset.TakeLabels(r.labels, tt.Train)); err != nil {
			return nil, "fit", fmt.Errorf("cv fold %d: %w", i, err)
		}
		d := time.Since(start)
		out.fitTime += d
		r.e.metrics.Fit(string(r.e.cfg.Kind), d)

		r.setState(StateScoring)
		start = time.Now()
		s, err := est.Score(ctx, r.data.X.Take(tt.Test), dataset.TakeLabels(r.labels, tt.Test))
		if err == nil {
			err = finite(s)
		}
		if err != nil {
			return nil, "score", fmt.Errorf("cv fold %d: %w", i, err)
		}
		d = time.Since(start)
		scoreTime += d
		r.e.metrics.Score(string(r.e.cfg.Kind), d)

		out.models = append(out.models, est)
		out.cvScores = append(out.cvScores, s)
		grids = append(grids, gs)
		if bestFold < 0 || s > out.cvScores[bestFold] {
			bestFold = i
		}
	}
	out.grid = grids[bestFold]
	out.scores = map[string]float64{session: stat.Mean(out.cvScores, nil)}
	out.scoreTime = map[string]time.Duration{session: scoreTime}
	return out, "", nil
}

func finite(s float64) error {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return fmt.Errorf("%w: %v", ErrNonFiniteScore, s)
	}
	return nil
}

// #endregion fit-score

// #region persist
func (r *Results) persist(ctx context.Context, u unit, out *fitted) error {
	kind := r.e.cfg.Kind
	dir, ok := r.e.paths.SavePath(kind, r.ds.Code(), u.fold.Subject, u.fold.Session, u.name, false)
	if !ok {
		return nil
	}
	switch {
	case out.cvScores != nil:
		if err := persist.SaveBest(ctx, out.models, out.cvScores, dir); err != nil {
			return err
		}
	case u.step != nil:
		idx := fmt.Sprintf("%g_%d", u.step.Value, u.perm)
		if err := persist.Save(ctx, out.models[0], dir, idx); err != nil {
			return err
		}
	default:
		if err := persist.Save(ctx, out.models[0], dir, strconv.Itoa(u.index)); err != nil {
			return err
		}
	}
	if out.grid == nil {
		return nil
	}
	gdir, _ := r.e.paths.SavePath(kind, r.ds.Code(), u.fold.Subject, u.fold.Session, u.name, true)
	return persist.SaveGridSearch(out.grid, gdir, kind)
}

// #endregion persist

// #region columns
var errMissingColumn = errors.New("missing additional column")

func (r *Results) addColumns(ctx context.Context, rec *Record) error {
	if r.e.columns == nil {
		return nil
	}
	extra, err := r.e.columns(ctx, *rec)
	if err != nil {
		return err
	}
	for _, name := range r.e.cfg.AdditionalColumns {
		if _, ok := extra[name]; !ok {
			return fmt.Errorf("%w %q", errMissingColumn, name)
		}
	}
	rec.Extra = extra
	return nil
}

// #endregion columns
