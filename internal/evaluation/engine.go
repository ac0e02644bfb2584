// Package evaluation runs the benchmark protocol: it splits a dataset,
// fits and scores every pipeline on every fold, persists what it fitted
// and records results so a rerun resumes instead of recomputing.
package evaluation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/datasize"
	"github.com/danielpatrickdp/eegbench/internal/emissions"
	"github.com/danielpatrickdp/eegbench/internal/paradigm"
	"github.com/danielpatrickdp/eegbench/internal/persist"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
	"github.com/danielpatrickdp/eegbench/internal/results"
	"github.com/danielpatrickdp/eegbench/internal/runlog"
	"github.com/danielpatrickdp/eegbench/internal/split"
	"github.com/danielpatrickdp/eegbench/internal/telemetry"
)

// ColumnFunc computes additional result columns for a record about to be emitted.
type ColumnFunc func(ctx context.Context, rec Record) (map[string]any, error)

// #region engine
// Engine evaluates datasets under one protocol. It is not safe for
// concurrent Evaluate calls sharing a store.
type Engine struct {
	cfg      Config
	policy   split.Policy
	sizes    *datasize.Policy
	paradigm paradigm.Paradigm
	paths    persist.Paths

	store     results.Store
	ownsStore bool
	runlog    *sql.DB
	runID     string

	logger  *slog.Logger
	tracker emissions.Tracker
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	columns ColumnFunc
}

// Option configures an Engine.
type Option func(*Engine)

func WithParadigm(p paradigm.Paradigm) Option { return func(e *Engine) { e.paradigm = p } }

// WithStore sets the results store. Without one the engine keeps results
// in an in-memory database for the lifetime of the engine.
func WithStore(s results.Store) Option { return func(e *Engine) { e.store = s } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithEmissions attaches a tracker; nil keeps the null tracker.
func WithEmissions(t emissions.Tracker) Option {
	return func(e *Engine) { e.tracker = emissions.OrDisabled(t) }
}

func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t *telemetry.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithRunLog records unit failures in the unit_errors table of db.
func WithRunLog(db *sql.DB) Option { return func(e *Engine) { e.runlog = db } }

// WithColumns supplies the values of Config.AdditionalColumns.
func WithColumns(fn ColumnFunc) Option { return func(e *Engine) { e.columns = fn } }

// New validates cfg and wires the collaborators.
func New(cfg Config, opts ...Option) (*Engine, error) {
	sizes, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		sizes:   sizes,
		paths:   persist.Paths{Root: cfg.ModelsRoot},
		logger:  slog.Default(),
		tracker: emissions.Disabled{},
		runID:   runlog.NewRunID(),
	}
	e.policy = split.Policy{Kind: cfg.Kind, NFolds: cfg.NFolds, Seed: cfg.Seed}
	if sizes != nil {
		e.policy.Holdout = cfg.TestSize
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.paradigm == nil {
		return nil, fmt.Errorf("%w: no paradigm configured", ErrConfiguration)
	}
	if len(cfg.AdditionalColumns) > 0 && e.columns == nil {
		return nil, fmt.Errorf("%w: additional columns %v need a column function", ErrConfiguration, cfg.AdditionalColumns)
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewTracer(nil)
	}
	if e.runlog != nil {
		if err := runlog.EnsureSchema(e.runlog); err != nil {
			return nil, err
		}
	}
	if e.store == nil {
		s, err := results.NewSQLiteStore(":memory:")
		if err != nil {
			return nil, fmt.Errorf("open in-memory store: %w", err)
		}
		e.store, e.ownsStore = s, true
	}
	e.logger = e.logger.With("evaluation", string(cfg.Kind), "run_id", e.runID)
	return e, nil
}

// Close releases a store the engine opened itself.
func (e *Engine) Close() error {
	if e.ownsStore {
		return e.store.Close()
	}
	return nil
}

// Store returns the results store in use.
func (e *Engine) Store() results.Store { return e.store }

// RunID identifies the runs of this engine in the store and the run log.
func (e *Engine) RunID() string { return e.runID }

// Config returns the validated configuration.
func (e *Engine) Config() Config { return e.cfg }

// #endregion engine

// #region evaluate
// Evaluate checks the dataset, loads its data once and returns a lazy result
// sequence. Configuration and compatibility errors are returned here; unit
// failures are logged during iteration and never abort it.
func (e *Engine) Evaluate(ctx context.Context, ds dataset.Dataset, pipelines map[string]pipeline.Estimator,
	grid map[string]map[string][]any) (*Results, error) {
	r := &Results{e: e, ds: ds, state: StateConfigured}

	r.setState(StateValidating)
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("%w: no pipelines to evaluate", ErrConfiguration)
	}
	for name, est := range pipelines {
		if _, ok := est.(pipeline.Scorer); !ok {
			return nil, fmt.Errorf("%w: pipeline %q (%T) cannot score", ErrConfiguration, name, est)
		}
	}
	if e.cfg.ModelsRoot != "" {
		for name, est := range pipelines {
			if err := pipeline.Persistable(est); err != nil {
				return nil, fmt.Errorf("%w: pipeline %q cannot be saved under %s: %v", ErrConfiguration, name, e.cfg.ModelsRoot, err)
			}
		}
	}
	for name, params := range grid {
		base, ok := pipelines[name]
		if !ok {
			return nil, fmt.Errorf("%w: parameter grid for unknown pipeline %q", ErrConfiguration, name)
		}
		if _, err := pipeline.NewGridSearch(base.Clone(), params, e.cfg.GridFolds, e.cfg.Seed); err != nil {
			return nil, fmt.Errorf("%w: pipeline %q: %v", ErrConfiguration, name, err)
		}
	}
	if err := e.policy.IsValid(ds); err != nil {
		return nil, err
	}
	if err := e.paradigm.Accepts(ds); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDatasetIncompatible, e.paradigm.Name(), err)
	}

	r.names = slices.Sorted(maps.Keys(pipelines))
	r.pipelines, r.grid = pipelines, grid

	if e.cfg.Overwrite {
		for _, name := range r.names {
			n, err := e.store.Delete(ctx, results.Scope{Evaluation: string(e.cfg.Kind),
				Paradigm: e.paradigm.Name(), Dataset: ds.Code(), Pipeline: name})
			if err != nil {
				return nil, err
			}
			if n > 0 {
				e.logger.Info("dropped stored results", "dataset", ds.Code(), "pipeline", name, "rows", n)
			}
		}
	}

	data, err := e.paradigm.GetData(ctx, ds, e.cfg.Subjects, e.cfg.options())
	if err != nil {
		return nil, fmt.Errorf("get data for %s: %w", ds.Code(), err)
	}
	r.data, r.labels = data, data.Labels
	if e.cfg.MNELabels {
		r.labels = make([]string, len(data.Epochs))
		for i, ep := range data.Epochs {
			r.labels[i] = ep.Label
		}
	}
	if e.sizes != nil {
		for fold := range e.policy.Folds(data.Meta, r.labels) {
			if fold.Err != nil {
				continue
			}
			if err := e.sizes.Check(r.labels, fold.Train); err != nil {
				return nil, fmt.Errorf("%s subject %d: %w", ds.Code(), fold.Subject, err)
			}
		}
	}
	e.logger.Info("evaluating", "dataset", ds.Code(), "paradigm", e.paradigm.Name(),
		"examples", data.Len(), "pipelines", len(r.names))
	r.setState(StateIterating)
	return r, nil
}

// #endregion evaluate
