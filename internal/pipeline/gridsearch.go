package pipeline

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"gonum.org/v1/gonum/stat"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/split"
)

const kindGridSearch = "grid_search"

// #region types
// Candidate is one hyperparameter combination and its inner-CV scores.
type Candidate struct {
	Params     map[string]any
	FoldScores []float64
	MeanScore  float64
}

// GridSearch picks the best parameter combination with an inner stratified
// k-fold over the rows it is fitted on, then refits on all of them.
type GridSearch struct {
	base  Estimator
	grid  map[string][]any
	folds int
	seed  uint64

	best       Scorer
	bestParams map[string]any
	bestScore  float64
	candidates []Candidate
}

// NewGridSearch wraps a tunable scorer.
func NewGridSearch(base Estimator, grid map[string][]any, folds int, seed uint64) (*GridSearch, error) {
	if _, ok := base.(Tunable); !ok {
		return nil, fmt.Errorf("grid search needs a tunable estimator, got %T", base)
	}
	if _, ok := base.(Scorer); !ok {
		return nil, fmt.Errorf("grid search needs a scorer, got %T", base)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("empty parameter grid")
	}
	for k, vals := range grid {
		if len(vals) == 0 {
			return nil, fmt.Errorf("parameter %q has no candidate values", k)
		}
	}
	if folds < 2 {
		folds = 3
	}
	return &GridSearch{base: base, grid: grid, folds: folds, seed: seed}, nil
}

// #endregion types

// #region candidates
// expand lists the cartesian product of the grid in sorted key order.
func expand(grid map[string][]any) []map[string]any {
	keys := slices.Sorted(maps.Keys(grid))
	out := []map[string]any{{}}
	for _, k := range keys {
		var next []map[string]any
		for _, partial := range out {
			for _, v := range grid[k] {
				c := maps.Clone(partial)
				c[k] = v
				next = append(next, c)
			}
		}
		out = next
	}
	return out
}

// #endregion candidates

// #region fit
func (g *GridSearch) Fit(ctx context.Context, X dataset.Tensor, y []string) error {
	rows := make([]int, len(y))
	for i := range rows {
		rows[i] = i
	}
	cv, err := split.StratifiedKFold(y, rows, g.folds, g.seed)
	if err != nil {
		return fmt.Errorf("grid search folds: %w", err)
	}

	g.candidates = nil
	bestIdx := -1
	for _, params := range expand(g.grid) {
		cand := Candidate{Params: params}
		for _, tt := range cv {
			if err := ctx.Err(); err != nil {
				return err
			}
			est, err := g.configured(params)
			if err != nil {
				return err
			}
			if err := est.Fit(ctx, X.Take(tt.Train), dataset.TakeLabels(y, tt.Train)); err != nil {
				return fmt.Errorf("candidate %v: %w", params, err)
			}
			s, err := est.Score(ctx, X.Take(tt.Test), dataset.TakeLabels(y, tt.Test))
			if err != nil {
				return fmt.Errorf("candidate %v: %w", params, err)
			}
			cand.FoldScores = append(cand.FoldScores, s)
		}
		cand.MeanScore = stat.Mean(cand.FoldScores, nil)
		g.candidates = append(g.candidates, cand)
		if bestIdx < 0 || cand.MeanScore > g.candidates[bestIdx].MeanScore {
			bestIdx = len(g.candidates) - 1
		}
	}

	best := g.candidates[bestIdx]
	est, err := g.configured(best.Params)
	if err != nil {
		return err
	}
	if err := est.Fit(ctx, X, y); err != nil {
		return fmt.Errorf("refit best: %w", err)
	}
	g.best, g.bestParams, g.bestScore = est, best.Params, best.MeanScore
	return nil
}

func (g *GridSearch) configured(params map[string]any) (Scorer, error) {
	est := g.base.Clone()
	if err := est.(Tunable).SetParams(maps.Clone(params)); err != nil {
		return nil, fmt.Errorf("set params %v: %w", params, err)
	}
	return est.(Scorer), nil
}

func (g *GridSearch) Score(ctx context.Context, X dataset.Tensor, y []string) (float64, error) {
	if g.best == nil {
		return 0, fmt.Errorf("grid search is not fitted")
	}
	return g.best.Score(ctx, X, y)
}

func (g *GridSearch) Clone() Estimator {
	return &GridSearch{base: g.base.Clone(), grid: g.grid, folds: g.folds, seed: g.seed}
}

// Best returns the refitted best estimator, nil before Fit.
func (g *GridSearch) Best() Estimator {
	if g.best == nil {
		return nil
	}
	return g.best
}

// BestParams returns the winning combination.
func (g *GridSearch) BestParams() map[string]any { return g.bestParams }

// Candidates returns every combination tried, in grid order.
func (g *GridSearch) Candidates() []Candidate { return g.candidates }

// #endregion fit

// #region state
func (g *GridSearch) Kind() string { return kindGridSearch }

func (g *GridSearch) MarshalState() (*structpb.Struct, error) {
	if g.best == nil {
		return nil, fmt.Errorf("grid search is not fitted")
	}
	best, err := Encode(g.best)
	if err != nil {
		return nil, err
	}
	bestParams, err := ParamsStruct(g.bestParams)
	if err != nil {
		return nil, err
	}
	cands := make([]*structpb.Value, len(g.candidates))
	for i, c := range g.candidates {
		params, err := ParamsStruct(c.Params)
		if err != nil {
			return nil, err
		}
		cands[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"params":      structpb.NewStructValue(params),
			"fold_scores": floatList(c.FoldScores),
			"mean_score":  structpb.NewNumberValue(c.MeanScore),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"best":        structpb.NewStructValue(best),
		"best_params": structpb.NewStructValue(bestParams),
		"best_score":  structpb.NewNumberValue(g.bestScore),
		"folds":       structpb.NewNumberValue(float64(g.folds)),
		"candidates":  structpb.NewListValue(&structpb.ListValue{Values: cands}),
	}}, nil
}

// UnmarshalState restores the fitted best estimator. The unfitted base is
// taken to be a fresh clone of it.
func (g *GridSearch) UnmarshalState(state *structpb.Struct) error {
	f := state.GetFields()
	best, err := Decode(f["best"].GetStructValue())
	if err != nil {
		return err
	}
	sc, ok := best.(Scorer)
	if !ok {
		return fmt.Errorf("restored best %T cannot score", best)
	}
	g.best, g.base = sc, best.Clone()
	g.bestParams = f["best_params"].GetStructValue().AsMap()
	g.bestScore = f["best_score"].GetNumberValue()
	g.folds = int(f["folds"].GetNumberValue())
	g.candidates = nil
	g.grid = map[string][]any{}
	for _, v := range f["candidates"].GetListValue().GetValues() {
		cf := v.GetStructValue().GetFields()
		c := Candidate{
			Params:     cf["params"].GetStructValue().AsMap(),
			FoldScores: readFloats(cf["fold_scores"]),
			MeanScore:  cf["mean_score"].GetNumberValue(),
		}
		for k, pv := range c.Params {
			if !slices.ContainsFunc(g.grid[k], func(x any) bool { return reflect.DeepEqual(x, pv) }) {
				g.grid[k] = append(g.grid[k], pv)
			}
		}
		g.candidates = append(g.candidates, c)
	}
	return nil
}

// #endregion state
