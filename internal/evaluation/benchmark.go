package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
)

// #region benchmark
// Benchmark evaluates the same pipelines on several datasets.
type Benchmark struct {
	Engine   *Engine
	Datasets []dataset.Dataset
}

// Summary counts units across every dataset of a Process call.
type Summary struct {
	Datasets     int
	Incompatible []string
	Stats        Stats
	Failures     []*UnitError
}

// Process runs every dataset and returns the new records. Datasets the
// evaluation kind cannot handle are logged and skipped. A run that neither
// produced nor skipped anything fails with ErrNoResults.
func (b *Benchmark) Process(ctx context.Context, pipelines map[string]pipeline.Estimator,
	grid map[string]map[string][]any) ([]Record, Summary, error) {
	var (
		out []Record
		sum Summary
	)
	for _, ds := range b.Datasets {
		res, err := b.Engine.Evaluate(ctx, ds, pipelines, grid)
		if errors.Is(err, ErrDatasetIncompatible) {
			b.Engine.logger.Warn("skipping dataset", "dataset", ds.Code(), "err", err)
			sum.Incompatible = append(sum.Incompatible, ds.Code())
			continue
		}
		if err != nil {
			return out, sum, err
		}
		recs, err := res.Collect(ctx)
		out = append(out, recs...)
		st := res.Stats()
		sum.Datasets++
		sum.Stats.Emitted += st.Emitted
		sum.Stats.Fitted += st.Fitted
		sum.Stats.Skipped += st.Skipped
		sum.Stats.Failed += st.Failed
		sum.Failures = append(sum.Failures, res.Failures()...)
		if err != nil {
			return out, sum, fmt.Errorf("evaluate %s: %w", ds.Code(), err)
		}
	}
	if len(out) == 0 && sum.Stats.Skipped == 0 {
		return nil, sum, fmt.Errorf("%w: %d dataset(s), %d failed unit(s)", ErrNoResults, sum.Datasets, sum.Stats.Failed)
	}
	return out, sum, nil
}

// #endregion benchmark
