package pipeline

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
)

// #region estimator
// Estimator is anything that can be fitted. Clone returns an unfitted copy
// carrying the same hyperparameters.
type Estimator interface {
	Fit(ctx context.Context, X dataset.Tensor, y []string) error
	Clone() Estimator
}

// Transformer maps examples to features. Every pipeline step but the last must be one.
type Transformer interface {
	Estimator
	Transform(ctx context.Context, X dataset.Tensor) (dataset.Tensor, error)
}

// Scorer evaluates a fitted estimator on held-out examples. Higher is better.
type Scorer interface {
	Estimator
	Score(ctx context.Context, X dataset.Tensor, y []string) (float64, error)
}

// Classifier predicts one label per example.
type Classifier interface {
	Scorer
	Predict(ctx context.Context, X dataset.Tensor) ([]string, error)
}

// #endregion estimator

// #region capabilities
// Tunable exposes hyperparameters to grid search. Nested estimators use
// sklearn-style "step__param" keys.
type Tunable interface {
	Params() map[string]any
	SetParams(params map[string]any) error
}

// Stateful estimators can be persisted and restored through the kind registry.
type Stateful interface {
	Kind() string
	MarshalState() (*structpb.Struct, error)
	UnmarshalState(state *structpb.Struct) error
}

// ArtifactProvider is implemented by steps that want extra named artifacts
// persisted next to the model (weights, optimizer state, training history).
// Keys are file suffixes such as "model.pb" or "history.json".
type ArtifactProvider interface {
	Artifacts(ctx context.Context) (map[string][]byte, error)
}

// #endregion capabilities
