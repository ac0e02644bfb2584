package pipeline

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
)

const kindPipeline = "pipeline"

// #region pipeline
// NamedStep pairs a step name with its estimator.
type NamedStep struct {
	Name      string
	Estimator Estimator
}

// Pipeline chains transformers and ends with a scorer.
type Pipeline struct {
	steps []NamedStep
}

// New validates step names and that every step but the last transforms.
func New(steps ...NamedStep) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("pipeline needs at least one step")
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" || strings.Contains(s.Name, "__") {
			return nil, fmt.Errorf("invalid step name %q", s.Name)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate step name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Estimator == nil {
			return nil, fmt.Errorf("step %q has no estimator", s.Name)
		}
		if _, ok := s.Estimator.(Transformer); !ok && i < len(steps)-1 {
			return nil, fmt.Errorf("intermediate step %q (%T) does not transform", s.Name, s.Estimator)
		}
	}
	return &Pipeline{steps: steps}, nil
}

// Make names steps after their kind, like sklearn's make_pipeline.
func Make(ests ...Estimator) (*Pipeline, error) {
	steps := make([]NamedStep, len(ests))
	for i, e := range ests {
		name := fmt.Sprintf("%T", e)
		if st, ok := e.(Stateful); ok {
			name = st.Kind()
		}
		name = strings.ToLower(strings.TrimPrefix(name, "*pipeline."))
		steps[i] = NamedStep{Name: name, Estimator: e}
	}
	return New(steps...)
}

// Steps returns the pipeline steps in order.
func (p *Pipeline) Steps() []NamedStep { return p.steps }

func (p *Pipeline) final() Estimator { return p.steps[len(p.steps)-1].Estimator }

// #endregion pipeline

// #region fit-score
func (p *Pipeline) Fit(ctx context.Context, X dataset.Tensor, y []string) error {
	for _, s := range p.steps[:len(p.steps)-1] {
		if err := s.Estimator.Fit(ctx, X, y); err != nil {
			return fmt.Errorf("fit %s: %w", s.Name, err)
		}
		next, err := s.Estimator.(Transformer).Transform(ctx, X)
		if err != nil {
			return fmt.Errorf("transform %s: %w", s.Name, err)
		}
		X = next
	}
	last := p.steps[len(p.steps)-1]
	if err := last.Estimator.Fit(ctx, X, y); err != nil {
		return fmt.Errorf("fit %s: %w", last.Name, err)
	}
	return nil
}

func (p *Pipeline) transform(ctx context.Context, X dataset.Tensor) (dataset.Tensor, error) {
	for _, s := range p.steps[:len(p.steps)-1] {
		next, err := s.Estimator.(Transformer).Transform(ctx, X)
		if err != nil {
			return dataset.Tensor{}, fmt.Errorf("transform %s: %w", s.Name, err)
		}
		X = next
	}
	return X, nil
}

func (p *Pipeline) Score(ctx context.Context, X dataset.Tensor, y []string) (float64, error) {
	sc, ok := p.final().(Scorer)
	if !ok {
		return 0, fmt.Errorf("final step %T cannot score", p.final())
	}
	Xt, err := p.transform(ctx, X)
	if err != nil {
		return 0, err
	}
	return sc.Score(ctx, Xt, y)
}

func (p *Pipeline) Predict(ctx context.Context, X dataset.Tensor) ([]string, error) {
	cl, ok := p.final().(Classifier)
	if !ok {
		return nil, fmt.Errorf("final step %T cannot predict", p.final())
	}
	Xt, err := p.transform(ctx, X)
	if err != nil {
		return nil, err
	}
	return cl.Predict(ctx, Xt)
}

func (p *Pipeline) Clone() Estimator {
	steps := make([]NamedStep, len(p.steps))
	for i, s := range p.steps {
		steps[i] = NamedStep{Name: s.Name, Estimator: s.Estimator.Clone()}
	}
	return &Pipeline{steps: steps}
}

// #endregion fit-score

// #region params
func (p *Pipeline) Params() map[string]any {
	out := make(map[string]any)
	for _, s := range p.steps {
		t, ok := s.Estimator.(Tunable)
		if !ok {
			continue
		}
		for k, v := range t.Params() {
			out[s.Name+"__"+k] = v
		}
	}
	return out
}

func (p *Pipeline) SetParams(params map[string]any) error {
	byStep := make(map[string]map[string]any)
	for key, v := range params {
		name, param, ok := strings.Cut(key, "__")
		if !ok {
			return fmt.Errorf("parameter %q is not of the form step__param", key)
		}
		if byStep[name] == nil {
			byStep[name] = make(map[string]any)
		}
		byStep[name][param] = v
	}
	for name, sub := range byStep {
		var target Estimator
		for _, s := range p.steps {
			if s.Name == name {
				target = s.Estimator
			}
		}
		if target == nil {
			return fmt.Errorf("no step named %q", name)
		}
		t, ok := target.(Tunable)
		if !ok {
			return fmt.Errorf("step %q has no parameters", name)
		}
		if err := t.SetParams(maps.Clone(sub)); err != nil {
			return fmt.Errorf("step %s: %w", name, err)
		}
	}
	return nil
}

// #endregion params

// #region state
func (p *Pipeline) Kind() string { return kindPipeline }

func (p *Pipeline) MarshalState() (*structpb.Struct, error) {
	steps := make([]*structpb.Value, len(p.steps))
	for i, s := range p.steps {
		env, err := Encode(s.Estimator)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.Name, err)
		}
		steps[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"name":      structpb.NewStringValue(s.Name),
			"estimator": structpb.NewStructValue(env),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"steps": structpb.NewListValue(&structpb.ListValue{Values: steps}),
	}}, nil
}

func (p *Pipeline) UnmarshalState(state *structpb.Struct) error {
	var steps []NamedStep
	for _, v := range state.GetFields()["steps"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		est, err := Decode(f["estimator"].GetStructValue())
		if err != nil {
			return err
		}
		steps = append(steps, NamedStep{Name: f["name"].GetStringValue(), Estimator: est})
	}
	restored, err := New(steps...)
	if err != nil {
		return err
	}
	p.steps = restored.steps
	return nil
}

// #endregion state
