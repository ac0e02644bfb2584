package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"
)

// #region registry
var (
	registryMu sync.RWMutex
	registry   = map[string]func() Estimator{}
)

// Register makes a kind decodable. Registering a kind twice panics.
func Register(kind string, factory func() Estimator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("pipeline: duplicate kind " + kind)
	}
	registry[kind] = factory
}

// NewKind returns a fresh estimator of a registered kind.
func NewKind(kind string) (Estimator, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown estimator kind %q", kind)
	}
	return factory(), nil
}

// Kinds lists the registered kinds.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(kindPipeline, func() Estimator { return &Pipeline{} })
	Register(kindGridSearch, func() Estimator { return &GridSearch{} })
	Register(kindLogVariance, func() Estimator { return &LogVariance{} })
	Register(kindNearestMean, func() Estimator { return NewNearestMean("euclid") })
	Register(kindMostFrequent, func() Estimator { return &MostFrequent{} })
}

// #endregion registry

// #region envelope
// Encode wraps an estimator's state with its kind.
func Encode(est Estimator) (*structpb.Struct, error) {
	st, ok := est.(Stateful)
	if !ok {
		return nil, fmt.Errorf("estimator %T is not persistable", est)
	}
	state, err := st.MarshalState()
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", st.Kind(), err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":  structpb.NewStringValue(st.Kind()),
		"state": structpb.NewStructValue(state),
	}}, nil
}

// Persistable reports whether Encode can succeed on est once fitted,
// looking through pipelines and grid searches.
func Persistable(est Estimator) error {
	switch e := est.(type) {
	case *Pipeline:
		for _, s := range e.steps {
			if err := Persistable(s.Estimator); err != nil {
				return fmt.Errorf("step %s: %w", s.Name, err)
			}
		}
		return nil
	case *GridSearch:
		return Persistable(e.base)
	}
	if _, ok := est.(Stateful); !ok {
		return fmt.Errorf("estimator %T is not persistable", est)
	}
	return nil
}

// Decode rebuilds an estimator from an envelope produced by Encode.
func Decode(env *structpb.Struct) (Estimator, error) {
	kind := env.GetFields()["kind"].GetStringValue()
	est, err := NewKind(kind)
	if err != nil {
		return nil, err
	}
	st, ok := est.(Stateful)
	if !ok {
		return nil, fmt.Errorf("kind %q is not stateful", kind)
	}
	if err := st.UnmarshalState(env.GetFields()["state"].GetStructValue()); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return est, nil
}

// #endregion envelope

// #region value-helpers
func floatList(v []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, f := range v {
		vals[i] = structpb.NewNumberValue(f)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func stringList(v []string) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, s := range v {
		vals[i] = structpb.NewStringValue(s)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func readFloats(v *structpb.Value) []float64 {
	items := v.GetListValue().GetValues()
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = it.GetNumberValue()
	}
	return out
}

func readStrings(v *structpb.Value) []string {
	items := v.GetListValue().GetValues()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.GetStringValue()
	}
	return out
}

// ParamsStruct converts a parameter map; values must be JSON-like.
func ParamsStruct(params map[string]any) (*structpb.Struct, error) {
	if params == nil {
		params = map[string]any{}
	}
	return structpb.NewStruct(params)
}

// #endregion value-helpers
