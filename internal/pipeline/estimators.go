package pipeline

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
)

const (
	kindLogVariance  = "log_variance"
	kindNearestMean  = "nearest_mean"
	kindMostFrequent = "most_frequent"
)

// #region log-variance
// LogVariance reduces each (channel, filter) time series to its log variance,
// the usual band-power feature for motor imagery. Output shape is (n, channels*filters).
type LogVariance struct{}

func (l *LogVariance) Fit(context.Context, dataset.Tensor, []string) error { return nil }

func (l *LogVariance) Transform(_ context.Context, X dataset.Tensor) (dataset.Tensor, error) {
	if len(X.Shape) < 3 {
		return dataset.Tensor{}, fmt.Errorf("log variance wants (n, channels, times[, filters]), got %v", X.Shape)
	}
	nCh, nT, nF := X.Shape[1], X.Shape[2], 1
	if len(X.Shape) == 4 {
		nF = X.Shape[3]
	}
	out := dataset.NewTensor(X.Len(), nCh*nF)
	series := make([]float64, nT)
	for i := range X.Len() {
		ex := X.Example(i)
		row := out.Example(i)
		for c := range nCh {
			for f := range nF {
				for t := range nT {
					series[t] = ex[(c*nT+t)*nF+f]
				}
				row[c*nF+f] = math.Log(stat.Variance(series, nil) + 1e-12)
			}
		}
	}
	return out, nil
}

func (l *LogVariance) Clone() Estimator { return &LogVariance{} }

func (l *LogVariance) Kind() string { return kindLogVariance }

func (l *LogVariance) MarshalState() (*structpb.Struct, error) { return &structpb.Struct{}, nil }

func (l *LogVariance) UnmarshalState(*structpb.Struct) error { return nil }

// #endregion log-variance

// #region nearest-mean
// NearestMean assigns each example to the class with the closest centroid.
// Deterministic: the same training rows always give the same centroids.
type NearestMean struct {
	metric    string // "euclid" | "cosine"
	classes   []string
	centroids [][]float64
}

// NewNearestMean returns an unfitted classifier.
func NewNearestMean(metric string) *NearestMean {
	return &NearestMean{metric: metric}
}

func (m *NearestMean) Fit(_ context.Context, X dataset.Tensor, y []string) error {
	if X.Len() != len(y) {
		return fmt.Errorf("X has %d rows, y %d", X.Len(), len(y))
	}
	if X.Len() == 0 {
		return fmt.Errorf("no training examples")
	}
	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)

	dim := X.Stride()
	centroids := make([][]float64, len(classes))
	counts := make([]float64, len(classes))
	for i := range centroids {
		centroids[i] = make([]float64, dim)
	}
	for i, label := range y {
		k, _ := slices.BinarySearch(classes, label)
		floats.Add(centroids[k], X.Example(i))
		counts[k]++
	}
	for k := range centroids {
		floats.Scale(1/counts[k], centroids[k])
	}
	m.classes, m.centroids = classes, centroids
	return nil
}

func (m *NearestMean) distance(a, b []float64) float64 {
	if m.metric == "cosine" {
		na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - floats.Dot(a, b)/(na*nb)
	}
	return floats.Distance(a, b, 2)
}

func (m *NearestMean) Predict(_ context.Context, X dataset.Tensor) ([]string, error) {
	if m.centroids == nil {
		return nil, fmt.Errorf("nearest mean is not fitted")
	}
	if X.Len() > 0 && X.Stride() != len(m.centroids[0]) {
		return nil, fmt.Errorf("expected %d features, got %d", len(m.centroids[0]), X.Stride())
	}
	out := make([]string, X.Len())
	for i := range out {
		best, bestDist := 0, math.Inf(1)
		for k, c := range m.centroids {
			if d := m.distance(X.Example(i), c); d < bestDist {
				best, bestDist = k, d
			}
		}
		out[i] = m.classes[best]
	}
	return out, nil
}

func (m *NearestMean) Score(ctx context.Context, X dataset.Tensor, y []string) (float64, error) {
	pred, err := m.Predict(ctx, X)
	if err != nil {
		return 0, err
	}
	return Accuracy(pred, y)
}

func (m *NearestMean) Clone() Estimator { return NewNearestMean(m.metric) }

func (m *NearestMean) Params() map[string]any { return map[string]any{"metric": m.metric} }

func (m *NearestMean) SetParams(params map[string]any) error {
	for k, v := range params {
		if k != "metric" {
			return fmt.Errorf("unknown parameter %q", k)
		}
		s, ok := v.(string)
		if !ok || (s != "euclid" && s != "cosine") {
			return fmt.Errorf("metric must be euclid or cosine, got %v", v)
		}
		m.metric = s
	}
	return nil
}

func (m *NearestMean) Kind() string { return kindNearestMean }

func (m *NearestMean) MarshalState() (*structpb.Struct, error) {
	cents := make([]*structpb.Value, len(m.centroids))
	for i, c := range m.centroids {
		cents[i] = floatList(c)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"metric":    structpb.NewStringValue(m.metric),
		"classes":   stringList(m.classes),
		"centroids": structpb.NewListValue(&structpb.ListValue{Values: cents}),
	}}, nil
}

func (m *NearestMean) UnmarshalState(state *structpb.Struct) error {
	f := state.GetFields()
	m.metric = f["metric"].GetStringValue()
	m.classes = readStrings(f["classes"])
	m.centroids = nil
	for _, v := range f["centroids"].GetListValue().GetValues() {
		m.centroids = append(m.centroids, readFloats(v))
	}
	if len(m.classes) != len(m.centroids) {
		return fmt.Errorf("%d classes but %d centroids", len(m.classes), len(m.centroids))
	}
	if len(m.centroids) == 0 {
		m.centroids, m.classes = nil, nil
	}
	return nil
}

// #endregion nearest-mean

// #region most-frequent
// MostFrequent always predicts the majority training class; the chance baseline.
type MostFrequent struct {
	class string
}

func (d *MostFrequent) Fit(_ context.Context, _ dataset.Tensor, y []string) error {
	if len(y) == 0 {
		return fmt.Errorf("no training labels")
	}
	counts := make(map[string]int)
	for _, l := range y {
		counts[l]++
	}
	best := ""
	for l, n := range counts {
		if n > counts[best] || (n == counts[best] && l < best) {
			best = l
		}
	}
	d.class = best
	return nil
}

func (d *MostFrequent) Predict(_ context.Context, X dataset.Tensor) ([]string, error) {
	out := make([]string, X.Len())
	for i := range out {
		out[i] = d.class
	}
	return out, nil
}

func (d *MostFrequent) Score(ctx context.Context, X dataset.Tensor, y []string) (float64, error) {
	pred, _ := d.Predict(ctx, X)
	return Accuracy(pred, y)
}

func (d *MostFrequent) Clone() Estimator { return &MostFrequent{} }

func (d *MostFrequent) Kind() string { return kindMostFrequent }

func (d *MostFrequent) MarshalState() (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"class": structpb.NewStringValue(d.class),
	}}, nil
}

func (d *MostFrequent) UnmarshalState(state *structpb.Struct) error {
	d.class = state.GetFields()["class"].GetStringValue()
	return nil
}

// #endregion most-frequent

// #region accuracy
// Accuracy is the fraction of matching labels.
func Accuracy(pred, y []string) (float64, error) {
	if len(pred) != len(y) {
		return 0, fmt.Errorf("have %d predictions for %d labels", len(pred), len(y))
	}
	if len(y) == 0 {
		return 0, fmt.Errorf("no labels to score")
	}
	hit := 0
	for i := range y {
		if pred[i] == y[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(y)), nil
}

// #endregion accuracy
