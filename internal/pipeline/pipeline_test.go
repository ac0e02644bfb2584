package pipeline

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
)

// #region helpers
// bandData builds (n, 2, 64) examples where "left" has high variance on
// channel 0 and "right" on channel 1.
func bandData(n int, seed uint64) (dataset.Tensor, []string) {
	rng := rand.New(rand.NewPCG(seed, 1))
	X := dataset.NewTensor(n, 2, 64)
	y := make([]string, n)
	for i := range n {
		loud := i % 2
		y[i] = []string{"left", "right"}[loud]
		ex := X.Example(i)
		for c := range 2 {
			scale := 0.2
			if c == loud {
				scale = 2.0
			}
			for t := range 64 {
				ex[c*64+t] = scale * rng.NormFloat64()
			}
		}
	}
	return X, y
}

func mustMake(t *testing.T, ests ...Estimator) *Pipeline {
	t.Helper()
	p, err := Make(ests...)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	return p
}

// #endregion helpers

func TestMakeNamesSteps(t *testing.T) {
	p := mustMake(t, &LogVariance{}, NewNearestMean("euclid"))
	steps := p.Steps()
	if steps[0].Name != "log_variance" || steps[1].Name != "nearest_mean" {
		t.Fatalf("unexpected step names %q, %q", steps[0].Name, steps[1].Name)
	}
}

func TestNewValidation(t *testing.T) {
	cases := map[string][]NamedStep{
		"empty":     nil,
		"dunder":    {{Name: "a__b", Estimator: &LogVariance{}}},
		"duplicate": {{Name: "a", Estimator: &LogVariance{}}, {Name: "a", Estimator: &MostFrequent{}}},
		"nil":       {{Name: "a"}},
		"order":     {{Name: "clf", Estimator: &MostFrequent{}}, {Name: "lv", Estimator: &LogVariance{}}},
	}
	for name, steps := range cases {
		if _, err := New(steps...); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPipelineFitScore(t *testing.T) {
	ctx := context.Background()
	X, y := bandData(60, 7)
	p := mustMake(t, &LogVariance{}, NewNearestMean("euclid"))
	if err := p.Fit(ctx, X.Take(seq(0, 40)), y[:40]); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	score, err := p.Score(ctx, X.Take(seq(40, 60)), y[40:])
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score < 0.9 {
		t.Fatalf("expected separable data to score >= 0.9, got %.3f", score)
	}
	pred, err := p.Predict(ctx, X.Take(seq(40, 60)))
	if err != nil || len(pred) != 20 {
		t.Fatalf("Predict: %d, %v", len(pred), err)
	}
}

func TestMostFrequentBaseline(t *testing.T) {
	ctx := context.Background()
	X := dataset.NewTensor(5, 1)
	m := &MostFrequent{}
	if err := m.Fit(ctx, X, []string{"b", "a", "b", "a", "c"}); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	pred, _ := m.Predict(ctx, X)
	if pred[0] != "a" {
		t.Fatalf("expected lexicographic tie-break to a, got %s", pred[0])
	}
}

func TestSetParamsRouting(t *testing.T) {
	p := mustMake(t, &LogVariance{}, NewNearestMean("euclid"))
	if err := p.SetParams(map[string]any{"nearest_mean__metric": "cosine"}); err != nil {
		t.Fatalf("SetParams: %v", err)
	}
	if got := p.Params()["nearest_mean__metric"]; got != "cosine" {
		t.Fatalf("expected cosine, got %v", got)
	}
	for _, bad := range []map[string]any{
		{"metric": "cosine"},
		{"missing__metric": "cosine"},
		{"log_variance__x": 1.0},
		{"nearest_mean__metric": "manhattan"},
	} {
		if err := p.SetParams(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestCloneIsUnfitted(t *testing.T) {
	ctx := context.Background()
	X, y := bandData(20, 3)
	p := mustMake(t, &LogVariance{}, NewNearestMean("cosine"))
	if err := p.Fit(ctx, X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	c := p.Clone().(*Pipeline)
	if _, err := c.Score(ctx, X, y); err == nil || !strings.Contains(err.Error(), "not fitted") {
		t.Fatalf("expected not fitted error, got %v", err)
	}
	if c.Params()["nearest_mean__metric"] != "cosine" {
		t.Fatal("clone lost hyperparameters")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	X, y := bandData(40, 11)
	p := mustMake(t, &LogVariance{}, NewNearestMean("euclid"))
	if err := p.Fit(ctx, X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	want, _ := p.Score(ctx, X, y)

	env, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, err := restored.(Scorer).Score(ctx, X, y)
	if err != nil {
		t.Fatalf("Score restored: %v", err)
	}
	if got != want {
		t.Fatalf("restored score %.4f, want %.4f", got, want)
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	env, _ := Encode(&MostFrequent{class: "a"})
	env.Fields["kind"].Kind = nil
	if _, err := Decode(env); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAccuracy(t *testing.T) {
	got, err := Accuracy([]string{"a", "b", "a", "a"}, []string{"a", "b", "b", "a"})
	if err != nil || got != 0.75 {
		t.Fatalf("Accuracy = %v, %v", got, err)
	}
	if _, err := Accuracy([]string{"a"}, nil); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// opaque scores but cannot be encoded.
type opaque struct{}

func (opaque) Fit(context.Context, dataset.Tensor, []string) error { return nil }
func (opaque) Clone() Estimator                                    { return opaque{} }
func (opaque) Score(context.Context, dataset.Tensor, []string) (float64, error) {
	return 1, nil
}

func TestPersistable(t *testing.T) {
	if err := Persistable(mustMake(t, &LogVariance{}, NewNearestMean("euclid"))); err != nil {
		t.Fatalf("built-in pipeline: %v", err)
	}
	if err := Persistable(opaque{}); err == nil {
		t.Fatal("expected opaque estimator to be rejected")
	}
	p, err := New(NamedStep{Name: "lv", Estimator: &LogVariance{}}, NamedStep{Name: "clf", Estimator: opaque{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := Persistable(p); err == nil || !strings.Contains(err.Error(), "step clf") {
		t.Fatalf("expected the clf step to be named, got %v", err)
	}
}
