package persist

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
	"github.com/danielpatrickdp/eegbench/internal/split"
)

// #region helpers
// netStep stands in for a network step with weights, optimizer and history.
type netStep struct{ epochs int }

func (n *netStep) Fit(context.Context, dataset.Tensor, []string) error {
	n.epochs = 3
	return nil
}
func (n *netStep) Transform(_ context.Context, X dataset.Tensor) (dataset.Tensor, error) {
	return X, nil
}
func (n *netStep) Clone() pipeline.Estimator { return &netStep{} }
func (n *netStep) Kind() string              { return "test_net" }
func (n *netStep) MarshalState() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"epochs": float64(n.epochs)})
}
func (n *netStep) UnmarshalState(s *structpb.Struct) error {
	n.epochs = int(s.GetFields()["epochs"].GetNumberValue())
	return nil
}
func (n *netStep) Artifacts(context.Context) (map[string][]byte, error) {
	return map[string][]byte{
		"model":        []byte("w"),
		"optim":        []byte("o"),
		"history.json": []byte(`[{"epoch":1}]`),
		"criterion":    []byte("c"),
	}, nil
}

func init() {
	pipeline.Register("test_net", func() pipeline.Estimator { return &netStep{} })
}

func features(n int, seed uint64) (dataset.Tensor, []string) {
	rng := rand.New(rand.NewPCG(seed, 2))
	X := dataset.NewTensor(n, 2, 32)
	y := make([]string, n)
	for i := range n {
		y[i] = []string{"a", "b"}[i%2]
		ex := X.Example(i)
		for j := range ex {
			scale := 0.3
			if j/32 == i%2 {
				scale = 3
			}
			ex[j] = scale * rng.NormFloat64()
		}
	}
	return X, y
}

func fitted(t *testing.T, X dataset.Tensor, y []string, metric string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Make(&pipeline.LogVariance{}, pipeline.NewNearestMean(metric))
	require.NoError(t, err)
	require.NoError(t, p.Fit(context.Background(), X, y))
	return p
}

// #endregion helpers

func TestSavePathScheme(t *testing.T) {
	p := Paths{Root: "/models"}
	got, ok := p.SavePath(split.WithinSession, "Fake", 1, "session_0", "csp", false)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/models", "Models_WithinSession", "Fake", "1", "session_0", "csp"), got)

	got, _ = p.SavePath(split.CrossSession, "Fake", 2, "session_1", "csp", true)
	assert.Equal(t, filepath.Join("/models", "GridSearch_CrossSession", "Fake", "2", "session_1", "csp"), got)

	got, _ = p.SavePath(split.CrossSubject, "Fake", 3, "session_0", "csp", false)
	assert.Equal(t, filepath.Join("/models", "Models_CrossSubject", "Fake", "3", "csp"), got)

	again, _ := p.SavePath(split.CrossSubject, "Fake", 3, "session_0", "csp", false)
	assert.Equal(t, got, again)
}

func TestSavePathNoRoot(t *testing.T) {
	for _, grid := range []bool{false, true} {
		got, ok := Paths{}.SavePath(split.WithinSession, "Fake", 1, "session_0", "csp", grid)
		assert.False(t, ok)
		assert.Empty(t, got)
	}
}

func TestSaveWithoutDestination(t *testing.T) {
	X, y := features(10, 1)
	err := Save(context.Background(), fitted(t, X, y, "euclid"), "", "0")
	assert.True(t, errors.Is(err, ErrNoDestination))
	assert.True(t, errors.Is(err, errkind.ErrConfiguration))
}

func TestSaveLoadReproducesScore(t *testing.T) {
	ctx := context.Background()
	X, y := features(30, 4)
	p := fitted(t, X, y, "euclid")
	want, err := p.Score(ctx, X, y)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, Save(ctx, p, dir, "0"))
	loaded, err := Load(filepath.Join(dir, "fitted_model_0.pb"))
	require.NoError(t, err)
	got, err := loaded.(pipeline.Scorer).Score(ctx, X, y)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveBest(t *testing.T) {
	ctx := context.Background()
	X, y := features(20, 5)
	m1, m2 := fitted(t, X, y, "euclid"), fitted(t, X, y, "cosine")
	dir := t.TempDir()
	require.NoError(t, SaveBest(ctx, []pipeline.Estimator{m1, m2}, []float64{0.8, 0.9}, dir))

	for _, name := range []string{"fitted_model_0.pb", "fitted_model_1.pb", "fitted_model_best.pb"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}
	best, err := Load(filepath.Join(dir, "fitted_model_best.pb"))
	require.NoError(t, err)
	assert.Equal(t, "cosine", best.(*pipeline.Pipeline).Params()["nearest_mean__metric"])

	assert.Error(t, SaveBest(ctx, []pipeline.Estimator{m1}, []float64{0.1, 0.2}, dir))
}

func TestSaveBestSingleModel(t *testing.T) {
	ctx := context.Background()
	X, y := features(20, 6)
	dir := t.TempDir()
	require.NoError(t, SaveBest(ctx, []pipeline.Estimator{fitted(t, X, y, "euclid")}, []float64{0.5}, dir))
	_, err := os.Stat(filepath.Join(dir, "fitted_model_best.pb"))
	assert.NoError(t, err)
}

func TestSaveBestIgnoresNaN(t *testing.T) {
	ctx := context.Background()
	X, y := features(20, 8)
	m1, m2 := fitted(t, X, y, "euclid"), fitted(t, X, y, "cosine")
	dir := t.TempDir()
	require.NoError(t, SaveBest(ctx, []pipeline.Estimator{m1, m2}, []float64{math.NaN(), 0.6}, dir))
	best, err := Load(filepath.Join(dir, "fitted_model_best.pb"))
	require.NoError(t, err)
	assert.Equal(t, "cosine", best.(*pipeline.Pipeline).Params()["nearest_mean__metric"])

	require.NoError(t, SaveBest(ctx, []pipeline.Estimator{m1, m2}, []float64{0.8, math.NaN()}, t.TempDir()))

	empty := t.TempDir()
	assert.Error(t, SaveBest(ctx, []pipeline.Estimator{m1, m2}, []float64{math.NaN(), math.NaN()}, empty))
	_, err = os.Stat(filepath.Join(empty, "fitted_model_0.pb"))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveStepArtifacts(t *testing.T) {
	ctx := context.Background()
	X, y := features(10, 7)
	p, err := pipeline.New(
		pipeline.NamedStep{Name: "net", Estimator: &netStep{}},
		pipeline.NamedStep{Name: "lv", Estimator: &pipeline.LogVariance{}},
		pipeline.NamedStep{Name: "clf", Estimator: pipeline.NewNearestMean("euclid")},
	)
	require.NoError(t, err)
	require.NoError(t, p.Fit(ctx, X, y))

	dir := t.TempDir()
	require.NoError(t, Save(ctx, p, dir, "2"))
	for _, name := range []string{"model", "optim", "history.json", "criterion"} {
		_, err := os.Stat(filepath.Join(dir, "net_fitted_2_"+name))
		assert.NoError(t, err, name)
	}

	loaded, err := Load(filepath.Join(dir, "fitted_model_2.pb"))
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.(*pipeline.Pipeline).Steps()[0].Estimator.(*netStep).epochs)
}

func TestSaveGridSearch(t *testing.T) {
	ctx := context.Background()
	X, y := features(30, 8)
	base, err := pipeline.Make(&pipeline.LogVariance{}, pipeline.NewNearestMean("euclid"))
	require.NoError(t, err)
	gs, err := pipeline.NewGridSearch(base, map[string][]any{"nearest_mean__metric": {"euclid", "cosine"}}, 3, 1)
	require.NoError(t, err)
	require.NoError(t, gs.Fit(ctx, X, y))

	root := t.TempDir()
	dir, ok := Paths{Root: root}.SavePath(split.CrossSession, "Fake", 1, "session_0", "nm", true)
	require.True(t, ok)
	require.NoError(t, SaveGridSearch(gs, dir, split.CrossSession))

	loaded, err := Load(filepath.Join(dir, "Grid_Search_CrossSession.pb"))
	require.NoError(t, err)
	assert.Equal(t, gs.BestParams(), loaded.(*pipeline.GridSearch).BestParams())
	assert.Len(t, loaded.(*pipeline.GridSearch).Candidates(), 2)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.pb"))
	assert.Error(t, err)
}
