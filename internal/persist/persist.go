// Package persist saves fitted pipelines and grid searches under a
// deterministic directory layout and loads them back.
package persist

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/errkind"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
	"github.com/danielpatrickdp/eegbench/internal/split"
)

// Ext is the extension of every persisted envelope.
const Ext = ".pb"

// ErrNoDestination is returned when saving without a directory.
var ErrNoDestination = fmt.Errorf("%w: no persistence destination configured", errkind.ErrConfiguration)

// #region paths
// Paths builds artifact directories below Root. An empty Root disables persistence.
type Paths struct {
	Root string
}

// SavePath returns the directory for one (kind, dataset, subject, session, pipeline)
// and false when no root is configured. The session segment is present for
// within-session and cross-session, never for cross-subject.
func (p Paths) SavePath(kind split.Kind, code string, subject int, session, pipe string, grid bool) (string, bool) {
	if p.Root == "" {
		return "", false
	}
	prefix := "Models_"
	if grid {
		prefix = "GridSearch_"
	}
	parts := []string{p.Root, prefix + string(kind), code, strconv.Itoa(subject)}
	if kind != split.CrossSubject {
		parts = append(parts, session)
	}
	parts = append(parts, pipe)
	return filepath.Join(parts...), true
}

// #endregion paths

// #region save
// Save writes fitted_model_<index>.pb into dir, plus every sub-artifact
// declared by an ArtifactProvider step as <step>_fitted_<index>_<name>.
func Save(ctx context.Context, model pipeline.Estimator, dir, index string) error {
	if dir == "" {
		return ErrNoDestination
	}
	env, err := pipeline.Encode(model)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := writeEnvelope(filepath.Join(dir, "fitted_model_"+index+Ext), env); err != nil {
		return err
	}
	for _, step := range providers(model) {
		arts, err := step.Estimator.(pipeline.ArtifactProvider).Artifacts(ctx)
		if err != nil {
			return fmt.Errorf("artifacts of %s: %w", step.Name, err)
		}
		for name, data := range arts {
			path := filepath.Join(dir, fmt.Sprintf("%s_fitted_%s_%s", step.Name, index, name))
			if err := writeAtomic(path, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// providers lists the steps of model that declare extra artifacts.
func providers(model pipeline.Estimator) []pipeline.NamedStep {
	if gs, ok := model.(*pipeline.GridSearch); ok && gs.Best() != nil {
		model = gs.Best()
	}
	var steps []pipeline.NamedStep
	if p, ok := model.(*pipeline.Pipeline); ok {
		steps = p.Steps()
	} else if st, ok := model.(pipeline.Stateful); ok {
		steps = []pipeline.NamedStep{{Name: st.Kind(), Estimator: model}}
	}
	var out []pipeline.NamedStep
	for _, s := range steps {
		if _, ok := s.Estimator.(pipeline.ArtifactProvider); ok {
			out = append(out, s)
		}
	}
	return out
}

// SaveBest saves every model by position and the highest scoring one as
// fitted_model_best. The first maximum wins ties and NaN scores never win.
func SaveBest(ctx context.Context, models []pipeline.Estimator, scores []float64, dir string) error {
	if dir == "" {
		return ErrNoDestination
	}
	if len(models) != len(scores) {
		return fmt.Errorf("have %d models for %d scores", len(models), len(scores))
	}
	if len(models) == 0 {
		return errors.New("no models to save")
	}
	best := argmax(scores)
	if best < 0 {
		return errors.New("no model has a comparable score")
	}
	for i, m := range models {
		if err := Save(ctx, m, dir, strconv.Itoa(i)); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
	}
	return Save(ctx, models[best], dir, "best")
}

// argmax returns -1 when every score is NaN.
func argmax(scores []float64) int {
	best := -1
	for i, s := range scores {
		if math.IsNaN(s) {
			continue
		}
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}

// SaveGridSearch writes the fitted grid search, candidate scores included,
// as Grid_Search_<Kind>.pb.
func SaveGridSearch(gs *pipeline.GridSearch, dir string, kind split.Kind) error {
	if dir == "" {
		return ErrNoDestination
	}
	env, err := pipeline.Encode(gs)
	if err != nil {
		return fmt.Errorf("encode grid search: %w", err)
	}
	return writeEnvelope(filepath.Join(dir, "Grid_Search_"+string(kind)+Ext), env)
}

// #endregion save

// #region load
// Load restores an estimator saved by Save or SaveGridSearch.
func Load(path string) (pipeline.Estimator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var env structpb.Struct
	if err := proto.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal model %s: %w", path, err)
	}
	est, err := pipeline.Decode(&env)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	return est, nil
}

// #endregion load

// #region io
func writeEnvelope(path string, env *structpb.Struct) error {
	raw, err := proto.MarshalOptions{Deterministic: true}.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return writeAtomic(path, raw)
}

// writeAtomic replaces path in one rename so readers never see a torn file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "tmp-*"+Ext)
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename temp artifact: %w", err)
	}
	return nil
}

// #endregion io
