package codec

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/pipeline"
)

// #region server
// Factory builds an unfitted estimator for a named pipeline.
type Factory func() (pipeline.Estimator, error)

// LocalServer serves in-process estimators over the estimator service, so
// a benchmark can hand fitting to another process or host.
type LocalServer struct {
	factories map[string]Factory
	logger    *slog.Logger

	mu     sync.Mutex
	models map[string]pipeline.Scorer
}

// NewLocalServer serves the given named pipelines.
func NewLocalServer(factories map[string]Factory, logger *slog.Logger) *LocalServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalServer{factories: factories, logger: logger, models: map[string]pipeline.Scorer{}}
}

func (s *LocalServer) Fit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	name := f["pipeline"].GetStringValue()
	factory, ok := s.factories[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown pipeline %q", name)
	}
	est, err := factory()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build %s: %v", name, err)
	}
	sc, ok := est.(pipeline.Scorer)
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition, "pipeline %q cannot score", name)
	}
	if params := f["params"].GetStructValue().AsMap(); len(params) > 0 {
		tun, ok := est.(pipeline.Tunable)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "pipeline %q takes no parameters", name)
		}
		if err := tun.SetParams(params); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "set params: %v", err)
		}
	}
	X, err := DecodeTensor(f["x"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "x: %v", err)
	}
	if err := sc.Fit(ctx, X, readLabels(f["y"])); err != nil {
		return nil, status.Errorf(codes.Internal, "fit %s: %v", name, err)
	}
	state, err := pipeline.Encode(sc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode %s: %v", name, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.models[id] = sc
	s.mu.Unlock()
	s.logger.Info("remote fit", "pipeline", name, "model_id", id, "rows", X.Len())

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(id),
		"state":    structpb.NewStructValue(state),
	}}, nil
}

func (s *LocalServer) Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	sc, err := s.model(f["model_id"].GetStringValue(), f["state"].GetStructValue())
	if err != nil {
		return nil, err
	}
	X, err := DecodeTensor(f["x"])
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "x: %v", err)
	}
	score, err := sc.Score(ctx, X, readLabels(f["y"]))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "score: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"score": structpb.NewNumberValue(score),
	}}, nil
}

// Export returns the artifacts of every step of the model that has any.
func (s *LocalServer) Export(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sc, err := s.model(in.GetFields()["model_id"].GetStringValue(), nil)
	if err != nil {
		return nil, err
	}
	arts := map[string]*structpb.Value{}
	steps := []pipeline.NamedStep{{Name: "model", Estimator: sc}}
	if p, ok := sc.(*pipeline.Pipeline); ok {
		steps = p.Steps()
	}
	for _, step := range steps {
		ap, ok := step.Estimator.(pipeline.ArtifactProvider)
		if !ok {
			continue
		}
		got, err := ap.Artifacts(ctx)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "artifacts of %s: %v", step.Name, err)
		}
		for name, data := range got {
			arts[step.Name+"_"+name] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(data))
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"artifacts": structpb.NewStructValue(&structpb.Struct{Fields: arts}),
	}}, nil
}

// model looks up a fitted model, restoring it from state when this server
// never saw it.
func (s *LocalServer) model(id string, state *structpb.Struct) (pipeline.Scorer, error) {
	s.mu.Lock()
	sc, ok := s.models[id]
	s.mu.Unlock()
	if ok {
		return sc, nil
	}
	if state == nil {
		return nil, status.Errorf(codes.NotFound, "unknown model %q", id)
	}
	est, err := pipeline.Decode(state)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "restore model: %v", err)
	}
	sc, ok = est.(pipeline.Scorer)
	if !ok {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("restored %T cannot score", est))
	}
	if id != "" {
		s.mu.Lock()
		s.models[id] = sc
		s.mu.Unlock()
	}
	return sc, nil
}

// #endregion server
