package codec

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/pipeline"
)

const kindRemote = "remote"

func init() {
	pipeline.Register(kindRemote, func() pipeline.Estimator { return &Remote{} })
}

var errNotFitted = errors.New("remote estimator not fitted")

// #region remote
// Remote is an estimator trained and scored by an estimator server. It
// carries the server address and the fitted state so a persisted model can
// be restored and scored against a fresh server.
type Remote struct {
	addr     string
	pipeline string
	params   map[string]any

	mu      sync.Mutex
	client  *Client
	modelID string
	state   *structpb.Struct
}

// NewRemote targets pipeline on the server at addr. client may be nil, in
// which case the connection is opened on first use.
func NewRemote(client *Client, addr, pipeline string) *Remote {
	return &Remote{addr: addr, pipeline: pipeline, params: map[string]any{}, client: client}
}

// Connect attaches a client, replacing the lazily dialed one.
func (r *Remote) Connect(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = c
}

func (r *Remote) conn() (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	if r.addr == "" {
		return nil, errors.New("remote estimator has no address")
	}
	c, err := NewClient(r.addr)
	if err != nil {
		return nil, err
	}
	r.client = c
	return c, nil
}

func (r *Remote) Fit(ctx context.Context, X dataset.Tensor, y []string) error {
	c, err := r.conn()
	if err != nil {
		return err
	}
	res, err := c.Fit(ctx, r.pipeline, r.params, X, y)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.modelID, r.state = res.ModelID, res.State
	r.mu.Unlock()
	return nil
}

func (r *Remote) Score(ctx context.Context, X dataset.Tensor, y []string) (float64, error) {
	r.mu.Lock()
	id, state := r.modelID, r.state
	r.mu.Unlock()
	if id == "" && state == nil {
		return 0, errNotFitted
	}
	c, err := r.conn()
	if err != nil {
		return 0, err
	}
	return c.Score(ctx, id, state, X, y)
}

// Clone shares the client but not the fitted model.
func (r *Remote) Clone() pipeline.Estimator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Remote{addr: r.addr, pipeline: r.pipeline, params: maps.Clone(r.params), client: r.client}
}

// #endregion remote

// #region params
// Params are forwarded to the server untouched; the server validates them.
func (r *Remote) Params() map[string]any { return maps.Clone(r.params) }

func (r *Remote) SetParams(params map[string]any) error {
	if r.params == nil {
		r.params = map[string]any{}
	}
	maps.Copy(r.params, params)
	return nil
}

// #endregion params

// #region artifacts
// Artifacts fetches whatever the server exports for the fitted model.
func (r *Remote) Artifacts(ctx context.Context) (map[string][]byte, error) {
	r.mu.Lock()
	id := r.modelID
	r.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	c, err := r.conn()
	if err != nil {
		return nil, err
	}
	return c.Export(ctx, id)
}

// #endregion artifacts

// #region state
func (r *Remote) Kind() string { return kindRemote }

func (r *Remote) MarshalState() (*structpb.Struct, error) {
	params, err := pipeline.ParamsStruct(r.params)
	if err != nil {
		return nil, fmt.Errorf("remote params: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fields := map[string]*structpb.Value{
		"addr":     structpb.NewStringValue(r.addr),
		"pipeline": structpb.NewStringValue(r.pipeline),
		"params":   structpb.NewStructValue(params),
		"model_id": structpb.NewStringValue(r.modelID),
	}
	if r.state != nil {
		fields["state"] = structpb.NewStructValue(r.state)
	}
	return &structpb.Struct{Fields: fields}, nil
}

func (r *Remote) UnmarshalState(state *structpb.Struct) error {
	f := state.GetFields()
	if f["pipeline"].GetStringValue() == "" {
		return errors.New("remote state has no pipeline")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addr = f["addr"].GetStringValue()
	r.pipeline = f["pipeline"].GetStringValue()
	r.params = f["params"].GetStructValue().AsMap()
	r.modelID = f["model_id"].GetStringValue()
	r.state = f["state"].GetStructValue()
	return nil
}

// #endregion state
