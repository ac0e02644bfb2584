package codec

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
)

// #region types
// FitResult is returned by a Fit RPC call.
type FitResult struct {
	ModelID string
	State   *structpb.Struct
}

// #endregion types

// #region client-struct
// Client wraps the gRPC connection to an estimator service.
type Client struct {
	conn    *grpc.ClientConn
	service EstimatorClient
	retry   RetryPolicy
}

// #endregion client-struct

// #region constructor
// NewClient connects to an estimator server. The connection is established
// lazily on the first call.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		service: NewEstimatorClient(conn),
		retry:   DefaultRetryPolicy(),
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc EstimatorClient) *Client {
	return &Client{service: svc, retry: DefaultRetryPolicy()}
}

// WithRetry replaces the retry policy.
func (c *Client) WithRetry(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// #endregion constructor

// #region call
func (c *Client) call(ctx context.Context, rpc func(context.Context) (*structpb.Struct, error)) (*structpb.Struct, error) {
	var attempts []error
	for {
		resp, err := rpc(ctx)
		if err == nil {
			return resp, nil
		}
		attempts = append(attempts, err)
		wait, ok := c.retry.ShouldRetry(attempts)
		if !ok {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// #endregion call

// #region fit
// Fit trains pipeline on the server with the given hyperparameters.
func (c *Client) Fit(ctx context.Context, pipeline string, params map[string]any, X dataset.Tensor, y []string) (*FitResult, error) {
	ps, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("fit params: %w", err)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"pipeline": structpb.NewStringValue(pipeline),
		"params":   structpb.NewStructValue(ps),
		"x":        EncodeTensor(X),
		"y":        labelsValue(y),
	}}
	resp, err := c.call(ctx, func(ctx context.Context) (*structpb.Struct, error) {
		return c.service.Fit(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("fit rpc: %w", err)
	}
	return &FitResult{
		ModelID: resp.GetFields()["model_id"].GetStringValue(),
		State:   resp.GetFields()["state"].GetStructValue(),
	}, nil
}

// #endregion fit

// #region score
// Score evaluates a fitted model. state lets a server that no longer holds
// modelID restore it.
func (c *Client) Score(ctx context.Context, modelID string, state *structpb.Struct, X dataset.Tensor, y []string) (float64, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(modelID),
		"x":        EncodeTensor(X),
		"y":        labelsValue(y),
	}}
	if state != nil {
		req.Fields["state"] = structpb.NewStructValue(state)
	}
	resp, err := c.call(ctx, func(ctx context.Context) (*structpb.Struct, error) {
		return c.service.Score(ctx, req)
	})
	if err != nil {
		return 0, fmt.Errorf("score rpc: %w", err)
	}
	return resp.GetFields()["score"].GetNumberValue(), nil
}

// #endregion score

// #region export
// Export returns named artifacts the server keeps for a fitted model.
// Artifact bytes travel base64 encoded.
func (c *Client) Export(ctx context.Context, modelID string) (map[string][]byte, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(modelID),
	}}
	resp, err := c.call(ctx, func(ctx context.Context) (*structpb.Struct, error) {
		return c.service.Export(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("export rpc: %w", err)
	}
	out := make(map[string][]byte)
	for name, v := range resp.GetFields()["artifacts"].GetStructValue().GetFields() {
		b, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("export artifact %s: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// #endregion export
