package codec

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
)

// ServiceName is the gRPC service remote estimators are served under.
const ServiceName = "eegbench.v1.Estimator"

// #region client
// EstimatorClient is the client side of the estimator service. Messages are
// google.protobuf.Struct so no generated code is needed on either side.
type EstimatorClient interface {
	Fit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Score(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Export(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type estimatorClient struct {
	cc grpc.ClientConnInterface
}

// NewEstimatorClient wraps a connection.
func NewEstimatorClient(cc grpc.ClientConnInterface) EstimatorClient {
	return &estimatorClient{cc: cc}
}

func (c *estimatorClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *estimatorClient) Fit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Fit", in, opts...)
}

func (c *estimatorClient) Score(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Score", in, opts...)
}

func (c *estimatorClient) Export(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Export", in, opts...)
}

// #endregion client

// #region server
// EstimatorServer is the server side of the estimator service.
type EstimatorServer interface {
	Fit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Score(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Export(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterEstimatorServer serves srv on s.
func RegisterEstimatorServer(s grpc.ServiceRegistrar, srv EstimatorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(EstimatorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EstimatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(EstimatorServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EstimatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Fit", EstimatorServer.Fit),
		unaryHandler("Score", EstimatorServer.Score),
		unaryHandler("Export", EstimatorServer.Export),
	},
	Metadata: "eegbench/v1/estimator.proto",
}

// #endregion server

// #region tensor
// EncodeTensor packs X as {shape, data} with data the base64 of
// little-endian float64 values.
func EncodeTensor(X dataset.Tensor) *structpb.Value {
	shape := make([]*structpb.Value, len(X.Shape))
	for i, d := range X.Shape {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	buf := make([]byte, 8*len(X.Data))
	for i, v := range X.Data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"shape": structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"data":  structpb.NewStringValue(base64.StdEncoding.EncodeToString(buf)),
	}})
}

// DecodeTensor reverses EncodeTensor.
func DecodeTensor(v *structpb.Value) (dataset.Tensor, error) {
	f := v.GetStructValue().GetFields()
	var X dataset.Tensor
	for _, d := range f["shape"].GetListValue().GetValues() {
		X.Shape = append(X.Shape, int(d.GetNumberValue()))
	}
	buf, err := base64.StdEncoding.DecodeString(f["data"].GetStringValue())
	if err != nil {
		return dataset.Tensor{}, fmt.Errorf("decode tensor data: %w", err)
	}
	if len(buf)%8 != 0 {
		return dataset.Tensor{}, fmt.Errorf("tensor data has %d bytes, not a multiple of 8", len(buf))
	}
	X.Data = make([]float64, len(buf)/8)
	for i := range X.Data {
		X.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	if err := X.Validate(); err != nil {
		return dataset.Tensor{}, err
	}
	return X, nil
}

func labelsValue(y []string) *structpb.Value {
	vals := make([]*structpb.Value, len(y))
	for i, l := range y {
		vals[i] = structpb.NewStringValue(l)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func readLabels(v *structpb.Value) []string {
	items := v.GetListValue().GetValues()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.GetStringValue()
	}
	return out
}

// #endregion tensor
