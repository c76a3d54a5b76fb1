// Package grpcapi serves predictions over gRPC.
//
// The service carries well-known protobuf types so no generated code is needed:
//
//	service Scorer {
//	  rpc Predict(google.protobuf.Value) returns (google.protobuf.Struct);
//	}
//
// The request Value is validated exactly like an HTTP body.
package grpcapi

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brownie44l1/riskscore-api/internal/inference"
)

const (
	ServiceName   = "riskscore.v1.Scorer"
	PredictMethod = "/" + ServiceName + "/Predict"
)

// ScorerServer is the server API for the Scorer service.
type ScorerServer interface {
	Predict(ctx context.Context, in *structpb.Value) (*structpb.Struct, error)
}

var scorerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScorerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "riskscore/v1/scorer.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScorerServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScorerServer).Predict(ctx, req.(*structpb.Value))
	}
	return interceptor(ctx, in, info, handler)
}

// Scorer adapts the inference handler to gRPC.
type Scorer struct {
	inference *inference.Handler
	logger    *zap.Logger
}

func NewScorer(inf *inference.Handler, logger *zap.Logger) *Scorer {
	return &Scorer{inference: inf, logger: logger}
}

func (s *Scorer) Predict(ctx context.Context, in *structpb.Value) (*structpb.Struct, error) {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request value")
	}

	resp, err := s.inference.HandlePredict(raw)
	if err != nil {
		var predErr *inference.PredictionError
		if errors.As(err, &predErr) {
			s.logger.Error("prediction error", zap.Error(err))
			return nil, status.Error(codes.Internal, "prediction failed")
		}
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	fields := map[string]any{
		"prediccion":   resp.Prediccion,
		"probabilidad": resp.Probabilidad,
	}
	if resp.Riesgo != "" {
		fields["riesgo"] = resp.Riesgo
	}
	return structpb.NewStruct(fields)
}

// NewServer returns a gRPC server with the Scorer and the standard health service registered.
func NewServer(scorer *Scorer, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&scorerServiceDesc, scorer)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}
