package grpcapi

import (
	"context"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Brownie44l1/riskscore-api/internal/inference"
	"github.com/Brownie44l1/riskscore-api/internal/model"
)

func dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	m, err := model.ParseLogistic([]byte(`{"format":"logistic","intercept":-1,"coefficients":[2,0.1,-0.5]}`))
	if err != nil {
		t.Fatalf("ParseLogistic: %v", err)
	}
	srv := NewServer(NewScorer(inference.NewHandler(m), zap.NewNop()))

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustValue(t *testing.T, v any) *structpb.Value {
	t.Helper()
	val, err := structpb.NewValue(v)
	if err != nil {
		t.Fatalf("NewValue: %v", err)
	}
	return val
}

func TestPredict(t *testing.T) {
	conn := dial(t)

	out := new(structpb.Struct)
	in := mustValue(t, []any{0.5, 12.0, 1})
	if err := conn.Invoke(context.Background(), PredictMethod, in, out); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	fields := out.GetFields()
	if got := fields["prediccion"].GetNumberValue(); got != 1 {
		t.Errorf("prediccion: got %v", got)
	}
	if p := fields["probabilidad"].GetNumberValue(); p <= 0 || p > 1 {
		t.Errorf("probabilidad: got %v", p)
	}
}

func TestPredictInvalidArgument(t *testing.T) {
	conn := dial(t)

	tests := []struct {
		name    string
		in      any
		wantMsg string
	}{
		{"not a list", map[string]any{"a": 1}, "payload is not a list"},
		{"wrong count", []any{0.5, 12.0}, "expected 3 features, got 2"},
		{"non numeric", []any{0.5, "abc", 1}, "feature 1 is not a finite number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := conn.Invoke(context.Background(), PredictMethod, mustValue(t, tt.in), new(structpb.Struct))
			st, ok := status.FromError(err)
			if !ok || st.Code() != codes.InvalidArgument {
				t.Fatalf("expected InvalidArgument, got %v", err)
			}
			if st.Message() != tt.wantMsg {
				t.Errorf("message: got %q, want %q", st.Message(), tt.wantMsg)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	conn := dial(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status: got %v", resp.GetStatus())
	}
}
