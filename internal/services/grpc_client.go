package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

const (
	DrowsinessServiceName = "drowsiness.DrowsinessDetection"
	AnalyzeFrameMethod    = "/" + DrowsinessServiceName + "/AnalyzeFrame"

	maxGRPCMessageSize = 50 * 1024 * 1024
)

// GRPCAnalyzer forwards frames to a remote model service. The request is a
// BytesValue holding the JPEG, the reply a Struct with the analysis fields.
type GRPCAnalyzer struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	addr    string
	timeout time.Duration
	logger  *zap.Logger
}

func NewGRPCAnalyzer(addr string, timeout time.Duration, logger *zap.Logger, extra ...grpc.DialOption) (*GRPCAnalyzer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("grpc-analyzer")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxGRPCMessageSize),
			grpc.MaxCallSendMsgSize(maxGRPCMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create gRPC client for %s: %w", addr, err)
	}
	logger.Info("gRPC analyzer configured", zap.String("addr", addr))

	return &GRPCAnalyzer{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}, nil
}

func (g *GRPCAnalyzer) Name() string { return "grpc:" + g.addr }

func (g *GRPCAnalyzer) AnalyzeFrame(ctx context.Context, frame []byte) (models.AnalysisData, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	reply := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, AnalyzeFrameMethod, wrapperspb.Bytes(frame), reply); err != nil {
		return models.AnalysisData{}, fmt.Errorf("could not analyze frame: %w", err)
	}
	return AnalysisFromStruct(reply)
}

// HealthCheck asks the remote service for its serving status.
func (g *GRPCAnalyzer) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: DrowsinessServiceName})
	if err != nil {
		g.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (g *GRPCAnalyzer) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

// AnalysisFromStruct converts a gRPC reply into analysis data.
func AnalysisFromStruct(s *structpb.Struct) (models.AnalysisData, error) {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return models.AnalysisData{}, fmt.Errorf("marshal analysis struct: %w", err)
	}
	var data models.AnalysisData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.AnalysisData{}, fmt.Errorf("decode analysis struct: %w", err)
	}
	return data, nil
}

// AnalysisToStruct is the inverse of AnalysisFromStruct.
func AnalysisToStruct(data models.AnalysisData) (*structpb.Struct, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("build analysis struct: %w", err)
	}
	return s, nil
}
