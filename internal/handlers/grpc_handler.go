package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/services"
)

// DrowsinessDetectionServer is the gRPC face of an analyzer. Frames travel
// as BytesValue and results as Struct, so no generated code is needed.
type DrowsinessDetectionServer interface {
	AnalyzeFrame(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)
}

func analyzeFrameHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DrowsinessDetectionServer).AnalyzeFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: services.AnalyzeFrameMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DrowsinessDetectionServer).AnalyzeFrame(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var DrowsinessDetectionServiceDesc = grpc.ServiceDesc{
	ServiceName: services.DrowsinessServiceName,
	HandlerType: (*DrowsinessDetectionServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "AnalyzeFrame",
		Handler:    analyzeFrameHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drowsiness.proto",
}

type GRPCHandler struct {
	analyzer services.Analyzer
	metrics  *services.Metrics
	logger   *zap.Logger
	health   *health.Server
}

// NewGRPCHandler serves analyzer over gRPC. A nil analyzer is reported as
// NOT_SERVING and every call fails with Unavailable.
func NewGRPCHandler(analyzer services.Analyzer, metrics *services.Metrics, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = services.NewMetrics("drowsiness_grpc")
	}
	return &GRPCHandler{
		analyzer: analyzer,
		metrics:  metrics,
		logger:   logger.Named("grpc"),
		health:   health.NewServer(),
	}
}

// Register adds the analysis and health services to srv.
func (h *GRPCHandler) Register(srv *grpc.Server) {
	srv.RegisterService(&DrowsinessDetectionServiceDesc, h)
	healthpb.RegisterHealthServer(srv, h.health)

	st := healthpb.HealthCheckResponse_SERVING
	if h.analyzer == nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus(services.DrowsinessServiceName, st)
	h.health.SetServingStatus("", st)
}

// Shutdown flips every health status to NOT_SERVING.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}

func (h *GRPCHandler) AnalyzeFrame(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	start := time.Now()

	frame := in.GetValue()
	if len(frame) == 0 {
		return nil, status.Error(codes.InvalidArgument, "frame is required")
	}
	if h.analyzer == nil {
		return nil, status.Error(codes.Unavailable, "analysis service not initialized")
	}

	h.logger.Debug("frame received", zap.Int("bytes", len(frame)))
	h.metrics.IncrementFrames(true)

	data, err := h.analyzer.AnalyzeFrame(ctx, frame)
	if err != nil {
		h.logger.Warn("analysis failed", zap.Error(err))
		h.metrics.RecordAnalysis(h.analyzer.Name(), "unknown", time.Since(start), true)
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, "processing failed")
	}
	h.metrics.RecordAnalysis(h.analyzer.Name(), data.DrowsinessLevel, time.Since(start), false)

	reply, err := services.AnalysisToStruct(data)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	h.logger.Debug("frame processed",
		zap.Duration("took", time.Since(start)),
		zap.String("level", data.DrowsinessLevel))
	return reply, nil
}
