package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/database"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/handlers"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/logger"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/notifier"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/services"
)

const maxGRPCMessageSize = 50 * 1024 * 1024

var (
	recentAlerts int

	rootCmd = &cobra.Command{
		Use:          "drowsiness-server",
		Short:        "Real-time driver drowsiness analysis server",
		Long:         `Accepts JPEG frame streams over WebSocket, analyses them with a vision model and serves the results over WebSocket, REST and gRPC.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}

	alertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "Print drowsiness alerts published to Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlerts(cmd.Context(), cmd.OutOrStdout())
		},
	}

	hashTokenCmd = &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the ACCESS_TOKEN_HASH value for a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := handlers.HashToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of drowsiness-server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drowsiness-server version %s\n", handlers.ServiceVersion)
		},
	}
)

func init() {
	alertsCmd.Flags().IntVar(&recentAlerts, "recent", 10, "number of stored alerts to print before following")
	rootCmd.AddCommand(serveCmd, migrateCmd, alertsCmd, hashTokenCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*database.Store, error) {
	store, err := database.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func runServe(ctx context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("version", handlers.ServiceVersion),
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("grpc_port", cfg.Server.GRPCPort),
		zap.String("analyzer", cfg.Analyzer.Provider))

	analyzer, analyzerErr := services.NewAnalyzer(cfg.Analyzer, log)
	if analyzerErr != nil {
		log.Error("analysis service unavailable, clients will be rejected", zap.Error(analyzerErr))
	} else if c, ok := analyzer.(io.Closer); ok {
		defer c.Close()
	}

	opts := handlers.Options{
		Logger:          log,
		Analyzer:        analyzer,
		AnalyzerErr:     analyzerErr,
		Metrics:         services.NewMetrics("drowsiness"),
		Auth:            handlers.NewTokenAuth(cfg.Server.AccessTokenHash),
		CORSOrigins:     splitList(cfg.Server.CORSOrigins),
		MaxMessageBytes: int64(cfg.Server.MaxMessageSizeMB) << 20,
		PublicHost:      cfg.Server.PublicHost,
	}

	if cfg.Database.Driver != "" {
		store, err := openStore(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer store.Close()
		opts.Store = store
	}

	alerts, err := notifier.New(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn("Redis unavailable, alerts disabled", zap.Error(err))
		alerts = notifier.Nop{}
	}
	defer alerts.Close()
	opts.Notifier = alerts

	srv := handlers.NewServer(opts)

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxGRPCMessageSize),
		grpc.MaxSendMsgSize(maxGRPCMessageSize),
	)
	grpcHandler := handlers.NewGRPCHandler(analyzer, opts.Metrics, log)
	grpcHandler.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+strings.TrimPrefix(cfg.Server.GRPCPort, ":"))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + strings.TrimPrefix(cfg.Server.HTTPPort, ":"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		log.Info("HTTP server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("websocket", "/ws/video-analysis/"))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server failed", zap.Error(err))
	}

	shutdown(log, grpcHandler, grpcServer, httpServer, srv)
	log.Info("goodbye")
	return err
}

func shutdown(log *zap.Logger, gh *handlers.GRPCHandler, gs *grpc.Server, hs *http.Server, srv *handlers.Server) {
	gh.Shutdown()

	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		log.Info("gRPC server stopped")
	case <-time.After(10 * time.Second):
		log.Warn("forcing gRPC shutdown")
		gs.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("WebSocket clients did not close in time", zap.Error(err))
	}
	log.Info("WebSocket connections closed")
}

func runMigrate(ctx context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Database.Driver == "" {
		return errors.New("DB_DRIVER is not set")
	}
	store, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	return store.Close()
}

func runAlerts(ctx context.Context, out io.Writer) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is not set")
	}
	rn, err := notifier.NewRedisNotifier(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer rn.Close()

	if recentAlerts > 0 {
		recent, err := rn.Recent(ctx, recentAlerts)
		if err != nil {
			return err
		}
		// oldest first, like the live stream that follows
		for i := len(recent) - 1; i >= 0; i-- {
			printAlert(out, recent[i])
		}
	}

	ch, err := rn.Subscribe(ctx)
	if err != nil {
		return err
	}
	for alert := range ch {
		printAlert(out, alert)
	}
	return nil
}

func printAlert(out io.Writer, a models.DrowsinessAlert) {
	fmt.Fprintf(out, "%s  client=%s frame=%d level=%q confidence=%.0f%% action=%q\n",
		a.Timestamp.Local().Format(time.DateTime), a.ClientID, a.FrameNumber,
		a.DrowsinessLevel, a.Confidence*100, a.RecommendedAction)
}

// splitList parses a comma separated setting such as CORS_ORIGINS.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
