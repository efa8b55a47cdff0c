// Package handlers serves the video-analysis WebSocket endpoint, the REST
// API around it and the gRPC analysis service.
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/notifier"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/services"
)

const (
	ServiceName    = "driver-drowsiness-detection"
	ServiceVersion = "1.0.0"
)

// Store is the subset of the database used by the handlers.
type Store interface {
	Ping(ctx context.Context) error
	CreateStreamSession(ctx context.Context, clientID string, startedAt time.Time) (models.StreamSession, error)
	EndStreamSession(ctx context.Context, id int64, framesReceived int, endedAt time.Time) error
	GetStreamSession(ctx context.Context, id int64) (models.StreamSession, error)
	SaveAnalysis(ctx context.Context, ev *models.AnalysisEvent) error
	ListAnalyses(ctx context.Context, sessionID int64, limit int) ([]models.AnalysisEvent, error)
}

type Options struct {
	Logger *zap.Logger
	// Analyzer may be nil, in which case AnalyzerErr explains why and every
	// WebSocket client is told so before being disconnected.
	Analyzer    services.Analyzer
	AnalyzerErr error
	Store       Store
	Notifier    notifier.Notifier
	Metrics     *services.Metrics
	Auth        *TokenAuth

	CORSOrigins     []string
	MaxMessageBytes int64
	// PublicHost is the host:port advertised by the info endpoints.
	PublicHost string
}

// Server owns the connected WebSocket clients and the HTTP routes.
type Server struct {
	logger      *zap.Logger
	analyzer    services.Analyzer
	analyzerErr error
	store       Store
	notifier    notifier.Notifier
	metrics     *services.Metrics
	auth        *TokenAuth

	corsOrigins     []string
	maxMessageBytes int64
	publicHost      string
	started         time.Time

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
	wg      sync.WaitGroup
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = services.NewMetrics("drowsiness")
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 10 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.PublicHost == "" {
		opts.PublicHost = "<server>"
	}

	return &Server{
		logger:          opts.Logger.Named("handlers"),
		analyzer:        opts.Analyzer,
		analyzerErr:     opts.AnalyzerErr,
		store:           opts.Store,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		auth:            opts.Auth,
		corsOrigins:     opts.CORSOrigins,
		maxMessageBytes: opts.MaxMessageBytes,
		publicHost:      opts.PublicHost,
		started:         time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*wsClient),
	}
}

// Router wires every route. Prometheus request metrics are only recorded
// for the REST API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS(s.corsOrigins))

	r.Get("/ws/video-analysis/", s.HandleWebSocket)
	r.Get("/ws/video/", s.HandleWebSocket)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(s.metrics.Middleware)
		r.Get("/health/", s.HandleHealth)
		r.Get("/websocket-info/", s.HandleWebSocketInfo)
		r.Get("/cost-estimate/", s.HandleCostEstimate)
		r.Get("/metrics", s.HandleMetrics)
		r.Get("/sessions/{id}/events", s.HandleSessionEvents)
	})
	return r
}

// ActiveClients returns the number of connected WebSocket clients.
func (s *Server) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown closes every WebSocket client and waits for their handlers to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.shutdown()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) register(c *wsClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.metrics.IncrementWebSocketConnections()
}

func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()
	s.metrics.DecrementWebSocketConnections()
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
