package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/database"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/services"
)

const (
	defaultCostFrames = 100
	maxEventsLimit    = 1000
)

func (s *Server) websocketURL() string {
	return "ws://" + s.publicHost + "/ws/video-analysis/"
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := models.HealthStatus{
		Status:        "healthy",
		Service:       ServiceName,
		Version:       ServiceVersion,
		Analyzer:      "unavailable",
		ActiveClients: s.ActiveClients(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Endpoints: map[string]string{
			"websocket": s.websocketURL(),
			"health":    "/api/health/",
		},
	}
	if s.analyzer != nil {
		health.Analyzer = s.analyzer.Name()
	}

	code := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("database health check failed", zap.Error(err))
			health.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, health)
}

func (s *Server) HandleWebSocketInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.WebSocketInfo{
		WebSocketEndpoint: s.websocketURL(),
		Protocol:          "websocket",
		Features: []string{
			"real-time video frame analysis",
			"drowsiness detection",
			"configurable analysis interval",
			"JSON response format",
		},
		MessageFormat: map[string]any{
			"send": map[string]any{
				"binary": "JPEG encoded video frame bytes",
				"text":   "JSON configuration messages",
			},
			"receive": map[string]any{
				"analysis_result": map[string]any{
					"type": "analysis_result",
					"data": map[string]any{
						"drowsiness_level":   "string",
						"confidence":         "float",
						"observations":       "list",
						"recommended_action": "string",
					},
				},
			},
		},
	})
}

func (s *Server) HandleCostEstimate(w http.ResponseWriter, r *http.Request) {
	frames := defaultCostFrames
	if v := r.URL.Query().Get("frames"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_frames", "frames must be a non-negative integer")
			return
		}
		frames = n
	}
	writeJSON(w, http.StatusOK, services.EstimateCost(frames))
}

func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

type sessionEventsResponse struct {
	Session models.StreamSession   `json:"session"`
	Events  []models.AnalysisEvent `json:"events"`
}

// HandleSessionEvents lists the analyses recorded for one stream session.
func (s *Server) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence_disabled", "no database is configured")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_id", "session id must be a positive integer")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
	}
	if limit == 0 || limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	ss, err := s.store.GetStreamSession(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "stream session not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load stream session", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to load stream session")
		return
	}

	events, err := s.store.ListAnalyses(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list analyses", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to list analyses")
		return
	}
	writeJSON(w, http.StatusOK, sessionEventsResponse{Session: ss, Events: events})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, models.ErrorResponse{
		Error:     message,
		Timestamp: time.Now().Unix(),
		Code:      errCode,
	})
}
