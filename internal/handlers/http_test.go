package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/database"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

func openStore(t *testing.T) *database.Store {
	t.Helper()
	ctx := context.Background()
	store, err := database.Open(ctx, config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(Options{Logger: zaptest.NewLogger(t), Analyzer: &fakeAnalyzer{}, PublicHost: "cabin.local:8000"})

	rec := serve(t, s, http.MethodGet, "/api/health/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	health := decode[models.HealthStatus](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "driver-drowsiness-detection", health.Service)
	assert.Equal(t, "1.0.0", health.Version)
	assert.Equal(t, "fake", health.Analyzer)
	assert.Equal(t, "ws://cabin.local:8000/ws/video-analysis/", health.Endpoints["websocket"])
	assert.Equal(t, "/api/health/", health.Endpoints["health"])
}

func TestHandleHealthWithoutAnalyzer(t *testing.T) {
	s := NewServer(Options{Logger: zaptest.NewLogger(t)})

	health := decode[models.HealthStatus](t, serve(t, s, http.MethodGet, "/api/health/"))
	assert.Equal(t, "unavailable", health.Analyzer)
	assert.Equal(t, "ws://<server>/ws/video-analysis/", health.Endpoints["websocket"])
}

func TestHandleHealthReportsDatabaseFailure(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Close())
	s := NewServer(Options{Logger: zaptest.NewLogger(t), Analyzer: &fakeAnalyzer{}, Store: store})

	rec := serve(t, s, http.MethodGet, "/api/health/")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[models.HealthStatus](t, rec).Status)
}

func TestHandleWebSocketInfo(t *testing.T) {
	s := NewServer(Options{Logger: zaptest.NewLogger(t)})

	rec := serve(t, s, http.MethodGet, "/api/websocket-info/")
	require.Equal(t, http.StatusOK, rec.Code)

	info := decode[models.WebSocketInfo](t, rec)
	assert.Equal(t, "websocket", info.Protocol)
	assert.Contains(t, info.Features, "configurable analysis interval")
	assert.Len(t, info.Features, 4)
	assert.Contains(t, info.MessageFormat, "send")
	assert.Contains(t, info.MessageFormat, "receive")
}

func TestHandleCostEstimate(t *testing.T) {
	s := NewServer(Options{Logger: zaptest.NewLogger(t)})

	est := decode[models.CostEstimate](t, serve(t, s, http.MethodGet, "/api/cost-estimate/?frames=1000"))
	assert.Equal(t, 1000, est.Frames)
	assert.Equal(t, "$2.5000", est.EstimatedInputCost)
	assert.Equal(t, "$1.5000", est.EstimatedOutputCost)
	assert.Equal(t, "$4.0000", est.EstimatedTotalCost)

	est = decode[models.CostEstimate](t, serve(t, s, http.MethodGet, "/api/cost-estimate/"))
	assert.Equal(t, 100, est.Frames)

	rec := serve(t, s, http.MethodGet, "/api/cost-estimate/?frames=lots")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_frames", decode[models.ErrorResponse](t, rec).Code)
}

func TestHandleMetrics(t *testing.T) {
	s := NewServer(Options{Logger: zaptest.NewLogger(t)})
	s.metrics.IncrementFrames(false)

	rec := serve(t, s, http.MethodGet, "/api/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_frames":1`)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `drowsiness_frames_received_total{analyzed="false"} 1`)
	assert.Contains(t, string(body), `route="/api/metrics"`)
}

func TestHandleSessionEvents(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	s := NewServer(Options{Logger: zaptest.NewLogger(t), Store: store})

	ss, err := store.CreateStreamSession(ctx, "driver-3", time.Now())
	require.NoError(t, err)
	for _, frame := range []int{2, 4} {
		ev := models.NewAnalysisEvent(ss.ID, models.NewAnalysisResult(frame, models.AnalysisData{
			DrowsinessLevel: "moderately drowsy", Confidence: models.Float(0.7),
		}))
		require.NoError(t, store.SaveAnalysis(ctx, &ev))
	}

	rec := serve(t, s, http.MethodGet, "/api/sessions/"+strconv.FormatInt(ss.ID, 10)+"/events")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[sessionEventsResponse](t, rec)
	assert.Equal(t, "driver-3", body.Session.ClientID)
	require.Len(t, body.Events, 2)
	assert.Equal(t, 4, body.Events[1].FrameNumber)
	assert.True(t, body.Events[1].IsDrowsy)

	body = decode[sessionEventsResponse](t, serve(t, s, http.MethodGet, "/api/sessions/"+strconv.FormatInt(ss.ID, 10)+"/events?limit=1"))
	assert.Len(t, body.Events, 1)

	assert.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/api/sessions/999/events").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/api/sessions/abc/events").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, http.MethodGet, "/api/sessions/1/events?limit=-1").Code)
}

func TestHandleSessionEventsWithoutStore(t *testing.T) {
	s := NewServer(Options{Logger: zaptest.NewLogger(t)})

	rec := serve(t, s, http.MethodGet, "/api/sessions/1/events")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "persistence_disabled", decode[models.ErrorResponse](t, rec).Code)
}
