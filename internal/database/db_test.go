package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	cfg := config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "db", "test.db")}

	s, err := Open(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestStreamSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	ss, err := s.CreateStreamSession(ctx, "client-1", started)
	require.NoError(t, err)
	assert.NotZero(t, ss.ID)
	assert.Equal(t, models.SessionActive, ss.Status)

	require.NoError(t, s.EndStreamSession(ctx, ss.ID, 42, time.Now()))

	got, err := s.GetStreamSession(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ClientID)
	assert.Equal(t, models.SessionCompleted, got.Status)
	assert.Equal(t, 42, got.FramesReceived)
	assert.Equal(t, started.UnixMilli(), got.StartedAt.UnixMilli())
	require.NotNil(t, got.EndedAt)

	_, err = s.GetStreamSession(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.EndStreamSession(ctx, 9999, 0, time.Now()), ErrNotFound)
}

func TestSaveAndListAnalyses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ss, err := s.CreateStreamSession(ctx, "client-2", time.Now())
	require.NoError(t, err)

	results := []models.AnalysisResult{
		models.NewAnalysisResult(6, models.AnalysisData{
			DrowsinessLevel: "highly drowsy", Confidence: models.Float(0.92),
			Observations: []string{"Eyes closed", "Head drooping"}, RecommendedAction: "Pull over",
		}),
		models.NewAnalysisResult(3, models.AnalysisData{
			DrowsinessLevel: "awake", Confidence: models.Float(0.8), RecommendedAction: "Continue monitoring",
		}),
		models.NewAnalysisResult(9, models.AnalysisData{
			DrowsinessLevel: "unknown", Error: models.String("timeout"),
		}),
	}
	for _, r := range results {
		ev := models.NewAnalysisEvent(ss.ID, r)
		require.NoError(t, s.SaveAnalysis(ctx, &ev))
		assert.NotZero(t, ev.ID)
	}

	events, err := s.ListAnalyses(ctx, ss.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, []int{3, 6, 9}, []int{events[0].FrameNumber, events[1].FrameNumber, events[2].FrameNumber})
	assert.Equal(t, []string{}, events[0].Observations)
	assert.False(t, events[0].IsDrowsy)

	assert.Equal(t, "highly drowsy", events[1].DrowsinessLevel)
	assert.InDelta(t, 0.92, events[1].Confidence, 1e-9)
	assert.True(t, events[1].IsDrowsy)
	assert.Equal(t, []string{"Eyes closed", "Head drooping"}, events[1].Observations)

	assert.Equal(t, "timeout", events[2].Error)

	limited, err := s.ListAnalyses(ctx, ss.ID, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.ListAnalyses(ctx, ss.ID+100, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))

	lite := &Store{driver: "sqlite"}
	assert.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}
