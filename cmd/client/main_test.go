package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/dashboard"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/producer"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/session"
)

func TestHealthURL(t *testing.T) {
	tests := []struct {
		address string
		port    int
		want    string
	}{
		{"192.168.1.20", 8000, "http://192.168.1.20:8000/api/health/"},
		{"ws://cabin.local:9000/ws/video/", 0, "http://cabin.local:9000/api/health/"},
		{"wss://analysis.example.com/ws/video-analysis/", 0, "https://analysis.example.com/api/health/"},
		{"https://analysis.example.com", 0, "https://analysis.example.com/api/health/"},
	}
	for _, tt := range tests {
		got, err := healthURL(tt.address, tt.port)
		require.NoError(t, err, tt.address)
		assert.Equal(t, tt.want, got, tt.address)
	}
}

func TestFrameSource(t *testing.T) {
	src, err := frameSource(config.ClientConfig{})
	require.NoError(t, err)
	assert.IsType(t, &producer.PatternSource{}, src)

	_, err = frameSource(config.ClientConfig{FrameDir: t.TempDir()})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "cabin.yuv")
	require.NoError(t, os.WriteFile(path, make([]byte, 4*2+2*2*1), 0o644))
	src, err = frameSource(config.ClientConfig{YUVFile: path, YUVSize: "4x2", FrameDir: "ignored"})
	require.NoError(t, err)
	yuv, ok := src.(*producer.RawYUVSource)
	require.True(t, ok)
	assert.Equal(t, 1, yuv.Len())
	require.NoError(t, yuv.Close())

	_, err = frameSource(config.ClientConfig{YUVFile: path, YUVSize: "big"})
	assert.Error(t, err)
}

func TestRunCommandsOffline(t *testing.T) {
	sess := session.New(zap.NewNop(), session.Options{})
	defer sess.Close()
	prod := producer.New(zap.NewNop(), sess, producer.NewEncoder(75, 320, 240))
	dash := dashboard.New(zap.NewNop(), sess, prod, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := strings.NewReader("start\ninterval 4\ninterval x\nbogus\nquit\n")
	var out bytes.Buffer
	require.NoError(t, runCommands(ctx, cancel, dash, config.ClientConfig{}, in, &out))

	text := out.String()
	assert.Contains(t, text, "error: "+dashboard.ErrNotConnected.Error())
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.Equal(t, 4, dash.Snapshot().Interval)
	assert.False(t, prod.IsRecording())
}
