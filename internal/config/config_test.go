package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ANALYZER_PROVIDER", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("YUV_FILE", "")
	t.Setenv("YUV_SIZE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Analyzer.Provider)
	assert.Equal(t, "gpt-4o", cfg.Analyzer.OpenAIModel)
	assert.Equal(t, 1, cfg.Client.Interval)
	assert.Equal(t, 10*time.Second, cfg.Client.HandshakeTimeout)
	assert.Equal(t, "", cfg.Client.YUVFile)
	assert.Equal(t, "640x480", cfg.Client.YUVSize)
	assert.Equal(t, "", cfg.Database.Driver)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("ANALYZER_PROVIDER", "GRPC")
	t.Setenv("ANALYSIS_INTERVAL", "3")
	t.Setenv("HANDSHAKE_TIMEOUT", "2s")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", "/tmp/x.db")
	t.Setenv("LOG_COMPRESS", "yes")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "grpc", cfg.Analyzer.Provider)
	assert.Equal(t, 3, cfg.Client.Interval)
	assert.Equal(t, 2*time.Second, cfg.Client.HandshakeTimeout)
	assert.Equal(t, "/tmp/x.db", cfg.Database.DSNForLog())
	assert.True(t, cfg.Log.Compress)
}

func TestLoadConfigRejectsBadProvider(t *testing.T) {
	t.Setenv("ANALYZER_PROVIDER", "tesseract")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidateInterval(t *testing.T) {
	t.Setenv("ANALYZER_PROVIDER", "")
	t.Setenv("DB_DRIVER", "")
	t.Setenv("ANALYSIS_INTERVAL", "0")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "ANALYSIS_INTERVAL")
}

func TestDSNForLogHidesPassword(t *testing.T) {
	db := DatabaseConfig{Driver: "postgres", DBHost: "h", DBPort: "5432", DBUser: "u", DBPassword: "secret", DBName: "n", DBSSLMode: "disable"}

	assert.Contains(t, db.DSN(), "password=secret")
	assert.NotContains(t, db.DSNForLog(), "secret")
}
