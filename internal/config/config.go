package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Analyzer AnalyzerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Client   ClientConfig
	Log      LogConfig

	Environment string
}

type ServerConfig struct {
	HTTPPort         string
	GRPCPort         string
	CORSOrigins      string
	MaxMessageSizeMB int
	// AccessTokenHash is a bcrypt hash; empty disables token checks.
	AccessTokenHash string
	PublicHost      string
}

type AnalyzerConfig struct {
	// Provider is one of "openai", "groq" or "grpc".
	Provider      string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GroqAPIKey    string
	GroqModel     string
	GroqBaseURL   string
	GRPCAddress   string
	Timeout       time.Duration
}

type DatabaseConfig struct {
	// Driver is "postgres", "sqlite" or empty to disable persistence.
	Driver     string
	SQLitePath string

	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type ClientConfig struct {
	ServerAddress    string
	ServerPort       int
	Interval         int
	FPS              int
	FrameDir         string
	YUVFile          string
	YUVSize          string
	JPEGQuality      int
	MaxFrameWidth    int
	MaxFrameHeight   int
	HandshakeTimeout time.Duration
	AccessToken      string
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (p *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog hides the password.
func (p *DatabaseConfig) DSNForLog() string {
	if p.Driver == "sqlite" {
		return p.SQLitePath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	// a missing .env is fine, system environment is used instead
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:         getEnv("HTTP_PORT", "8000"),
			GRPCPort:         getEnv("GRPC_PORT", "50051"),
			CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
			MaxMessageSizeMB: getEnvInt("MAX_MESSAGE_SIZE_MB", 10),
			AccessTokenHash:  getEnv("ACCESS_TOKEN_HASH", ""),
			PublicHost:       getEnv("PUBLIC_HOST", "<server>"),
		},
		Analyzer: AnalyzerConfig{
			Provider:      strings.ToLower(getEnv("ANALYZER_PROVIDER", "openai")),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
			GroqModel:     getEnv("GROQ_MODEL", "llama-3.1-70b-versatile"),
			GroqBaseURL:   getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1/"),
			GRPCAddress:   getEnv("ANALYZER_GRPC_ADDR", "localhost:9000"),
			Timeout:       getEnvDuration("ANALYZER_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:     strings.ToLower(getEnv("DB_DRIVER", "")),
			SQLitePath: getEnv("DB_PATH", "./data/analysis.db"),
			DBHost:     getEnv("DB_HOST", "localhost"),
			DBPort:     getEnv("DB_PORT", "5432"),
			DBUser:     getEnv("DB_USER", "postgres"),
			DBPassword: getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "ai_detector"),
			DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_ALERT_CHANNEL", "drowsiness:alerts"),
		},
		Client: ClientConfig{
			ServerAddress:    getEnv("SERVER_ADDRESS", "localhost"),
			ServerPort:       getEnvInt("SERVER_PORT", 8000),
			Interval:         getEnvInt("ANALYSIS_INTERVAL", 1),
			FPS:              getEnvInt("CAPTURE_FPS", 2),
			FrameDir:         getEnv("FRAME_DIR", ""),
			YUVFile:          getEnv("YUV_FILE", ""),
			YUVSize:          getEnv("YUV_SIZE", "640x480"),
			JPEGQuality:      getEnvInt("JPEG_QUALITY", 75),
			MaxFrameWidth:    getEnvInt("MAX_FRAME_WIDTH", 1024),
			MaxFrameHeight:   getEnvInt("MAX_FRAME_HEIGHT", 1024),
			HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
			AccessToken:      getEnv("ACCESS_TOKEN", ""),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			FilePath:   getEnv("LOG_FILE", "./logs/app.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 7),
			Compress:   getEnvBool("LOG_COMPRESS", false),
		},
		Environment: getEnv("ENVIRONMENT", "production"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Analyzer.Provider {
	case "openai", "groq", "grpc":
	default:
		return fmt.Errorf("ANALYZER_PROVIDER must be openai, groq or grpc, got %q", c.Analyzer.Provider)
	}
	switch c.Database.Driver {
	case "", "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres, sqlite or empty, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLitePath == "" {
		return fmt.Errorf("DB_PATH cannot be empty with the sqlite driver")
	}
	if c.Client.Interval < 1 {
		return fmt.Errorf("ANALYSIS_INTERVAL must be >= 1")
	}
	if c.Client.FPS < 1 {
		return fmt.Errorf("CAPTURE_FPS must be >= 1")
	}
	if c.Client.JPEGQuality < 1 || c.Client.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100")
	}
	if c.Server.MaxMessageSizeMB <= 0 {
		return fmt.Errorf("MAX_MESSAGE_SIZE_MB must be > 0")
	}
	return nil
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultVal
	}
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return defaultVal
}
