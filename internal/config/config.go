package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jwebster45206/unknown-world/pkg/turn"
)

const (
	ModeMock = "mock"
	ModeReal = "real"

	ProviderGemini = "gemini"
	ProviderCompat = "compat"
)

type Config struct {
	Mode           string
	Environment    string
	LogLevel       slog.Level
	Port           string
	Version        string
	AllowedOrigins []string

	Provider      string
	GeminiAPIKey  string
	CompatBaseURL string
	CompatAPIKey  string

	ModelFast    string
	ModelQuality string
	ModelVision  string
	ModelImage   string

	PromptDir   string
	PromptWatch bool
	DataDir     string

	RedisURL        string
	HistoryMaxTurns int
	HistoryMaxToken int
	HistoryTTL      time.Duration

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3UseSSL    bool

	TurnDeadline  time.Duration
	RepairBackoff []time.Duration
	PacingDelay   time.Duration
	MaxCredit     int

	WorkerID          string
	WorkerConcurrency int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first but never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Mode:           strings.ToLower(getEnv("UW_MODE", ModeMock)),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       parseLogLevel(getEnv("LOG_LEVEL", "info")),
		Port:           getEnv("PORT", "8011"),
		Version:        getEnv("SERVICE_VERSION", "0.1.0"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),
		Provider:       strings.ToLower(getEnv("UW_PROVIDER", ProviderGemini)),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		CompatBaseURL:  strings.TrimRight(getEnv("COMPAT_BASE_URL", "https://api.venice.ai/api/v1"), "/"),
		CompatAPIKey:   getEnv("COMPAT_API_KEY", ""),
		ModelFast:      getEnv("UW_MODEL_FAST", "gemini-2.5-flash"),
		ModelQuality:   getEnv("UW_MODEL_QUALITY", "gemini-2.5-pro"),
		ModelVision:    getEnv("UW_MODEL_VISION", "gemini-2.5-flash"),
		ModelImage:     getEnv("UW_MODEL_IMAGE", "gemini-2.5-flash-image"),
		PromptDir:      getEnv("PROMPT_DIR", "./prompts"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		RedisURL:       getEnv("REDIS_URL", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		WorkerID:       getEnv("WORKER_ID", ""),
	}

	if cfg.Mode != ModeMock && cfg.Mode != ModeReal {
		return nil, fmt.Errorf("invalid UW_MODE %q (supported: mock, real)", cfg.Mode)
	}
	if cfg.Provider != ProviderGemini && cfg.Provider != ProviderCompat {
		return nil, fmt.Errorf("invalid UW_PROVIDER %q (supported: gemini, compat)", cfg.Provider)
	}

	var err error
	if cfg.PromptWatch, err = parseBool("PROMPT_WATCH", false); err != nil {
		return nil, err
	}
	if cfg.S3UseSSL, err = parseBool("S3_USE_SSL", true); err != nil {
		return nil, err
	}
	if cfg.HistoryMaxTurns, err = parseInt("HISTORY_MAX_TURNS", 5); err != nil {
		return nil, err
	}
	if cfg.HistoryMaxToken, err = parseInt("HISTORY_MAX_TOKENS", 4000); err != nil {
		return nil, err
	}
	if cfg.MaxCredit, err = parseInt("MAX_CREDIT", turn.MaxCredit); err != nil {
		return nil, err
	}
	if cfg.MaxCredit > turn.MaxCredit {
		// The output schema caps economy.credit at turn.MaxCredit.
		return nil, fmt.Errorf("invalid MAX_CREDIT %d (maximum %d)", cfg.MaxCredit, turn.MaxCredit)
	}
	if cfg.WorkerConcurrency, err = parseInt("WORKER_CONCURRENCY", 1); err != nil {
		return nil, err
	}
	if cfg.HistoryTTL, err = parseDuration("HISTORY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TurnDeadline, err = parseDuration("TURN_DEADLINE", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.PacingDelay, err = parseDuration("PACING_DELAY", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.RepairBackoff, err = parseDurations("REPAIR_BACKOFF", "2s,4s"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment reports whether prompts should be re-read on every load.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// S3Enabled reports whether enough S3 settings are present to use the bucket store.
func (c *Config) S3Enabled() bool {
	return c.S3Endpoint != "" && c.S3Bucket != ""
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func parseInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseDurations(key, def string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range splitList(getEnv(key, def)) {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
