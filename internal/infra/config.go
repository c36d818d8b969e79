package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	LedgerBackend      string
	JWTSecret          string
	AdminToken         string
	GeoIPDBPath        string
	CORSAllowedOrigins []string
	RedisURL           string
	BalanceCacheTTL    time.Duration

	GeminiAPIKey        string
	GeminiBaseURL       string
	GeminiImageModel    string
	GeminiTextModel     string
	GeneratorMaxRetries int
	GeneratorBaseDelay  time.Duration
	GeneratorRPS        float64
	SubtaskTimeout      time.Duration
	PipelineTimeout     time.Duration

	FreeStudioLimit   int
	DailyRewardTokens int
	WatermarkText     string

	StorageDriver   string
	StorageBasePath string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3UsePathStyle  bool

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LedgerBackend:      strings.ToLower(getEnv("LEDGER_BACKEND", "postgres")),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		AdminToken:         os.Getenv("ADMIN_TOKEN"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		RedisURL:           os.Getenv("REDIS_URL"),
		BalanceCacheTTL:    getEnvDuration("BALANCE_CACHE_TTL", 30*time.Second),

		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:       getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiImageModel:    getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiTextModel:     getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeneratorMaxRetries: getEnvInt("GENERATOR_MAX_RETRIES", 2),
		GeneratorBaseDelay:  getEnvDuration("GENERATOR_BASE_DELAY", 3*time.Second),
		GeneratorRPS:        getEnvFloat("GENERATOR_RPS", 2),
		SubtaskTimeout:      getEnvDuration("SUBTASK_TIMEOUT", 120*time.Second),
		PipelineTimeout:     getEnvDuration("PIPELINE_TIMEOUT", 0),

		FreeStudioLimit:   getEnvInt("FREE_STUDIO_LIMIT", 9),
		DailyRewardTokens: getEnvInt("DAILY_REWARD_TOKENS", 2),
		WatermarkText:     getEnv("WATERMARK_TEXT", "SORAPIXEL"),

		StorageDriver:   strings.ToLower(getEnv("STORAGE_DRIVER", "fs")),
		StorageBasePath: getEnv("STORAGE_BASE_PATH", "./data/artifacts"),
		S3Bucket:        getEnv("S3_BUCKET", "sorapixel-images"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.LedgerBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("LEDGER_BACKEND must be postgres or memory, got %q", cfg.LedgerBackend)
	}

	if cfg.PipelineTimeout <= 0 {
		cfg.PipelineTimeout = cfg.HTTPWriteTimeout - 15*time.Second
	}
	if cfg.PipelineTimeout <= 0 || cfg.PipelineTimeout >= cfg.HTTPWriteTimeout {
		return nil, fmt.Errorf("PIPELINE_TIMEOUT must be positive and shorter than the HTTP write timeout (%s)", cfg.HTTPWriteTimeout)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.StorageDriver {
	case "fs", "s3":
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be fs or s3, got %q", cfg.StorageDriver)
	}

	if cfg.GeneratorMaxRetries < 0 {
		cfg.GeneratorMaxRetries = 0
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
