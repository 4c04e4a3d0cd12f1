package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // QUOTA_TIMEZONE must resolve in minimal images
)

// ErrConfiguration marks a missing or invalid setting that prevents startup.
var ErrConfiguration = errors.New("configuration error")

// MaxAITimeout is the largest accepted AI_TIMEOUT. The analyze route's own
// deadline (90s) must outlast the gateway call plus image handling.
const MaxAITimeout = 80 * time.Second

// Archive modes
const (
	ArchiveModeInline = "inline"
	ArchiveModeQueue  = "queue"
)

// Config holds application configuration
type Config struct {
	DatabaseURL     string
	ServerPort      string
	BaseURL         string
	FrontendURL     string
	EnableHSTS      bool
	ServerDebugMode bool
	WorkerDebugMode bool

	AI      AIConfig
	Quota   QuotaConfig
	Storage StorageConfig
	Auth    AuthConfig

	RedisURL         string
	RabbitMQURL      string
	RabbitMQPrefetch int
	ArchiveMode      string

	OTELEnabled     bool
	OTELEndpoint    string
	OTELInsecure    bool
	OTELSampleRatio float64
}

// AIConfig selects and parameterizes the model gateway.
type AIConfig struct {
	Provider       string
	APIKey         string
	Model          string
	BaseURL        string
	Timeout        time.Duration
	ResponseFormat string
	Temperature    float64
	Language       string
}

// QuotaConfig holds the per-user limits applied by the ledger.
type QuotaConfig struct {
	DailyLimit    int
	InitialTokens int64
	Location      *time.Location
}

// StorageConfig points at the S3-compatible bucket holding archived images.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
	Region        string
	PublicBaseURL string
}

// AuthConfig describes how bearer tokens are verified. Exactly one of JWTSecret
// or JWKSURL is expected.
type AuthConfig struct {
	JWTSecret string
	JWKSURL   string
	Issuer    string
	Audience  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
		EnableHSTS:      getEnvBool("ENABLE_HSTS", false),
		ServerDebugMode: getEnvBool("SERVER_DEBUG_MODE", false),
		WorkerDebugMode: getEnvBool("WORKER_DEBUG_MODE", false),
		AI: AIConfig{
			Provider:       getEnv("AI_PROVIDER", "avalai"),
			APIKey:         getEnv("AI_API_KEY", getEnv("OPENAI_API_KEY", "")),
			Model:          getEnv("AI_MODEL", ""),
			BaseURL:        getEnv("AI_BASE_URL", ""),
			Timeout:        getEnvDuration("AI_TIMEOUT", 60*time.Second),
			ResponseFormat: getEnv("AI_RESPONSE_FORMAT", "json_schema"),
			Temperature:    getEnvFloat("AI_TEMPERATURE", 0.3),
			Language:       getEnv("AI_RESPONSE_LANGUAGE", "Persian"),
		},
		Quota: QuotaConfig{
			DailyLimit:    getEnvInt("QUOTA_DAILY_LIMIT", 15),
			InitialTokens: int64(getEnvInt("QUOTA_INITIAL_TOKENS", 10000)),
		},
		Storage: StorageConfig{
			Endpoint:      getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:     getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:     getEnv("STORAGE_SECRET_KEY", ""),
			UseSSL:        getEnvBool("STORAGE_USE_SSL", false),
			Bucket:        getEnv("STORAGE_BUCKET", "analysis-images"),
			Region:        getEnv("STORAGE_REGION", ""),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_BASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			JWKSURL:   getEnv("AUTH_JWKS_URL", ""),
			Issuer:    getEnv("AUTH_ISSUER", ""),
			Audience:  getEnv("AUTH_AUDIENCE", ""),
		},
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQPrefetch: getEnvInt("RABBITMQ_PREFETCH", 1),
		ArchiveMode:      strings.ToLower(getEnv("ARCHIVE_MODE", ArchiveModeInline)),
		OTELEnabled:      getEnvBool("OTEL_ENABLED", false),
		OTELEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELSampleRatio:  getEnvFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is required", ErrConfiguration)
	}

	loc, err := time.LoadLocation(getEnv("QUOTA_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("%w: QUOTA_TIMEZONE: %v", ErrConfiguration, err)
	}
	cfg.Quota.Location = loc

	if cfg.Quota.DailyLimit <= 0 {
		return nil, fmt.Errorf("%w: QUOTA_DAILY_LIMIT must be positive", ErrConfiguration)
	}

	switch cfg.ArchiveMode {
	case ArchiveModeInline:
	case ArchiveModeQueue:
		if cfg.RabbitMQURL == "" {
			return nil, fmt.Errorf("%w: RABBITMQ_URL is required when ARCHIVE_MODE=queue", ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: unknown ARCHIVE_MODE %q", ErrConfiguration, cfg.ArchiveMode)
	}

	if cfg.AI.Timeout <= 0 || cfg.AI.Timeout > MaxAITimeout {
		return nil, fmt.Errorf("%w: AI_TIMEOUT must be between 0 and %s, got %s", ErrConfiguration, MaxAITimeout, cfg.AI.Timeout)
	}

	switch cfg.AI.ResponseFormat {
	case "json_schema", "json_object":
	default:
		return nil, fmt.Errorf("%w: AI_RESPONSE_FORMAT must be json_schema or json_object", ErrConfiguration)
	}

	return cfg, nil
}

// ValidateAuth reports whether token verification is configured. Only the HTTP server
// needs it, so it is not part of Load.
func (c *Config) ValidateAuth() error {
	if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("%w: one of AUTH_JWT_SECRET or AUTH_JWKS_URL is required", ErrConfiguration)
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWKSURL != "" {
		return fmt.Errorf("%w: AUTH_JWT_SECRET and AUTH_JWKS_URL are mutually exclusive", ErrConfiguration)
	}
	return nil
}

// ValidateStorage reports whether the blob store credentials are present.
func (c *Config) ValidateStorage() error {
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return fmt.Errorf("%w: STORAGE_ACCESS_KEY and STORAGE_SECRET_KEY are required", ErrConfiguration)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
