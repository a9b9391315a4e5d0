// Package config loads service configuration from environment variables,
// with a .env file loaded first for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every configuration group the service needs.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Upstream   UpstreamConfig
	Scraper    ScraperConfig
	Simulation SimulationConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Host            string
	AllowedOrigins  string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds authentication configuration for the ingest API key and
// the optional admin bearer token gate.
type AuthConfig struct {
	IngestAPIKey             string
	JWTSecret                string
	AccessTokenDuration      time.Duration
	RequireAdminForMutations bool
}

// UpstreamConfig holds the lead-trader upstream client configuration (C1).
type UpstreamConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	DefaultRange   string
}

// ScraperConfig holds the scraper orchestrator configuration (C3).
type ScraperConfig struct {
	Enabled            bool
	PollInterval       time.Duration
	ConcurrencyWindow  int
	BatchSize          int
	InterBatchPause    time.Duration
	TraderListRefresh  time.Duration
}

// SimulationConfig holds default paper-trading parameters (C13).
type SimulationConfig struct {
	DefaultLeverage       float64
	DefaultSlippageBps    float64
	DefaultCommissionBps  float64
	DefaultMinSampleSize  int
	ReferencePriceMaxAge  time.Duration
}

// RateLimitConfig holds the in-memory per-endpoint rate limiter configuration.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig holds zerolog configuration.
type LoggingConfig struct {
	Level      string
	JSONFormat bool
}

// Load reads .env (if present) then builds Config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			AllowedOrigins:  getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*"),
			ReadTimeout:     getEnvDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Database: getEnvOrDefault("DB_NAME", "copytrade_signals"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvOrDefault("REDIS_ENABLED", "true") == "true",
			Address:  getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 10),
		},
		Auth: AuthConfig{
			IngestAPIKey:             getEnvOrDefault("INGEST_API_KEY", ""),
			JWTSecret:                getEnvOrDefault("ADMIN_JWT_SECRET", ""),
			AccessTokenDuration:      getEnvDurationOrDefault("ADMIN_TOKEN_DURATION", 24*time.Hour),
			RequireAdminForMutations: getEnvOrDefault("REQUIRE_ADMIN_FOR_MUTATIONS", "false") == "true",
		},
		Upstream: UpstreamConfig{
			BaseURL:        getEnvOrDefault("UPSTREAM_BASE_URL", ""),
			RequestTimeout: getEnvDurationOrDefault("UPSTREAM_REQUEST_TIMEOUT", 15*time.Second),
			DefaultRange:   getEnvOrDefault("UPSTREAM_DEFAULT_RANGE", "30D"),
		},
		Scraper: ScraperConfig{
			Enabled:           getEnvOrDefault("SCRAPER_ENABLED", "true") == "true",
			PollInterval:      getEnvDurationOrDefault("SCRAPER_POLL_INTERVAL", 5*time.Minute),
			ConcurrencyWindow: getEnvIntOrDefault("SCRAPER_CONCURRENCY_WINDOW", 5),
			BatchSize:         getEnvIntOrDefault("SCRAPER_BATCH_SIZE", 10),
			InterBatchPause:   getEnvDurationOrDefault("SCRAPER_INTER_BATCH_PAUSE", 500*time.Millisecond),
			TraderListRefresh: getEnvDurationOrDefault("SCRAPER_TRADER_LIST_REFRESH", 15*time.Minute),
		},
		Simulation: SimulationConfig{
			DefaultLeverage:      getEnvFloatOrDefault("SIM_DEFAULT_LEVERAGE", 10),
			DefaultSlippageBps:   getEnvFloatOrDefault("SIM_DEFAULT_SLIPPAGE_BPS", 5),
			DefaultCommissionBps: getEnvFloatOrDefault("SIM_DEFAULT_COMMISSION_BPS", 4),
			DefaultMinSampleSize: getEnvIntOrDefault("SIM_DEFAULT_MIN_SAMPLE_SIZE", 30),
			ReferencePriceMaxAge: getEnvDurationOrDefault("SIM_REFERENCE_PRICE_MAX_AGE", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvOrDefault("RATE_LIMIT_ENABLED", "true") == "true",
			RequestsPerMinute: getEnvIntOrDefault("RATE_LIMIT_RPM", 120),
			Burst:             getEnvIntOrDefault("RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			JSONFormat: getEnvOrDefault("LOG_JSON", "true") == "true",
		},
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
