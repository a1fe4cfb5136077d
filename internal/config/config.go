// Package config loads ingest daemon configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides daemon configuration.
var Module = fx.Provide(Load)

// Config holds daemon configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	// Outlit delivery credentials and pipeline tuning.
	APIKey        string
	Endpoint      string
	FlushInterval time.Duration
	MaxBatchSize  int
	Timeout       time.Duration
	MaxRetries    int
	QueueCapacity int

	StripeWebhookSecret string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	WebhookLockTTL    time.Duration
	ShutdownTimeoutMS int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "outlitd"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),

		APIKey:        strings.TrimSpace(getenv("OUTLIT_KEY", "")),
		Endpoint:      getenv("OUTLIT_ENDPOINT", ""),
		FlushInterval: getenvDuration("OUTLIT_FLUSH_INTERVAL_MS", 10_000),
		MaxBatchSize:  getenvInt("OUTLIT_MAX_BATCH_SIZE", 100),
		Timeout:       getenvDuration("OUTLIT_TIMEOUT_MS", 10_000),
		MaxRetries:    getenvInt("OUTLIT_MAX_RETRIES", 3),
		QueueCapacity: getenvInt("OUTLIT_QUEUE_CAPACITY", 1000),

		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "outlit"),
		DBUser:            getenv("DATABASE_USER", "outlit"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "outlit.db"),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		WebhookLockTTL:    getenvDuration("WEBHOOK_LOCK_TTL_MS", 5_000),
		ShutdownTimeoutMS: getenvInt("SHUTDOWN_TIMEOUT_MS", 15_000),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, defMillis int) time.Duration {
	return time.Duration(getenvInt(key, defMillis)) * time.Millisecond
}
