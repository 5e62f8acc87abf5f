package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	HTTPAddr     string
	APIAuthToken string
	LogLevel     string

	MeliClientID     string
	MeliClientSecret string
	MeliBaseURL      string

	// Tunables. Intervals in seconds so they map 1:1 to env vars.
	OrdersSyncInterval int
	ClaimsSyncInterval int
	QueueDrainInterval int
	MaxRetries         int
	ShutdownTimeout    int

	MetricsNamespace string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	meliClientID := os.Getenv("MELI_CLIENT_ID")
	meliClientSecret := os.Getenv("MELI_CLIENT_SECRET")
	if meliClientID == "" || meliClientSecret == "" {
		fmt.Println("Warning: MELI_CLIENT_ID or MELI_CLIENT_SECRET not set, token refresh will not work")
	}

	return &Config{
		DatabaseURL:        dbURL,
		RedisAddr:          envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            envIntOr("REDIS_DB", 0),
		RedisTLS:           os.Getenv("REDIS_TLS") == "true",
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		APIAuthToken:       os.Getenv("API_AUTH_TOKEN"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		MeliClientID:       meliClientID,
		MeliClientSecret:   meliClientSecret,
		MeliBaseURL:        envOr("MELI_BASE_URL", "https://api.mercadolibre.com"),
		OrdersSyncInterval: envIntOr("ORDERS_SYNC_INTERVAL", 300),
		ClaimsSyncInterval: envIntOr("CLAIMS_SYNC_INTERVAL", 300),
		QueueDrainInterval: envIntOr("QUEUE_DRAIN_INTERVAL", 60),
		MaxRetries:         envIntOr("MAX_RETRIES", 3),
		ShutdownTimeout:    envIntOr("SHUTDOWN_TIMEOUT", 30),
		MetricsNamespace:   envOr("METRICS_NAMESPACE", "melisync"),
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// OrdersSyncEvery returns the orders sync interval as a duration.
func (c *Config) OrdersSyncEvery() time.Duration {
	return time.Duration(c.OrdersSyncInterval) * time.Second
}

// ClaimsSyncEvery returns the claims sync interval as a duration.
func (c *Config) ClaimsSyncEvery() time.Duration {
	return time.Duration(c.ClaimsSyncInterval) * time.Second
}

// QueueDrainEvery returns the queue drain interval as a duration.
func (c *Config) QueueDrainEvery() time.Duration {
	return time.Duration(c.QueueDrainInterval) * time.Second
}
