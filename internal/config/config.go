package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Database. An empty URL selects the in-memory store.
	DatabaseURL string
	DBMaxConns  int

	// HTTP client
	HTTPTimeout    time.Duration
	GatewayTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Payment gateway
	PaystackBaseURL     string
	PaystackSecretKey   string
	PaystackCallbackURL string
	PaystackAllowedIPs  []string
	Currency            string

	// JWT / Auth
	JWTSecret    string
	JWTAccessTTL time.Duration
	BcryptCost   int

	// Pending top-up sweep
	SweepInterval time.Duration
	SweepMinAge   time.Duration
	SweepBatch    int
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),

		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		GatewayTimeout: getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		PaystackBaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		PaystackSecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackCallbackURL: getEnv("PAYSTACK_CALLBACK_URL", ""),
		PaystackAllowedIPs:  getEnvList("PAYSTACK_ALLOWED_IPS", nil),
		Currency:            getEnv("CURRENCY", "NGN"),

		JWTSecret:    getEnv("JWT_SECRET", "wallet-default-dev-secret-change-me"),
		JWTAccessTTL: getEnvDuration("JWT_ACCESS_TTL", 30*time.Minute),
		BcryptCost:   getEnvInt("BCRYPT_COST", 12),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		SweepMinAge:   getEnvDuration("SWEEP_MIN_AGE", 5*time.Minute),
		SweepBatch:    getEnvInt("SWEEP_BATCH", 50),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
