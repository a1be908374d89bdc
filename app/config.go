package app

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service settings read from the environment
type Config struct {
	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: info)
	LogFormat string // Log format (json, text) (default: json)
	LogBuffer int    // Records kept for /admin/logs (default: 1000)

	Port                int           // HTTP server port (default: 9000)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	RedisURL       string // Nonce and OTP store (default: redis://localhost:6379/0)
	DatabaseFile   string // SQLite identity store (default: walletauth.db)
	FrontendURL    string // Origin shown in challenges (default: http://localhost:3000)
	SigningKeyFile string // Optional: PEM EC P-256 key, ephemeral when empty
	AdminToken     string // Optional: bearer token for /admin, disabled when empty
	EventsEnabled  bool   // Publish identity events to redis streams (default: true)

	AccessTokenTTL  time.Duration // (default: 15m)
	SessionTTL      time.Duration // (default: 168h)
	NonceTTL        time.Duration // (default: 300s)
	ChallengeWindow time.Duration // Accepted Issued At skew (default: 300s)

	BehaviorAutoLink        bool          // Link wallets by behavior alone (default: false)
	BehaviorSimilarityFloor float64       // (default: 0.8)
	BehaviorWindow          time.Duration // Sessions considered for behavior matching (default: 720h)
	CardanoAddressBinding   bool          // Require the COSE key to hash to the address (default: true)

	OTPTTL                 time.Duration // (default: 10m)
	OTPMaxAttempts         int           // (default: 5)
	RateLimitAuthRequests  int           // Auth requests per IP per minute (default: 20)
	RateLimitEmailRequests int           // Email OTP requests per user per 10 minutes (default: 5)
	HousekeepingInterval   time.Duration // Expired session pruning (default: 1h)
}

// LoadConfig reads the configuration from the environment
func LoadConfig() Config {
	return Config{
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		LogBuffer: getEnvIntOrDefault("LOG_BUFFER_SIZE", 1000),

		Port:                getEnvIntOrDefault("PORT", 9000),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		RedisURL:       getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseFile:   getEnvOrDefault("DATABASE_FILE", "walletauth.db"),
		FrontendURL:    getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
		SigningKeyFile: os.Getenv("SIGNING_KEY_FILE"),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		EventsEnabled:  getEnvBoolOrDefault("EVENTS_ENABLED", true),

		AccessTokenTTL:  getEnvDurationOrDefault("ACCESS_TOKEN_TTL", 15*time.Minute),
		SessionTTL:      getEnvDurationOrDefault("SESSION_TTL", 7*24*time.Hour),
		NonceTTL:        getEnvDurationOrDefault("NONCE_TTL", 300*time.Second),
		ChallengeWindow: getEnvDurationOrDefault("CHALLENGE_WINDOW", 300*time.Second),

		BehaviorAutoLink:        getEnvBoolOrDefault("BEHAVIOR_AUTOLINK", false),
		BehaviorSimilarityFloor: getEnvFloatOrDefault("BEHAVIOR_SIMILARITY_FLOOR", 0.8),
		BehaviorWindow:          getEnvDurationOrDefault("BEHAVIOR_WINDOW", 30*24*time.Hour),
		CardanoAddressBinding:   getEnvBoolOrDefault("CARDANO_ADDRESS_BINDING", true),

		OTPTTL:                 getEnvDurationOrDefault("OTP_TTL", 10*time.Minute),
		OTPMaxAttempts:         getEnvIntOrDefault("OTP_MAX_ATTEMPTS", 5),
		RateLimitAuthRequests:  getEnvIntOrDefault("RATELIMIT_AUTH_REQUESTS", 20),
		RateLimitEmailRequests: getEnvIntOrDefault("RATELIMIT_EMAIL_REQUESTS", 5),
		HousekeepingInterval:   getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
