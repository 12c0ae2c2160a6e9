package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/perchboard/perch/internal/auth/domain"
	"github.com/perchboard/perch/pkg/tokenx"
)

type Config struct {
	Issuer      string // Issuer claim stamped into every token
	TokenSecret string // Required in prod: HMAC signing secret; ephemeral random secret otherwise

	AccessTTL    time.Duration // Access token lifetime (default: 15m)
	RefreshTTL   time.Duration // Refresh token lifetime (default: 168h)
	DatabaseFile string        // Path to SQLite database file (default: ./perch.db)
	Pepper       string        // Optional: process-wide pepper mixed into password hashes
	CookieSecure bool          // Set the Secure flag on token cookies (default: true in prod)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	HousekeepingInterval time.Duration // Attempt pruning interval (default: 1h)
	AttemptRetention     time.Duration // How long attempt records are kept (default: 720h)

	LoginPolicy domain.LoginPolicy

	// Optional one-time seed account, created only when the users table is
	// empty. With no seed password configured, one is generated and logged.
	SeedUsername string
	SeedPassword string
}

func LoadConfig() Config {
	// A .env file is a convenience for local development; absence is fine.
	_ = godotenv.Load()

	env := getEnvOrDefault("ENV", "dev")

	cfg := Config{
		Issuer:      getEnvOrDefault("PERCH_ISSUER", "perch-auth"),
		TokenSecret: os.Getenv("PERCH_TOKEN_SECRET"),

		AccessTTL:    getEnvDurationOrDefault("PERCH_ACCESS_TTL", tokenx.DefaultAccessTTL),
		RefreshTTL:   getEnvDurationOrDefault("PERCH_REFRESH_TTL", tokenx.DefaultRefreshTTL),
		DatabaseFile: getEnvOrDefault("PERCH_DATABASE_FILE", "perch.db"),
		Pepper:       os.Getenv("PERCH_PEPPER"),
		CookieSecure: getEnvBoolOrDefault("PERCH_COOKIE_SECURE", env == "prod"),

		Env:                 env,
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),

		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		AttemptRetention:     getEnvDurationOrDefault("PERCH_ATTEMPT_RETENTION", 30*24*time.Hour),

		SeedUsername: os.Getenv("PERCH_SEED_USERNAME"),
		SeedPassword: os.Getenv("PERCH_SEED_PASSWORD"),
	}

	policy := domain.DefaultLoginPolicy()
	policy.Enabled = getEnvBoolOrDefault("PERCH_LOGIN_AUDIT", true)
	policy.LogSuccessOnly = getEnvBoolOrDefault("PERCH_LOGIN_LOG_SUCCESS_ONLY", false)
	policy.LogFailureOnly = getEnvBoolOrDefault("PERCH_LOGIN_LOG_FAILURE_ONLY", false)
	policy.CheckBlocking = getEnvBoolOrDefault("PERCH_LOGIN_BLOCKING", true)
	policy.MaxAttemptsByOrigin = getEnvIntOrDefault("PERCH_LOGIN_MAX_PER_ORIGIN", policy.MaxAttemptsByOrigin)
	policy.MaxAttemptsByIdentifier = getEnvIntOrDefault("PERCH_LOGIN_MAX_PER_IDENTIFIER", policy.MaxAttemptsByIdentifier)
	policy.OriginBlockDuration = getEnvDurationOrDefault("PERCH_LOGIN_ORIGIN_BLOCK", policy.OriginBlockDuration)
	policy.IdentifierBlockDuration = getEnvDurationOrDefault("PERCH_LOGIN_IDENTIFIER_BLOCK", policy.IdentifierBlockDuration)
	cfg.LoginPolicy = policy

	return cfg
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

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
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

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
