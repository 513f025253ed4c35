// Package config loads daemon configuration from environment variables
// and seed manifests.
package config

import (
	"os"
	"strconv"
)

// Config holds daemon configuration.
type Config struct {
	Port         string
	LogLevel     string
	InitialAdmin string
	JWTSecret    string

	// AuditBackend selects the audit trail persistence: "stdout",
	// "sqlite" or "postgres".
	AuditBackend string
	SQLitePath   string
	DatabaseURL  string

	// RedisAddr enables the shared rate limiter when set; empty means
	// per-node in-memory limiting.
	RedisAddr      string
	RedisPassword  string
	RateLimitRPS   int
	RateLimitBurst int

	// ManifestPath points at an optional YAML seed manifest applied at
	// startup.
	ManifestPath string

	// OTLPEndpoint enables trace and metric export when set.
	OTLPEndpoint string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	initialAdmin := os.Getenv("WARDEN_INITIAL_ADMIN")
	if initialAdmin == "" {
		initialAdmin = "admin"
	}

	auditBackend := os.Getenv("WARDEN_AUDIT_BACKEND")
	if auditBackend == "" {
		auditBackend = "stdout"
	}

	sqlitePath := os.Getenv("WARDEN_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "warden.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://warden@localhost:5432/warden?sslmode=disable"
	}

	return &Config{
		Port:           port,
		LogLevel:       logLevel,
		InitialAdmin:   initialAdmin,
		JWTSecret:      os.Getenv("WARDEN_JWT_SECRET"),
		AuditBackend:   auditBackend,
		SQLitePath:     sqlitePath,
		DatabaseURL:    dbURL,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RateLimitRPS:   intEnv("WARDEN_RATE_LIMIT_RPS", 50),
		RateLimitBurst: intEnv("WARDEN_RATE_LIMIT_BURST", 100),
		ManifestPath:   os.Getenv("WARDEN_MANIFEST"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
