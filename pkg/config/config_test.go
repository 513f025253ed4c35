package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "admin", cfg.InitialAdmin)
	require.Equal(t, "stdout", cfg.AuditBackend)
	require.Equal(t, 50, cfg.RateLimitRPS)
	require.Equal(t, 100, cfg.RateLimitBurst)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WARDEN_INITIAL_ADMIN", "root@example.org")
	t.Setenv("WARDEN_AUDIT_BACKEND", "sqlite")
	t.Setenv("WARDEN_RATE_LIMIT_RPS", "5")
	t.Setenv("WARDEN_RATE_LIMIT_BURST", "not-a-number")

	cfg := Load()
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "root@example.org", cfg.InitialAdmin)
	require.Equal(t, "sqlite", cfg.AuditBackend)
	require.Equal(t, 5, cfg.RateLimitRPS)
	require.Equal(t, 100, cfg.RateLimitBurst, "unparseable value falls back to default")
}
