package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "too-short")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "0123456789012345678901234567890123456789012345678901234567890123")
	t.Setenv("API_KEY", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "0123456789012345678901234567890123456789012345678901234567890123")
	t.Setenv("API_KEY", "test-api-key")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite:shared_context.db", cfg.DatabaseURL)
	require.Equal(t, 10, cfg.MaxConnections)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "0123456789012345678901234567890123456789012345678901234567890123")
	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("MAX_CONNECTIONS", "25")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 25, cfg.MaxConnections)
	require.Equal(t, "debug", cfg.LogLevel)
}
