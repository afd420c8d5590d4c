// Package config loads server configuration from the environment into a
// typed struct, failing closed on missing or invalid required settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const minJWTSecretLen = 64

// Config holds every tunable the server reads at startup. There is no
// dev-mode fallback for the secret fields: a missing JWT_SECRET_KEY is a
// startup error, not a generated throwaway key.
type Config struct {
	DatabaseURL    string
	APIKey         string
	JWTSecretKey   string
	TokenTTL       time.Duration
	MaxConnections int
	PoolOverflow   int
	WebSocketHost  string
	WebSocketPort  int
	LogLevel       string
	EnablePerfMon  bool
}

func defaults() map[string]any {
	return map[string]any{
		"database_url":                  "sqlite:shared_context.db",
		"token_ttl_seconds":              3600,
		"max_connections":                10,
		"pool_overflow":                  5,
		"websocket_host":                 "127.0.0.1",
		"websocket_port":                 8765,
		"log_level":                      "info",
		"enable_performance_monitoring":  false,
	}
}

// Load reads MAX_CONNECTIONS, DATABASE_URL, API_KEY, JWT_SECRET_KEY,
// TOKEN_TTL_SECONDS, POOL_OVERFLOW, WEBSOCKET_HOST, WEBSOCKET_PORT,
// LOG_LEVEL and ENABLE_PERFORMANCE_MONITORING from the process environment.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	jwtSecret := k.String("jwt_secret_key")
	if len(jwtSecret) < minJWTSecretLen {
		return nil, fmt.Errorf("config: JWT_SECRET_KEY must be set and at least %d characters", minJWTSecretLen)
	}
	if k.String("api_key") == "" {
		return nil, fmt.Errorf("config: API_KEY must be set")
	}

	cfg := &Config{
		DatabaseURL:    k.String("database_url"),
		APIKey:         k.String("api_key"),
		JWTSecretKey:   jwtSecret,
		TokenTTL:       time.Duration(k.Int("token_ttl_seconds")) * time.Second,
		MaxConnections: k.Int("max_connections"),
		PoolOverflow:   k.Int("pool_overflow"),
		WebSocketHost:  k.String("websocket_host"),
		WebSocketPort:  k.Int("websocket_port"),
		LogLevel:       k.String("log_level"),
		EnablePerfMon:  k.Bool("enable_performance_monitoring"),
	}

	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("config: MAX_CONNECTIONS must be positive")
	}

	return cfg, nil
}
