// Package config resolves runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the payment request service.
type Config struct {
	ListenAddress string
	DatabaseURL   string
	// BaseURL prefixes the hosted checkout and pay pages on issued requests.
	BaseURL string
	// Environment tags logs and metrics; anything but "production" keeps
	// human-readable output.
	Environment string

	LinkTTL       time.Duration
	SweepInterval time.Duration
	SweepBatch    int

	// TokenRegistryPath points at a TOML chain/token registry. Empty falls
	// back to the built-in registry.
	TokenRegistryPath string
	DefaultChainID    uint64
	DefaultToken      string
}

const (
	envListen        = "CHAINPAY_LISTEN"
	envDatabaseURL   = "CHAINPAY_DATABASE_URL"
	envBaseURL       = "CHAINPAY_BASE_URL"
	envEnvironment   = "CHAINPAY_ENV"
	envLinkTTL       = "CHAINPAY_LINK_TTL"
	envSweepInterval = "CHAINPAY_SWEEP_INTERVAL"
	envSweepBatch    = "CHAINPAY_SWEEP_BATCH"
	envTokenRegistry = "CHAINPAY_TOKEN_REGISTRY"
	envChainID       = "CHAINPAY_CHAIN_ID"
	envToken         = "CHAINPAY_TOKEN"
)

// FromEnv resolves configuration from environment variables with sane defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddress:     getenvDefault(envListen, ":8080"),
		DatabaseURL:       os.Getenv(envDatabaseURL),
		BaseURL:           strings.TrimRight(getenvDefault(envBaseURL, ""), "/"),
		Environment:       getenvDefault(envEnvironment, "production"),
		LinkTTL:           parseDurationDefault(envLinkTTL, time.Hour),
		SweepInterval:     parseDurationDefault(envSweepInterval, 30*time.Second),
		SweepBatch:        parseIntDefault(envSweepBatch, 100),
		TokenRegistryPath: os.Getenv(envTokenRegistry),
		DefaultChainID:    uint64(parseIntDefault(envChainID, 1135)),
		DefaultToken:      getenvDefault(envToken, "USDT"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%s is required", envDatabaseURL)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s is required", envBaseURL)
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func parseDurationDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func parseIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
