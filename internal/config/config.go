// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Agent runtime settings. An empty RuntimeURL puts the service in demo
	// mode: submissions stream a synthetic walkthrough instead of a live run.
	RuntimeURL    string
	RuntimeAPIKey string

	// Capability registry.
	RegistryPath string // Path to the JSON capability file.

	// Database settings. Optional; no archive when empty.
	DatabaseURL string

	// Auth settings. Optional; requests are unauthenticated when empty.
	AuthSecret string // HMAC secret for bearer token verification.

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel      string
	MaxAttempts   int   // Attempt ceiling per investigation, retries included.
	MaxInputBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:          envInt("INQUEST_PORT", 8080),
		ReadTimeout:   envDuration("INQUEST_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  envDuration("INQUEST_WRITE_TIMEOUT", 15*time.Minute),
		RuntimeURL:    envStr("INQUEST_RUNTIME_URL", ""),
		RuntimeAPIKey: envStr("INQUEST_RUNTIME_API_KEY", ""),
		RegistryPath:  envStr("INQUEST_REGISTRY_PATH", "capabilities.json"),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		AuthSecret:    envStr("INQUEST_AUTH_SECRET", ""),
		OTELEndpoint:  envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:   envStr("OTEL_SERVICE_NAME", "inquest"),
		LogLevel:      envStr("INQUEST_LOG_LEVEL", "info"),
		MaxAttempts:   envInt("INQUEST_MAX_ATTEMPTS", 2),
		MaxInputBytes: int64(envInt("INQUEST_MAX_INPUT_BYTES", 64*1024)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: INQUEST_PORT must be in 1..65535")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: INQUEST_MAX_ATTEMPTS must be at least 1")
	}
	if c.MaxInputBytes <= 0 {
		return fmt.Errorf("config: INQUEST_MAX_INPUT_BYTES must be positive")
	}
	if c.RuntimeURL != "" && c.RegistryPath == "" {
		return fmt.Errorf("config: INQUEST_REGISTRY_PATH is required when a runtime is configured")
	}
	return nil
}

// RuntimeConfigured reports whether a live agent runtime endpoint is set.
// When false the service serves synthetic walkthroughs only.
func (c Config) RuntimeConfigured() bool {
	return c.RuntimeURL != ""
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
