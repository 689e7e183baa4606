// Package config loads service settings from CIVIC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const minSecretLen = 32

// Config holds the application configuration
type Config struct {
	// Server bind address (host:port)
	HTTPAddr string

	// Database connection string; empty selects the in-memory store
	DatabaseURL string

	// HS256 key for locally issued sessions
	SessionSecret string
	SessionTTL    time.Duration

	Firebase FirebaseConfig

	CORSOrigins        []string
	RateLimitPerMinute int
	MaxBodyBytes       int64

	// OTLP/HTTP collector endpoint; tracing stays off when empty
	OTLPEndpoint string
	OTLPInsecure bool
}

// FirebaseConfig enables the federated credential fallback when ProjectID is set.
type FirebaseConfig struct {
	ProjectID string
	Issuer    string
	Timeout   time.Duration
}

// Enabled reports whether federated verification is configured.
func (f FirebaseConfig) Enabled() bool {
	return strings.TrimSpace(f.ProjectID) != ""
}

// Load reads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      getEnv("CIVIC_HTTP_ADDR", ":8080"),
		DatabaseURL:   getEnv("CIVIC_PG_DSN", ""),
		SessionSecret: getEnv("CIVIC_SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("CIVIC_SESSION_TTL", 24*time.Hour),
		Firebase: FirebaseConfig{
			ProjectID: getEnv("CIVIC_FIREBASE_PROJECT_ID", ""),
			Issuer:    getEnv("CIVIC_FIREBASE_ISSUER", ""),
			Timeout:   getEnvDuration("CIVIC_FEDERATED_TIMEOUT", 5*time.Second),
		},
		CORSOrigins:        getEnvList("CIVIC_CORS_ORIGINS"),
		RateLimitPerMinute: getEnvInt("CIVIC_RATE_LIMIT_PER_MINUTE", 60),
		MaxBodyBytes:       int64(getEnvInt("CIVIC_MAX_BODY_BYTES", 1<<20)),
		OTLPEndpoint:       getEnv("CIVIC_OTLP_ENDPOINT", ""),
		OTLPInsecure:       getEnvBool("CIVIC_OTLP_INSECURE", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("CIVIC_SESSION_SECRET is required")
	}
	if len(c.SessionSecret) < minSecretLen {
		return fmt.Errorf("CIVIC_SESSION_SECRET must be at least %d bytes", minSecretLen)
	}
	if c.SessionTTL <= 0 {
		return errors.New("CIVIC_SESSION_TTL must be positive")
	}
	if c.Firebase.Timeout <= 0 {
		return errors.New("CIVIC_FEDERATED_TIMEOUT must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("CIVIC_RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("CIVIC_MAX_BODY_BYTES must be positive")
	}
	if c.Firebase.Issuer != "" && !c.Firebase.Enabled() {
		return errors.New("CIVIC_FIREBASE_ISSUER requires CIVIC_FIREBASE_PROJECT_ID")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
