// Package config provides configuration management for policydesk.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the full service and CLI configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Log        LogConfig
	Validation ValidationConfig
	Client     ClientConfig
}

// ServerConfig holds the HTTP API and gRPC health listeners.
type ServerConfig struct {
	Host            string
	Port            int
	GRPCPort        int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the policy store (sqlite://path or postgres://...).
type DatabaseConfig struct {
	URL string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string
	Format string
}

// ValidationConfig tunes policy validation.
type ValidationConfig struct {
	// KnownFields is the field catalogue; empty disables field reference checks.
	KnownFields []string
	// Debounce is the quiet period before `policy validate --watch` re-runs.
	Debounce time.Duration
}

// ClientConfig points the API client at a backend.
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			GRPCPort:        50051,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{URL: "sqlite://./data/policydesk.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Validation: ValidationConfig{
			Debounce: 500 * time.Millisecond,
		},
		Client: ClientConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 30 * time.Second,
		},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports PD_HMAC_SECRET (single) and PD_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check PD_HMAC_SECRET and PD_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	if val := os.Getenv("PD_HMAC_SECRET"); val != "" {
		if err := add("PD_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old keys valid while a new one rolls out.
	for i := 1; ; i++ {
		key := fmt.Sprintf("PD_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}
