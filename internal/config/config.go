// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all file browser server configuration.
type Config struct {
	// Server
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Database (user records only; file content never goes here)
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// TLS (optional; if both set, server uses HTTPS)
	TLSCertFile string `envconfig:"TLS_CERT_FILE"`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// OIDC (optional)
	OIDCIssuerURL string `envconfig:"OIDC_ISSUER_URL"`
	OIDCClientID  string `envconfig:"OIDC_CLIENT_ID"`

	// Storage: every user root lives directly under StorageRoot.
	StorageRoot string `envconfig:"STORAGE_ROOT" default:"users_space"`

	// Uploads
	MaxUploadSize     int64    `envconfig:"MAX_UPLOAD_SIZE" default:"15728640"` // 15 MiB
	AllowedExtensions []string `envconfig:"ALLOWED_EXTENSIONS" default:"txt,pdf,png,jpg,jpeg,gif"`

	// Integrity
	HashAlgorithm string `envconfig:"HASH_ALGORITHM" default:"sha256"`

	// Per-user requests per minute, 0 = unlimited
	RateLimitRPM int `envconfig:"RATE_LIMIT_RPM" default:"0"`
}

var knownHashAlgorithms = map[string]bool{
	"sha256": true,
	"md5":    true,
	"xxhash": true,
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT must not be empty")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("ALLOWED_EXTENSIONS must list at least one extension")
	}
	c.HashAlgorithm = strings.ToLower(c.HashAlgorithm)
	if !knownHashAlgorithms[c.HashAlgorithm] {
		return fmt.Errorf("unknown HASH_ALGORITHM %q", c.HashAlgorithm)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

// UseTLS reports whether both certificate and key are configured.
func (c *Config) UseTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
