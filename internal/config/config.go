// Package config provides configuration types and loading for the
// bastion security perimeter.
//
// Everything here is read once at startup: provider secrets, IP
// allowlists, throttling parameters and role assignments are not
// hot-reloaded. Rotating a secret requires a restart.
package config

import (
	"time"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Redis configures the shared counter store.
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`

	// RateLimit configures the throttling and escalation parameters.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Providers configures webhook secrets and extra allowlist entries
	// per provider, keyed by provider name.
	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`

	// Audit configures where security events are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Identities assigns roles to principals, standing in for the
	// external identity provider. Keyed by principal ID.
	Identities map[string]string `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive,oneof=user moderator admin super_admin"`

	// GrantsDB is the path of the durable ad-hoc grant database.
	// Empty disables durable grants.
	GrantsDB string `yaml:"grants_db" mapstructure:"grants_db"`

	// Admin configures the operator API.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// DevMode enables verbose logging and the in-memory counter store
	// when no Redis address is configured.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// HTTPAddr is the listen address, e.g. ":8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// RedisConfig configures the shared counter store connection.
type RedisConfig struct {
	// Addr is the host:port of the Redis-compatible store. Empty in
	// dev mode falls back to the in-memory store.
	Addr string `yaml:"addr" mapstructure:"addr"`
	// Password authenticates the connection, when set.
	Password string `yaml:"password" mapstructure:"password"`
	// DB selects the logical database.
	DB int `yaml:"db" mapstructure:"db" validate:"gte=0"`
	// KeyPrefix namespaces every key written by this service.
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix" validate:"required"`
	// TimeoutMillis bounds each store round-trip.
	TimeoutMillis int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"gt=0,lte=5000"`
}

// Timeout returns the per-call store timeout.
func (r RedisConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

// OperationLimit overrides the primary limit for one operation key.
type OperationLimit struct {
	Operation     string `yaml:"operation" mapstructure:"operation" validate:"required"`
	Limit         int    `yaml:"limit" mapstructure:"limit" validate:"gt=0"`
	WindowSeconds int    `yaml:"window_seconds" mapstructure:"window_seconds" validate:"gt=0"`
}

// RateLimitConfig holds throttling and escalation parameters. Windows
// and durations are in seconds, matching the store's TTL resolution.
type RateLimitConfig struct {
	DefaultLimit         int              `yaml:"default_limit" mapstructure:"default_limit" validate:"gt=0"`
	DefaultWindowSeconds int              `yaml:"default_window_seconds" mapstructure:"default_window_seconds" validate:"gt=0"`
	SpamLimit            int              `yaml:"spam_limit" mapstructure:"spam_limit" validate:"gt=0"`
	SpamWindowSeconds    int              `yaml:"spam_window_seconds" mapstructure:"spam_window_seconds" validate:"gt=0"`
	BlockDurationSeconds int              `yaml:"block_duration_seconds" mapstructure:"block_duration_seconds" validate:"gt=0"`
	ActivityTTLSeconds   int              `yaml:"activity_ttl_seconds" mapstructure:"activity_ttl_seconds" validate:"gt=0"`
	Operations           []OperationLimit `yaml:"operations" mapstructure:"operations" validate:"omitempty,dive"`
}

// ProviderConfig holds one provider's secret and extra allowlist rules.
type ProviderConfig struct {
	// Secret is the shared signing secret. A configured provider with
	// an empty secret rejects every webhook.
	Secret string `yaml:"secret" mapstructure:"secret"`
	// Allowlist entries extend the provider's built-in source networks.
	// Accepts addresses and CIDR ranges, IPv4 and IPv6.
	Allowlist []string `yaml:"allowlist" mapstructure:"allowlist" validate:"omitempty,dive,ip_or_cidr"`
}

// AuditConfig configures the audit egress.
type AuditConfig struct {
	// Output is "stdout", "log" (via the service logger) or
	// "file://<absolute-dir>".
	Output string `yaml:"output" mapstructure:"output" validate:"audit_output"`
	// RetentionDays bounds how long rotated audit files are kept.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"gt=0,lte=365"`
}

// AdminConfig configures the operator API.
type AdminConfig struct {
	// TokenHash is the argon2id PHC hash of the admin bearer token.
	// Empty disables the admin endpoints. Generate with
	// "bastion hash-token".
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{HTTPAddr: ":8080", LogLevel: "info"},
		Redis: RedisConfig{
			KeyPrefix:     "bastion",
			TimeoutMillis: 250,
		},
		RateLimit: RateLimitConfig{
			DefaultLimit:         20,
			DefaultWindowSeconds: 60,
			SpamLimit:            100,
			SpamWindowSeconds:    3600,
			BlockDurationSeconds: 3600,
			ActivityTTLSeconds:   86400,
		},
		Audit: AuditConfig{
			Output:        "stdout",
			RetentionDays: 7,
		},
	}
}
