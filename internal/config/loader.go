package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and
// environment variables. If configFile is empty, standard locations are
// searched for bastion.yaml/.yml. The search requires an explicit YAML
// extension so the binary itself is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which Load handles gracefully.
		viper.SetConfigName("bastion")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: BASTION_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("BASTION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a bastion config file
// with an explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".bastion"),
		"/etc/bastion",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "bastion"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// overrides. Example: BASTION_REDIS_ADDR overrides redis.addr.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("redis.addr")
	_ = viper.BindEnv("redis.password")
	_ = viper.BindEnv("redis.db")
	_ = viper.BindEnv("redis.key_prefix")
	_ = viper.BindEnv("redis.timeout_ms")
	_ = viper.BindEnv("rate_limit.default_limit")
	_ = viper.BindEnv("rate_limit.default_window_seconds")
	_ = viper.BindEnv("rate_limit.spam_limit")
	_ = viper.BindEnv("rate_limit.spam_window_seconds")
	_ = viper.BindEnv("rate_limit.block_duration_seconds")
	_ = viper.BindEnv("rate_limit.activity_ttl_seconds")
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("grants_db")
	_ = viper.BindEnv("admin.token_hash")
	_ = viper.BindEnv("dev_mode")
}

// setDefaults registers the stock values with viper so partial config
// files inherit them.
func setDefaults() {
	def := Default()
	viper.SetDefault("server.http_addr", def.Server.HTTPAddr)
	viper.SetDefault("server.log_level", def.Server.LogLevel)
	viper.SetDefault("redis.key_prefix", def.Redis.KeyPrefix)
	viper.SetDefault("redis.timeout_ms", def.Redis.TimeoutMillis)
	viper.SetDefault("rate_limit.default_limit", def.RateLimit.DefaultLimit)
	viper.SetDefault("rate_limit.default_window_seconds", def.RateLimit.DefaultWindowSeconds)
	viper.SetDefault("rate_limit.spam_limit", def.RateLimit.SpamLimit)
	viper.SetDefault("rate_limit.spam_window_seconds", def.RateLimit.SpamWindowSeconds)
	viper.SetDefault("rate_limit.block_duration_seconds", def.RateLimit.BlockDurationSeconds)
	viper.SetDefault("rate_limit.activity_ttl_seconds", def.RateLimit.ActivityTTLSeconds)
	viper.SetDefault("audit.output", def.Audit.Output)
	viper.SetDefault("audit.retention_days", def.Audit.RetentionDays)
}

// ConfigFileUsed reports the config file viper resolved, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// Load reads, unmarshals and validates the configuration. A missing
// config file is not an error; defaults and environment variables
// apply.
func Load() (*Config, error) {
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
