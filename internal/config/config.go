// Package config provides configuration parsing and validation for justircd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	IPFilter IPFilterConfig `yaml:"ip_filter"`
	Limits   LimitsConfig   `yaml:"limits"`
	Rates    RatesConfig    `yaml:"rates"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Data     DataConfig     `yaml:"data"`
}

// ServerConfig contains bind address and identity settings.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ServerName  string `yaml:"server_name"`
	Description string `yaml:"description"`
	LogLevel    string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat   string `yaml:"log_format"` // text, json
}

// AuthConfig controls the accounts subsystem.
type AuthConfig struct {
	// EnableAuthentication turns on the accounts subsystem at all.
	EnableAuthentication bool `yaml:"enable_authentication"`
	// RequireAuthentication rejects unauthenticated register frames.
	RequireAuthentication bool `yaml:"require_authentication"`
}

// IPFilterConfig selects the IPFilter mode.
type IPFilterConfig struct {
	// EnableWhitelist switches IPFilter from blacklist (default) to whitelist mode.
	EnableWhitelist bool `yaml:"enable_ip_whitelist"`
}

// LimitsConfig defines hard resource caps and timeouts.
type LimitsConfig struct {
	MaxChannels       int           `yaml:"max_channels"`
	MaxUsers          int           `yaml:"max_users"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	MaxMessageSize    int           `yaml:"max_message_size"`
}

// RatesConfig configures the RateLimiter's per-kind budgets.
type RatesConfig struct {
	MessageRate     int `yaml:"message_rate"`      // messages per 10s window
	ImageChunkRate  int `yaml:"image_chunk_rate"`   // chunks per 10s window
	ConnectionRate  int `yaml:"connection_rate"`    // connections per minute per IP
	BanThreshold    int `yaml:"ban_threshold"`      // denials before a temp IP ban
}

// CryptoConfig holds key rotation thresholds. Clients decide their own
// rotation; the server loads these values but sends them in no frame.
type CryptoConfig struct {
	KeyRotationIntervalSeconds int `yaml:"key_rotation_interval_seconds"`
	MaxMessagesPerKey          int `yaml:"max_messages_per_key"`
}

// DataConfig locates the server's durable state files.
type DataConfig struct {
	DataDir          string `yaml:"data_dir"`
	ChannelsFile     string `yaml:"channels_file"`
	AccountsFile     string `yaml:"accounts_file"`
	IPRulesFile      string `yaml:"ip_rules_file"`
}

// Default returns a Config with JustIRC's documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      6667,
			LogLevel:  "info",
			LogFormat: "text",
		},
		Auth: AuthConfig{
			EnableAuthentication:  false,
			RequireAuthentication: false,
		},
		Limits: LimitsConfig{
			MaxChannels:       1000,
			MaxUsers:          10000,
			ConnectionTimeout: 300 * time.Second,
			ReadTimeout:       60 * time.Second,
			MaxMessageSize:    65536,
		},
		Rates: RatesConfig{
			MessageRate:    30,
			ImageChunkRate: 100,
			ConnectionRate: 5,
			BanThreshold:   10,
		},
		Crypto: CryptoConfig{
			KeyRotationIntervalSeconds: 3600,
			MaxMessagesPerKey:          10000,
		},
		Data: DataConfig{
			DataDir:      "./data",
			ChannelsFile: "channels.json",
			AccountsFile: "accounts.json",
			IPRulesFile:  "ip_rules.json",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding environment
// variable references and validating the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !isValidLogLevel(c.Server.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Server.LogLevel))
	}
	if !isValidLogFormat(c.Server.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Server.LogFormat))
	}
	if c.Auth.RequireAuthentication && !c.Auth.EnableAuthentication {
		errs = append(errs, "auth.require_authentication requires auth.enable_authentication")
	}
	if c.Limits.MaxChannels < 1 {
		errs = append(errs, "limits.max_channels must be positive")
	}
	if c.Limits.MaxUsers < 1 {
		errs = append(errs, "limits.max_users must be positive")
	}
	if c.Limits.MaxMessageSize < 1024 {
		errs = append(errs, "limits.max_message_size must be at least 1024")
	}
	if c.Rates.MessageRate < 1 {
		errs = append(errs, "rates.message_rate must be positive")
	}
	if c.Rates.ImageChunkRate < 1 {
		errs = append(errs, "rates.image_chunk_rate must be positive")
	}
	if c.Rates.ConnectionRate < 1 {
		errs = append(errs, "rates.connection_rate must be positive")
	}
	if c.Data.DataDir == "" {
		errs = append(errs, "data.data_dir is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ChannelsPath returns the channel registry's full path under DataDir.
func (d DataConfig) ChannelsPath() string {
	return filepath.Join(d.DataDir, d.ChannelsFile)
}

// AccountsPath returns the account store's full path under DataDir.
func (d DataConfig) AccountsPath() string {
	return filepath.Join(d.DataDir, d.AccountsFile)
}

// IPRulesPath returns the IP filter's full path under DataDir.
func (d DataConfig) IPRulesPath() string {
	return filepath.Join(d.DataDir, d.IPRulesFile)
}

// String returns a YAML representation of the config, safe to log (the
// current config carries no secrets directly, unlike the accounts and
// channel stores it points at).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
