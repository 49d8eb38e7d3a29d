// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for session manager data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".wa-session-manager")
}

// Config holds all configuration for the session manager.
type Config struct {
	// Paths
	DataDir   string `mapstructure:"data_dir"`
	StorePath string `mapstructure:"store_path"`
	TokensDir string `mapstructure:"tokens_dir"`

	// Session lifecycle
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	CloseTimeout      time.Duration `mapstructure:"close_timeout"`
	CleanupGrace      time.Duration `mapstructure:"cleanup_grace"`
	RestartQuiescence time.Duration `mapstructure:"restart_quiescence"`
	EventBufferSize   int           `mapstructure:"event_buffer_size"`

	// Reconnection
	ReconnectBaseDelay  time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `mapstructure:"reconnect_max_delay"`
	ReconnectMultiplier float64       `mapstructure:"reconnect_multiplier"`
	ReconnectMaxRetries int           `mapstructure:"reconnect_max_retries"`

	// Health & housekeeping
	WatchdogInterval    time.Duration `mapstructure:"watchdog_interval"`
	QRTTL               time.Duration `mapstructure:"qr_ttl"`
	QRSweepSchedule     string        `mapstructure:"qr_sweep_schedule"`
	TransitionRetention time.Duration `mapstructure:"transition_retention"`

	// Dispatch
	SendRateLimit   float64 `mapstructure:"send_rate_limit"`
	SendBurst       int     `mapstructure:"send_burst"`
	ShutdownWorkers int     `mapstructure:"shutdown_workers"`

	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Metrics
	MetricsEnabled bool `mapstructure:"metrics_enabled"`
	MetricsPort    int  `mapstructure:"metrics_port"`

	// MCP
	MCPEnabled bool `mapstructure:"mcp_enabled"`
	QRTerminal bool `mapstructure:"qr_terminal"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:             dataDir,
		StorePath:           filepath.Join(dataDir, "sessions.db"),
		TokensDir:           filepath.Join(dataDir, "tokens"),
		ConnectTimeout:      30 * time.Second,
		CloseTimeout:        10 * time.Second,
		CleanupGrace:        2 * time.Second,
		RestartQuiescence:   2 * time.Second,
		EventBufferSize:     100,
		ReconnectBaseDelay:  30 * time.Second,
		ReconnectMaxDelay:   2 * time.Minute,
		ReconnectMultiplier: 4,
		ReconnectMaxRetries: 2,
		WatchdogInterval:    30 * time.Second,
		QRTTL:               5 * time.Minute,
		QRSweepSchedule:     "@every 1m",
		TransitionRetention: 30 * 24 * time.Hour,
		SendRateLimit:       5,
		SendBurst:           10,
		ShutdownWorkers:     8,
		LogLevel:            "info",
		LogFormat:           "json",
		LogMaxSizeMB:        64,
		LogMaxBackups:       7,
		MetricsEnabled:      true,
		MetricsPort:         9090,
		MCPEnabled:          true,
		QRTerminal:          false,
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("store_path", defaults.StorePath)
	v.SetDefault("tokens_dir", defaults.TokensDir)
	v.SetDefault("connect_timeout", defaults.ConnectTimeout)
	v.SetDefault("close_timeout", defaults.CloseTimeout)
	v.SetDefault("cleanup_grace", defaults.CleanupGrace)
	v.SetDefault("restart_quiescence", defaults.RestartQuiescence)
	v.SetDefault("event_buffer_size", defaults.EventBufferSize)
	v.SetDefault("reconnect_base_delay", defaults.ReconnectBaseDelay)
	v.SetDefault("reconnect_max_delay", defaults.ReconnectMaxDelay)
	v.SetDefault("reconnect_multiplier", defaults.ReconnectMultiplier)
	v.SetDefault("reconnect_max_retries", defaults.ReconnectMaxRetries)
	v.SetDefault("watchdog_interval", defaults.WatchdogInterval)
	v.SetDefault("qr_ttl", defaults.QRTTL)
	v.SetDefault("qr_sweep_schedule", defaults.QRSweepSchedule)
	v.SetDefault("transition_retention", defaults.TransitionRetention)
	v.SetDefault("send_rate_limit", defaults.SendRateLimit)
	v.SetDefault("send_burst", defaults.SendBurst)
	v.SetDefault("shutdown_workers", defaults.ShutdownWorkers)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("log_file", defaults.LogFile)
	v.SetDefault("log_max_size_mb", defaults.LogMaxSizeMB)
	v.SetDefault("log_max_backups", defaults.LogMaxBackups)
	v.SetDefault("metrics_enabled", defaults.MetricsEnabled)
	v.SetDefault("metrics_port", defaults.MetricsPort)
	v.SetDefault("mcp_enabled", defaults.MCPEnabled)
	v.SetDefault("qr_terminal", defaults.QRTerminal)

	// Environment variables with WASESSION_ prefix
	v.SetEnvPrefix("WASESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing default config.yaml is fine; anything else is not.
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if c.StorePath == "" {
		return fmt.Errorf("store path is required")
	}

	if c.TokensDir == "" {
		return fmt.Errorf("tokens dir is required")
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d (must be 0-65535)", c.MetricsPort)
	}

	if c.CloseTimeout <= 0 {
		return fmt.Errorf("close timeout must be positive")
	}

	if c.CleanupGrace < 0 || c.RestartQuiescence < 0 {
		return fmt.Errorf("cleanup grace and restart quiescence must be non-negative")
	}

	if c.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive")
	}

	if c.ReconnectMaxRetries < 0 {
		return fmt.Errorf("reconnect max retries must be non-negative")
	}

	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}

	if c.ReconnectMaxDelay <= 0 {
		return fmt.Errorf("reconnect max delay must be positive")
	}

	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect base delay must be less than or equal to max delay")
	}

	if c.ReconnectMultiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be at least 1")
	}

	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog interval must be positive")
	}

	if _, err := cron.ParseStandard(c.QRSweepSchedule); err != nil {
		return fmt.Errorf("invalid qr sweep schedule %q: %w", c.QRSweepSchedule, err)
	}

	if c.SendRateLimit <= 0 || c.SendBurst <= 0 {
		return fmt.Errorf("send rate limit and burst must be positive")
	}

	if c.ShutdownWorkers <= 0 {
		return fmt.Errorf("shutdown workers must be positive")
	}

	return nil
}
