// Package config provides configuration management for the alert engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"market-alerts/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Engine        EngineConfig       `mapstructure:"engine"`
	Dispatcher    DispatcherConfig   `mapstructure:"dispatcher"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Store         StoreConfig        `mapstructure:"store"`
	Feed          FeedConfig         `mapstructure:"feed"`
	API           APIConfig          `mapstructure:"api"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// EngineConfig holds snapshot cache and monitoring loop settings.
type EngineConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	HistoryCapacity int           `mapstructure:"history_capacity"`
	StalenessTTL    time.Duration `mapstructure:"staleness_ttl"`
	RulesFile       string        `mapstructure:"rules_file"` // optional YAML rules imported at start
}

// DispatcherConfig holds notification dispatch settings.
type DispatcherConfig struct {
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	MaxInFlight      int           `mapstructure:"max_in_flight"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryInitialWait time.Duration `mapstructure:"retry_initial_wait"`
}

// NotificationConfig holds per-channel notification configuration.
type NotificationConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Discord DiscordConfig `mapstructure:"discord"`
	Desktop DesktopConfig `mapstructure:"desktop"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	SMS     SMSConfig     `mapstructure:"sms"`
}

// EmailConfig holds email notification configuration.
type EmailConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SMTPHost      string `mapstructure:"smtp_host"`
	SMTPPort      int    `mapstructure:"smtp_port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	From          string `mapstructure:"from"`
	To            string `mapstructure:"to"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

// SlackConfig holds Slack incoming webhook configuration.
type SlackConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	WebhookURL    string `mapstructure:"webhook_url"`
	Channel       string `mapstructure:"channel"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	WebhookURL    string `mapstructure:"webhook_url"`
	RatePerMinute int    `mapstructure:"rate_per_minute"`
}

// DesktopConfig holds terminal notification configuration.
type DesktopConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Color         bool `mapstructure:"color"`
	RatePerMinute int  `mapstructure:"rate_per_minute"`
}

// WebhookConfig holds generic webhook notification configuration.
type WebhookConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	RatePerMinute int               `mapstructure:"rate_per_minute"`
}

// SMSConfig holds HTTP SMS gateway configuration.
type SMSConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	GatewayURL    string   `mapstructure:"gateway_url"`
	AccountID     string   `mapstructure:"account_id"`
	Token         string   `mapstructure:"token"`
	From          string   `mapstructure:"from"`
	To            []string `mapstructure:"to"`
	RatePerMinute int      `mapstructure:"rate_per_minute"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, memory
	Path   string `mapstructure:"path"`
}

// FeedConfig holds upstream websocket feed configuration.
type FeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Symbols      []string      `mapstructure:"symbols"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

// APIConfig holds administrative HTTP API configuration.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/market-alerts"
	}
	return filepath.Join(home, ".config", "market-alerts")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A commented
// template is written when config.toml does not exist.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg := &Config{}
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "alerts.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.tick_interval", "1s")
	v.SetDefault("engine.history_capacity", 600)
	v.SetDefault("engine.staleness_ttl", "30s")

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 256)
	v.SetDefault("dispatcher.send_timeout", "10s")
	v.SetDefault("dispatcher.max_in_flight", 4)
	v.SetDefault("dispatcher.breaker_failures", 5)
	v.SetDefault("dispatcher.breaker_cooldown", "1m")
	v.SetDefault("dispatcher.retry_attempts", 2)
	v.SetDefault("dispatcher.retry_initial_wait", "200ms")

	v.SetDefault("notifications.email.smtp_port", 587)
	v.SetDefault("notifications.desktop.enabled", true)
	v.SetDefault("notifications.desktop.color", true)

	v.SetDefault("store.driver", "sqlite")

	v.SetDefault("feed.initial_delay", "1s")
	v.SetDefault("feed.max_delay", "30s")
	v.SetDefault("feed.buffer_size", 1000)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8086")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir, name); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTS_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ALERTS_API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}
	if v := os.Getenv("ALERTS_FEED_URL"); v != "" {
		cfg.Feed.URL = v
		cfg.Feed.Enabled = true
	}
	if v := os.Getenv("ALERTS_SMTP_PASSWORD"); v != "" {
		cfg.Notifications.Email.Password = v
	}
	if v := os.Getenv("ALERTS_SLACK_WEBHOOK"); v != "" {
		cfg.Notifications.Slack.WebhookURL = v
	}
	if v := os.Getenv("ALERTS_DISCORD_WEBHOOK"); v != "" {
		cfg.Notifications.Discord.WebhookURL = v
	}
	if v := os.Getenv("ALERTS_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Webhook.URL = v
	}
	if v := os.Getenv("ALERTS_SMS_TOKEN"); v != "" {
		cfg.Notifications.SMS.Token = v
	}
	if v := os.Getenv("ALERTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALERTS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatcher.Workers = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return invalid("engine.tick_interval must be positive")
	}
	if c.Engine.HistoryCapacity <= 0 {
		return invalid("engine.history_capacity must be positive")
	}
	if c.Engine.StalenessTTL <= 0 {
		return invalid("engine.staleness_ttl must be positive")
	}

	if c.Dispatcher.Workers <= 0 {
		return invalid("dispatcher.workers must be positive")
	}
	if c.Dispatcher.QueueSize <= 0 {
		return invalid("dispatcher.queue_size must be positive")
	}
	if c.Dispatcher.SendTimeout <= 0 {
		return invalid("dispatcher.send_timeout must be positive")
	}
	if c.Dispatcher.MaxInFlight <= 0 {
		return invalid("dispatcher.max_in_flight must be positive")
	}

	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return invalid(fmt.Sprintf("unknown store driver: %s (must be 'sqlite' or 'memory')", c.Store.Driver))
	}

	if c.Feed.Enabled && c.Feed.URL == "" {
		return invalid("feed.url is required when the feed is enabled")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return invalid("api.listen is required when the API is enabled")
	}

	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", errors.ErrConfigInvalid, msg)
}
