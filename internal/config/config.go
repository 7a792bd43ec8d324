// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GitHubConfig holds webhook and API configuration.
type GitHubConfig struct {
	// WebhookSecret is the shared HMAC secret. Deliveries carrying a
	// signature header are verified against it; deliveries without any
	// signature header are accepted as-is. The permissive default matches
	// GitHub's behavior for hooks configured without a secret.
	WebhookSecret string `mapstructure:"webhook_secret"`
	Token         string `mapstructure:"token"`
}

// RulesConfig holds the alert rule parameters.
type RulesConfig struct {
	FrequencyThreshold int      `mapstructure:"frequency_threshold"`
	FrequencyInterval  int      `mapstructure:"frequency_interval_minutes"`
	SensitivePatterns  []string `mapstructure:"sensitive_patterns"`
	WorkdayStartHour   int      `mapstructure:"workday_start_hour"`
	WorkdayEndHour     int      `mapstructure:"workday_end_hour"`
}

// StreamConfig holds live-update stream configuration.
type StreamConfig struct {
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
}

// TelegramConfig holds the optional Telegram notification sink.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/monitor.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("rules.frequency_threshold", 15)
	v.SetDefault("rules.frequency_interval_minutes", 10)
	v.SetDefault("rules.sensitive_patterns", []string{".env", "id_rsa", "aws_access_key", "password.txt"})
	v.SetDefault("rules.workday_start_hour", 8)
	v.SetDefault("rules.workday_end_hour", 18)
	v.SetDefault("stream.idle_timeout", time.Hour)
	v.SetDefault("stream.subscriber_buffer", 64)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("GHMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration is coherent.
func (c *Config) Validate() error {
	if c.Rules.FrequencyThreshold < 1 {
		return fmt.Errorf("rules.frequency_threshold must be positive")
	}
	if c.Rules.WorkdayStartHour < 0 || c.Rules.WorkdayEndHour > 24 ||
		c.Rules.WorkdayStartHour >= c.Rules.WorkdayEndHour {
		return fmt.Errorf("invalid workday hours: %d-%d", c.Rules.WorkdayStartHour, c.Rules.WorkdayEndHour)
	}
	if c.Stream.IdleTimeout <= 0 {
		return fmt.Errorf("stream.idle_timeout must be positive")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
