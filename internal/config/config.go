package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	Driver                string        `mapstructure:"driver"`
	DSN                   string        `mapstructure:"dsn"`
	MaxReadingsPerPatient int           `mapstructure:"max_readings_per_patient"`
	RotateInterval        time.Duration `mapstructure:"rotate_interval"`
}

// RedisConfig holds snapshot cache configuration
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
	HistorySize int           `mapstructure:"history_size"`
}

// MQTTConfig holds device bridge subscription configuration
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken   string        `mapstructure:"bot_token"`
	ChatID     string        `mapstructure:"chat_id"`
	Enabled    bool          `mapstructure:"enabled"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// MonitorConfig holds rhythm evaluation configuration
type MonitorConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
	// RetryAfter spaces out resends of alerts whose notification failed.
	RetryAfter time.Duration `mapstructure:"retry_after"`
}

// ExtractConfig holds extraction window configuration
type ExtractConfig struct {
	Window          time.Duration `mapstructure:"window"`
	SleepSessionGap time.Duration `mapstructure:"sleep_session_gap"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// GUARDIAN_REDIS_ADDR overrides redis.addr
	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/guardian.db")
	v.SetDefault("storage.max_readings_per_patient", 10000)
	v.SetDefault("storage.rotate_interval", "1h")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", "30s")
	v.SetDefault("redis.history_size", 100)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "guardian")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "guardian/+/samples")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay", "1s")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "3s")
	v.SetDefault("monitor.cooldown", "10m")
	v.SetDefault("monitor.retry_after", "30s")

	v.SetDefault("extract.window", "24h")
	v.SetDefault("extract.sleep_session_gap", "1h")
	v.SetDefault("extract.stale_after", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.read_timeout and server.write_timeout must be positive")
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, postgres")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required")
	}
	if c.Storage.MaxReadingsPerPatient < 100 {
		return fmt.Errorf("storage.max_readings_per_patient must be at least 100")
	}
	if c.Storage.RotateInterval < time.Minute {
		return fmt.Errorf("storage.rotate_interval must be at least 1 minute")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when redis is enabled")
		}
		if c.Redis.SnapshotTTL < time.Second {
			return fmt.Errorf("redis.snapshot_ttl must be at least 1 second")
		}
		if c.Redis.HistorySize < 1 {
			return fmt.Errorf("redis.history_size must be at least 1")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if !strings.Contains(c.MQTT.Topic, "+") {
			return fmt.Errorf("mqtt.topic must contain a + wildcard for the patient ID")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Monitor.Interval < time.Second {
		return fmt.Errorf("monitor.interval must be at least 1 second")
	}
	if c.Monitor.Cooldown < 0 {
		return fmt.Errorf("monitor.cooldown must not be negative")
	}
	if c.Monitor.RetryAfter < 0 {
		return fmt.Errorf("monitor.retry_after must not be negative")
	}

	if c.Extract.Window < time.Hour {
		return fmt.Errorf("extract.window must be at least 1 hour")
	}
	if c.Extract.SleepSessionGap <= 0 {
		return fmt.Errorf("extract.sleep_session_gap must be positive")
	}
	if c.Extract.StaleAfter <= 0 {
		return fmt.Errorf("extract.stale_after must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text, console")
	}

	return nil
}
