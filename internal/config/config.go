// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects the settings/catalog persistence provider.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"`
	DSN           string `mapstructure:"dsn"`
	SettingsTable string `mapstructure:"settings_table"`
	MoviesTable   string `mapstructure:"movies_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// QueueConfig selects the run dispatch queue provider.
type QueueConfig struct {
	Provider string `mapstructure:"provider"`
	Depth    int    `mapstructure:"depth"`

	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisStream   string `mapstructure:"redis_stream"`
	RedisGroup    string `mapstructure:"redis_group"`
}

// ArchiveConfig controls the optional raw payload archive.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// TriggerConfig governs the trigger protocol policy knobs.
type TriggerConfig struct {
	// AllowDisabled permits manual triggers for crawlers whose
	// enabled flag is off. Automatic scheduling ignores this.
	AllowDisabled          bool `mapstructure:"allow_disabled"`
	DispatchTimeoutSeconds int  `mapstructure:"dispatch_timeout_seconds"`
}

// EngineConfig governs run execution.
type EngineConfig struct {
	Consumers           int    `mapstructure:"consumers"`
	UserAgent           string `mapstructure:"user_agent"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
}

// SchedulerConfig controls the cron scheduler.
type SchedulerConfig struct {
	Enabled               bool `mapstructure:"enabled"`
	ReloadIntervalSeconds int  `mapstructure:"reload_interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.settings_table", "crawler_settings")
	v.SetDefault("storage.movies_table", "movies")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.redis_stream", "crawler:runs")
	v.SetDefault("queue.redis_group", "engine")
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.prefix", "payloads")
	v.SetDefault("trigger.allow_disabled", false)
	v.SetDefault("trigger.dispatch_timeout_seconds", 5)
	v.SetDefault("engine.consumers", 2)
	v.SetDefault("engine.user_agent", "streamforge-catalog-crawler/1.0")
	v.SetDefault("engine.fetch_timeout_seconds", 15)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reload_interval_seconds", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.Consumers <= 0 {
		return fmt.Errorf("engine.consumers must be > 0")
	}
	if c.Engine.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.fetch_timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when storage.provider is postgres")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	switch c.Queue.Provider {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be > 0")
		}
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicID == "" {
			return fmt.Errorf("queue.project_id and queue.topic_id must be set when queue.provider is pubsub")
		}
	case "redis":
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr must be set when queue.provider is redis")
		}
	default:
		return fmt.Errorf("unknown queue provider: %s", c.Queue.Provider)
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	return nil
}

// DispatchTimeout returns the trigger enqueue deadline.
func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Trigger.DispatchTimeoutSeconds) * time.Second
}

// FetchTimeout returns the per-request source fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Engine.FetchTimeoutSeconds) * time.Second
}

// SchedulerReloadInterval returns the settings reload cadence.
func (c Config) SchedulerReloadInterval() time.Duration {
	return time.Duration(c.Scheduler.ReloadIntervalSeconds) * time.Second
}
