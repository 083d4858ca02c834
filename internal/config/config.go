// Package config manages application configuration from config.yaml,
// ARCHIVER_* environment variables, and default values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/osintarchive/archiver/internal/util"
)

// TaskConfig controls one scheduled maintenance task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// StorageConfig holds the S3-compatible object storage settings for
// content-addressed media storage.
type StorageConfig struct {
	Endpoint         string        `mapstructure:"endpoint"   validate:"required"`
	AccessKey        string        `mapstructure:"access_key" validate:"required"`
	SecretKey        string        `mapstructure:"secret_key" validate:"required"`
	Bucket           string        `mapstructure:"bucket"     validate:"required"`
	UseSSL           bool          `mapstructure:"use_ssl"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"min=1s,max=10m"`
}

// TelegramConfig holds the channel source settings.
type TelegramConfig struct {
	Token    string   `mapstructure:"token"    validate:"required"`
	Channels []string `mapstructure:"channels" validate:"min=1,dive,required"`
}

// IngestConfig holds ingestion pipeline settings. MaxMediaSize accepts
// human-readable values such as "50MB".
type IngestConfig struct {
	MediaTimeout        time.Duration `mapstructure:"media_timeout" validate:"min=1s,max=30m"`
	MaxMediaSize        string        `mapstructure:"max_media_size"`
	EnrichmentQueueSize int           `mapstructure:"enrichment_queue_size" validate:"min=0,max=100000"`

	maxMediaBytes int64
}

// MaxMediaBytes returns the parsed media size limit in bytes.
// Zero means no limit.
func (c IngestConfig) MaxMediaBytes() int64 { return c.maxMediaBytes }

// ImportConfig holds historical backfill settings. Window accepts
// human-readable intervals such as "30d"; empty means unbounded.
type ImportConfig struct {
	Limit  int    `mapstructure:"limit" validate:"min=0"`
	Window string `mapstructure:"window"`

	window time.Duration
}

// WindowDuration returns the parsed import window. Zero means unbounded.
func (c ImportConfig) WindowDuration() time.Duration { return c.window }

// SchedulerConfig holds the scheduled task table keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// Config defines the application configuration. Values can be set via
// environment variables prefixed with ARCHIVER_ (e.g. ARCHIVER_TELEGRAM_TOKEN)
// or through config.yaml.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Import    ImportConfig    `mapstructure:"import"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. The config file at configPath
// 3. ARCHIVER_* environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay, we'll use defaults and env vars
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Ingest.MaxMediaSize != "" {
		size, err := util.ParseSize(cfg.Ingest.MaxMediaSize)
		if err != nil {
			return nil, fmt.Errorf("invalid ingest.max_media_size: %w", err)
		}
		cfg.Ingest.maxMediaBytes = size
	}

	if cfg.Import.Window != "" {
		window, err := util.ParseInterval(cfg.Import.Window)
		if err != nil {
			return nil, fmt.Errorf("invalid import.window: %w", err)
		}
		cfg.Import.window = window
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)

	v.SetDefault("database.path", "archive.db")

	v.SetDefault("storage.bucket", "archive-media")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.operation_timeout", 30*time.Second)

	v.SetDefault("ingest.media_timeout", 2*time.Minute)
	v.SetDefault("ingest.max_media_size", "50MB")
	v.SetDefault("ingest.enrichment_queue_size", 256)

	v.SetDefault("import.limit", 0)

	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")
	v.SetDefault("scheduler.tasks.stats_reconcile.enabled", false)
	v.SetDefault("scheduler.tasks.stats_reconcile.schedule", "0 30 4 * * *")
}
