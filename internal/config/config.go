// Package config loads application configuration from file, environment,
// and defaults, and owns global logger setup.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Load     LoadConfig     `yaml:"load" mapstructure:"load"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the registry backend.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SQLitePath is the registry file when driver is sqlite.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// LoadConfig configures bulk-load batching and retry behavior.
type LoadConfig struct {
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	BatchDelayMS   int    `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
	RetryMax       int    `yaml:"retry_max" mapstructure:"retry_max"`
	RetryBackoffMS int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	Policy         string `yaml:"policy" mapstructure:"policy"`
	CheckpointDir  string `yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"`
}

// BatchDelay returns the inter-batch pacing interval.
func (c LoadConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// RetryBackoff returns the initial retry backoff.
func (c LoadConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// ClassifyConfig configures the keyword classifier.
type ClassifyConfig struct {
	// KeywordsPath points at a YAML keyword table; empty uses the
	// built-in lists.
	KeywordsPath string `yaml:"keywords_path" mapstructure:"keywords_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGISTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "registry.db")
	v.SetDefault("load.batch_size", 500)
	v.SetDefault("load.batch_delay_ms", 1000)
	v.SetDefault("load.retry_max", 3)
	v.SetDefault("load.retry_backoff_ms", 2000)
	v.SetDefault("load.policy", "merge")
	v.SetDefault("load.checkpoint_dir", ".registry")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
