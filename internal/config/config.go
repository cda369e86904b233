package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Render  RenderConfig  `yaml:"render" mapstructure:"render"`
	Harvest HarvestConfig `yaml:"harvest" mapstructure:"harvest"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the resolution cache backend.
type StoreConfig struct {
	// Driver selects the backend: "sqlite" (default), "postgres", or "off".
	Driver        string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string `yaml:"database_url" mapstructure:"database_url"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// FetchConfig configures the static page fetcher and all outbound HTTP.
type FetchConfig struct {
	// UserAgent is sent on every outbound request: sheet download, static
	// page fetch, and browser navigation.
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
}

// RenderConfig configures the headless-browser fallback tier.
type RenderConfig struct {
	Enabled             bool `yaml:"enabled" mapstructure:"enabled"`
	Headless            bool `yaml:"headless" mapstructure:"headless"`
	TimeoutSecs         int  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	IdleWaitMillis      int  `yaml:"idle_wait_ms" mapstructure:"idle_wait_ms"`
	BreakerThreshold    int  `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int  `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// HarvestConfig configures batch processing.
type HarvestConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "outreach.db")
	v.SetDefault("store.cache_ttl_hours", 168)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("fetch.timeout_secs", 15)
	v.SetDefault("fetch.max_body_bytes", int64(2*1024*1024))
	v.SetDefault("fetch.rate_per_sec", 2.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.headless", true)
	v.SetDefault("render.timeout_secs", 30)
	v.SetDefault("render.idle_wait_ms", 3000)
	v.SetDefault("render.breaker_threshold", 3)
	v.SetDefault("render.breaker_cooldown_secs", 120)
	v.SetDefault("harvest.concurrency", 1)
	v.SetDefault("server.port", 8787)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

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
