package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all promptfolio configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	DBPath       string `mapstructure:"db_path"`
	RunStore     string `mapstructure:"run_store"`
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisPrefix  string `mapstructure:"redis_prefix"`
	LogLevel     string `mapstructure:"log_level"`
	LogFormat    string `mapstructure:"log_format"`
	PoolSize     int    `mapstructure:"pool_size"`
	Branches     string `mapstructure:"branches"`
	Conditions   string `mapstructure:"conditions"`
	Cycles       string `mapstructure:"cycles"`
	Templates    string `mapstructure:"templates"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// Retry and breaker settings for collaborator-backed steps. Zero
	// attempts or threshold leaves the decorator off.
	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts"`
	RetryBackoff       string        `mapstructure:"retry_backoff"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	BreakerThreshold   int           `mapstructure:"breaker_threshold"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
	BreakerHalfOpenMax int           `mapstructure:"breaker_half_open_max"`
}

const (
	runStoreLibSQL = "libsql"
	runStoreRedis  = "redis"
	runStoreMemory = "memory"
)

func promptfolioDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptfolio"
	}
	return filepath.Join(home, ".promptfolio")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "file:"+filepath.Join(promptfolioDir(), "promptfolio.db"))
	v.SetDefault("run_store", runStoreLibSQL)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "promptfolio")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("pool_size", 10)
	v.SetDefault("branches", "sequential")
	v.SetDefault("conditions", "non_gating")
	v.SetDefault("cycles", "reject")
	v.SetDefault("templates", "lenient")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("retry_max_attempts", 0)
	v.SetDefault("retry_backoff", "constant")
	v.SetDefault("retry_delay", "500ms")
	v.SetDefault("retry_max_delay", "10s")
	v.SetDefault("breaker_threshold", 0)
	v.SetDefault("breaker_cooldown", "30s")
	v.SetDefault("breaker_half_open_max", 1)
}

// loadConfig layers defaults, the settings file and PROMPTFOLIO_* env vars.
// An explicit configFile must exist; the default settings file may not.
func loadConfig(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("settings")
		v.AddConfigPath(promptfolioDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("PROMPTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.RunStore = strings.ToLower(strings.TrimSpace(cfg.RunStore))
	return cfg, nil
}
