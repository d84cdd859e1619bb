// Package config loads CLI settings from defaults, a YAML file, DEDUCE_*
// environment variables and command flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/deduce/internal/engine"
)

// EnvPrefix prefixes every environment variable: DEDUCE_DB, DEDUCE_MAX_ROUNDS.
const EnvPrefix = "DEDUCE"

// Config is the resolved CLI configuration.
type Config struct {
	Database        string        `mapstructure:"db"`
	LogLevel        string        `mapstructure:"log_level"`
	MaxRounds       int           `mapstructure:"max_rounds"`
	Parallelism     int           `mapstructure:"parallelism"`
	PlanCacheSize   int           `mapstructure:"plan_cache_size"`
	CompactInterval time.Duration `mapstructure:"compact_interval"`
	Format          string        `mapstructure:"format"`
}

// flagKeys maps command flag names to configuration keys.
var flagKeys = map[string]string{
	"db":               "db",
	"log-level":        "log_level",
	"max-rounds":       "max_rounds",
	"parallelism":      "parallelism",
	"plan-cache-size":  "plan_cache_size",
	"compact-interval": "compact_interval",
	"format":           "format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "deduce.db")
	v.SetDefault("log_level", "warn")
	v.SetDefault("max_rounds", engine.DefaultMaxRounds)
	v.SetDefault("parallelism", 0)
	v.SetDefault("plan_cache_size", engine.DefaultPlanCacheSize)
	v.SetDefault("compact_interval", time.Duration(0))
	v.SetDefault("format", "text")
}

// Load resolves the configuration. path names an optional YAML file;
// flags may be nil. Only flags the user set override the other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("db must not be empty"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Format != "text" && c.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid format %q: must be one of [text json]", c.Format))
	}
	if c.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("max_rounds must not be negative, got %d", c.MaxRounds))
	}
	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism))
	}
	if c.PlanCacheSize < 0 {
		errs = append(errs, fmt.Errorf("plan_cache_size must not be negative, got %d", c.PlanCacheSize))
	}
	if c.CompactInterval < 0 {
		errs = append(errs, fmt.Errorf("compact_interval must not be negative, got %s", c.CompactInterval))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return level, nil
}

// EngineOptions translates the configuration into engine options.
// MaxRounds 0 means unlimited; Parallelism 0 keeps the engine default.
func (c *Config) EngineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithMaxRounds(c.MaxRounds),
		engine.WithPlanCacheSize(c.PlanCacheSize),
	}
	if c.Parallelism > 0 {
		opts = append(opts, engine.WithParallelism(c.Parallelism))
	}
	if c.CompactInterval > 0 {
		opts = append(opts, engine.WithCompactInterval(c.CompactInterval))
	}
	return opts
}
