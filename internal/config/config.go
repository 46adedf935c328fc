package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Config holds the client configuration. Precedence, lowest to highest:
// built-in defaults, YAML config file, STUDYCACHE_* environment variables,
// command-line flags.
type Config struct {
	BaseURL   string        `koanf:"base_url" validate:"required,url"`
	CachePath string        `koanf:"cache_path" validate:"required"`
	Timeout   time.Duration `koanf:"timeout"`
	LogLevel  string        `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// Load reads configuration from the optional YAML file at path, the
// environment and the given flag set, validates it, and returns it.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("STUDYCACHE_", ".", func(key, value string) (string, interface{}) {
		return strings.ToLower(strings.TrimPrefix(key, "STUDYCACHE_")), value
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flag config: %w", err)
		}
	}

	cfg := Config{
		CachePath: "studycache.db",
		Timeout:   30 * time.Second,
		LogLevel:  "info",
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SlogLevel maps the configured log level onto a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
