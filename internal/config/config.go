// Package config loads the limpopo configuration: a YAML file overlaid with
// LIMPOPO_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"time"

	"github.com/aretw0/limpopo/internal/logging"
	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/aretw0/limpopo/pkg/retry"
	"github.com/aretw0/limpopo/pkg/session"
	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIMPOPO_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the root configuration of the limpopo binary.
type Config struct {
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	Storage Storage `yaml:"storage" envPrefix:"STORAGE_"`
	Retry   Retry   `yaml:"retry" envPrefix:"RETRY_"`

	Telegram Telegram `yaml:"telegram" envPrefix:"TELEGRAM_"`
	HTTP     HTTP     `yaml:"http" envPrefix:"HTTP_"`
	Console  Console  `yaml:"console" envPrefix:"CONSOLE_"`
}

// Storage selects a driver. Options are decoded into the driver's options struct.
type Storage struct {
	Driver  string         `yaml:"driver" env:"DRIVER"`
	Options map[string]any `yaml:"options"`
	// EnvOptions is LIMPOPO_STORAGE_OPTIONS, e.g. "addr=localhost:6379,db=1".
	// Its entries override Options.
	EnvOptions map[string]string `yaml:"-" env:"OPTIONS" envKeyValSeparator:"="`

	// EncryptionKey is a base64 AES-256 key. When set, answers are stored encrypted.
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
	// FallbackKeys are retired base64 keys still accepted for decryption.
	FallbackKeys []string `yaml:"fallback_keys" env:"FALLBACK_KEYS"`
	// Redact lists regular expressions of respondent extra data keys masked before storage.
	Redact []string `yaml:"redact" env:"REDACT"`
}

// Retry bounds the retries of every storage call.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	MinDelay    time.Duration `yaml:"min_delay" env:"MIN_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`

	// HaltOnExhausted stops the running transport once a storage call gives up.
	HaltOnExhausted bool `yaml:"halt_on_exhausted" env:"HALT_ON_EXHAUSTED"`
}

// Policy converts the section to a retry policy.
func (r Retry) Policy() retry.Policy {
	p := retry.Default()
	p.MaxAttempts = r.MaxAttempts
	p.MinDelay = r.MinDelay
	p.MaxDelay = r.MaxDelay
	return p
}

// Telegram configures the Telegram bot transport.
type Telegram struct {
	session.Settings `yaml:",inline"`
	Token            string `yaml:"token" env:"TOKEN"`
}

// HTTP configures the web transport.
type HTTP struct {
	session.Settings `yaml:",inline"`
	Addr             string `yaml:"addr" env:"ADDR"`
	OutboxSize       int    `yaml:"outbox_size" env:"OUTBOX_SIZE"`
}

// Console configures the terminal transport.
type Console struct {
	session.Settings `yaml:",inline"`
	RespondentID     string `yaml:"respondent_id" env:"RESPONDENT_ID"`
	NoColor          bool   `yaml:"no_color" env:"NO_COLOR"`
	// Markdown renders messages as styled markdown instead of plain text.
	Markdown bool `yaml:"markdown" env:"MARKDOWN"`
}

// Default returns the configuration used when no file or environment is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Storage:   Storage{Driver: DriverMemory},
		Retry: Retry{
			MaxAttempts: 5,
			MinDelay:    time.Second,
			MaxDelay:    time.Minute,

			HaltOnExhausted: true,
		},
		Telegram: Telegram{Settings: session.DefaultSettings()},
		HTTP: HTTP{
			Settings:   session.DefaultSettings(),
			Addr:       ":8080",
			OutboxSize: 100,
		},
		Console: Console{
			Settings:     session.DefaultSettings(),
			RespondentID: "local",
		},
	}
}

// Load reads path (optional) over the defaults, then applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverRedis, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry max_attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.MinDelay < 0 || c.Retry.MaxDelay < c.Retry.MinDelay {
		errs = append(errs, fmt.Errorf("retry delays must satisfy 0 <= min_delay <= max_delay, got %s and %s", c.Retry.MinDelay, c.Retry.MaxDelay))
	}

	for name, settings := range map[string]session.Settings{
		"telegram": c.Telegram.Settings,
		"http":     c.HTTP.Settings,
		"console":  c.Console.Settings,
	} {
		if err := settings.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSettings, err)
	}
	return nil
}

// RedisOptions are the options of the redis driver.
type RedisOptions struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Lock     bool          `mapstructure:"lock"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// PostgresOptions are the options of the postgres driver.
type PostgresOptions struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// SQLiteOptions are the options of the sqlite driver.
type SQLiteOptions struct {
	Path string `mapstructure:"path"`
}

// RedisOptions decodes the storage options for the redis driver.
func (s Storage) RedisOptions() (RedisOptions, error) {
	opts := RedisOptions{Addr: "localhost:6379", Prefix: "limpopo:", LockTTL: 30 * time.Second}
	return opts, s.decode(&opts)
}

// PostgresOptions decodes the storage options for the postgres driver.
func (s Storage) PostgresOptions() (PostgresOptions, error) {
	opts := PostgresOptions{MaxConns: 10, Migrate: true}
	if err := s.decode(&opts); err != nil {
		return opts, err
	}
	if opts.DSN == "" {
		return opts, fmt.Errorf("%w: postgres dsn is required", domain.ErrInvalidSettings)
	}
	return opts, nil
}

// SQLiteOptions decodes the storage options for the sqlite driver.
func (s Storage) SQLiteOptions() (SQLiteOptions, error) {
	opts := SQLiteOptions{Path: "limpopo.db"}
	return opts, s.decode(&opts)
}

func (s Storage) decode(out any) error {
	merged := make(map[string]any, len(s.Options)+len(s.EnvOptions))
	maps.Copy(merged, s.Options)
	for k, v := range s.EnvOptions {
		merged[k] = v
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(merged); err != nil {
		return fmt.Errorf("%w: storage options for %s: %w", domain.ErrInvalidSettings, s.Driver, err)
	}
	return nil
}
