// Package config loads server settings from the environment (optionally
// seeded from a .env file) and engine policy from an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/volatility"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the server configuration.
type Config struct {
	Port               string
	DatabaseURL        string
	RedisURL           string
	PricePrimaryURL    string
	PriceSecondaryURL  string
	PriceLookupTimeout time.Duration
	LogLevel           string
	Policy             Policy
}

// Policy holds the engine's tunable constants.
type Policy struct {
	SqueethVolMultiplier float64 `yaml:"squeeth_vol_multiplier"`
	CrabVolMultiplier    float64 `yaml:"crab_vol_multiplier"`

	CurveRangeMultiplier float64 `yaml:"curve_range_multiplier"`
	CurveStepPercent     float64 `yaml:"curve_step_percent"`

	MinFreshness      time.Duration `yaml:"min_freshness"`
	PriceCacheTTL     time.Duration `yaml:"price_cache_ttl"`
	EventCacheTTL     time.Duration `yaml:"event_cache_ttl"`
	HistoryTolerance  time.Duration `yaml:"history_tolerance"`
	LookupConcurrency int           `yaml:"lookup_concurrency"`
	ProviderRPS       float64       `yaml:"provider_rps"`

	DefaultVol float64                       `yaml:"default_vol"`
	LiveVols   map[string]float64            `yaml:"live_vols"`
	VolSurface map[string][]volatility.Point `yaml:"vol_surface"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Port:               "8080",
		PriceLookupTimeout: 10 * time.Second,
		LogLevel:           "info",
		Policy: Policy{
			SqueethVolMultiplier: 1.2,
			CrabVolMultiplier:    0.7,
			CurveRangeMultiplier: 4,
			CurveStepPercent:     0.1,
			MinFreshness:         time.Hour,
			PriceCacheTTL:        24 * time.Hour,
			EventCacheTTL:        30 * time.Second,
			HistoryTolerance:     time.Hour,
			LookupConcurrency:    8,
			ProviderRPS:          5,
			DefaultVol:           1.0,
		},
	}
}

// Load reads .env (if present), then CONFIG_FILE (if set), then applies
// environment overrides on top of the defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadPolicyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadPolicyFile overlays the YAML policy at path. Keys absent from the
// file keep their current values.
func (c *Config) loadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &c.Policy); err != nil {
		return fmt.Errorf("config: parse policy file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"PORT":                &c.Port,
		"DATABASE_URL":        &c.DatabaseURL,
		"REDIS_URL":           &c.RedisURL,
		"PRICE_PRIMARY_URL":   &c.PricePrimaryURL,
		"PRICE_SECONDARY_URL": &c.PriceSecondaryURL,
		"LOG_LEVEL":           &c.LogLevel,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("PRICE_LOOKUP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			// Plain integers are seconds.
			secs, convErr := strconv.Atoi(v)
			if convErr != nil {
				return fmt.Errorf("%w: PRICE_LOOKUP_TIMEOUT %q: %v", ErrInvalid, v, err)
			}
			d = time.Duration(secs) * time.Second
		}
		c.PriceLookupTimeout = d
	}
	return nil
}

// Validate checks that the configuration can start a server.
func (c Config) Validate() error {
	p := c.Policy
	switch {
	case c.Port == "":
		return fmt.Errorf("%w: empty port", ErrInvalid)
	case c.PriceLookupTimeout <= 0:
		return fmt.Errorf("%w: price lookup timeout must be positive", ErrInvalid)
	case p.SqueethVolMultiplier < 0 || p.CrabVolMultiplier < 0:
		return fmt.Errorf("%w: volatility multipliers must be non-negative", ErrInvalid)
	case p.LookupConcurrency <= 0:
		return fmt.Errorf("%w: lookup concurrency must be positive", ErrInvalid)
	case p.ProviderRPS <= 0:
		return fmt.Errorf("%w: provider rate must be positive", ErrInvalid)
	case p.DefaultVol < 0:
		return fmt.Errorf("%w: default volatility must be non-negative", ErrInvalid)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}
	return nil
}

// VolSource builds the volatility source described by the policy.
func (p Policy) VolSource() (volatility.Maps, error) {
	surface, err := volatility.NewSurface(p.DefaultVol, p.VolSurface)
	if err != nil {
		return volatility.Maps{}, err
	}
	return volatility.Maps{Live: volatility.DayMap(p.LiveVols), Historical: surface}, nil
}

// NewLogger builds the production JSON logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
