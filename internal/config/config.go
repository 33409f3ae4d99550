// Package config loads pumpsim settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

const (
	DefaultPath              = "pumpsim.yaml"
	DefaultListen            = "127.0.0.1:8080"
	DefaultRateLimit         = 60
	DefaultReferenceCacheTTL = 5 * time.Minute
)

// Config holds every tunable setting. Durations accept Go duration strings
// such as "30s" or "5m".
type Config struct {
	BaseURL             string          `yaml:"base_url"`
	Timeout             time.Duration   `yaml:"timeout"`
	FieldNaming         api.FieldNaming `yaml:"field_naming"`
	FilterNozzlesByPump bool            `yaml:"filter_nozzles_by_pump"`
	ReferenceCacheTTL   time.Duration   `yaml:"reference_cache_ttl"`
	Listen              string          `yaml:"listen"`
	// RateLimit is the number of requests per minute allowed per client IP.
	RateLimit int `yaml:"rate_limit"`
}

// Default returns the settings used when no file is present.
func Default() Config {
	return Config{
		BaseURL:             api.DefaultBaseURL,
		Timeout:             api.DefaultTimeout,
		FieldNaming:         api.NamingPlain,
		FilterNozzlesByPump: true,
		ReferenceCacheTTL:   DefaultReferenceCacheTTL,
		Listen:              DefaultListen,
		RateLimit:           DefaultRateLimit,
	}
}

// Load reads path over the defaults. A missing file is only an error when
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url: unsupported scheme %q", u.Scheme)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if !c.FieldNaming.Valid() {
		return fmt.Errorf("field_naming: unknown naming %q", c.FieldNaming)
	}
	if c.ReferenceCacheTTL < 0 {
		return fmt.Errorf("reference_cache_ttl must not be negative, got %s", c.ReferenceCacheTTL)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive, got %d", c.RateLimit)
	}
	return nil
}
