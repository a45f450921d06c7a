// Package config loads the sol configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/listing"
	"github.com/colthorp/sol-cli-go/internal/settings"
)

// Config is the file format of ~/.sol/config.yaml.
type Config struct {
	CacheRoot string            `yaml:"cache_root"`
	Log       Log               `yaml:"log"`
	HTTP      HTTP              `yaml:"http"`
	Sources   Sources           `yaml:"sources"`
	Listing   Listing           `yaml:"listing"`
	Prefetch  Prefetch          `yaml:"prefetch"`
	Server    Server            `yaml:"server"`
	Selection catalog.Selection `yaml:"selection"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type HTTP struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `yaml:"burst"`
	Retries   int           `yaml:"retries"`
	Backoff   time.Duration `yaml:"backoff"`
}

type Sources struct {
	Images     string `yaml:"images"`
	APForecast string `yaml:"ap_forecast"`
	GeoAlert   string `yaml:"geo_alert"`
}

type Listing struct {
	Parser  string        `yaml:"parser"` // pattern or html
	Refresh time.Duration `yaml:"refresh"`
}

type Prefetch struct {
	Parallel int `yaml:"parallel"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheRoot: core.CacheRoot(),
		Log:       Log{Level: "warn", Format: "console"},
		HTTP: HTTP{
			Timeout:   60 * time.Second,
			UserAgent: "sol-cli/" + core.Version,
			Burst:     1,
			Retries:   2,
			Backoff:   time.Second,
		},
		Sources: Sources{
			Images:     core.ImageBaseURL,
			APForecast: core.APForecastURL,
			GeoAlert:   core.GeoAlertURL,
		},
		Listing:   Listing{Parser: listing.ScraperPattern, Refresh: core.ListingRefreshInterval},
		Prefetch:  Prefetch{Parallel: catalog.DefaultParallel},
		Server:    Server{Addr: ":8080"},
		Selection: settings.Default,
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if root := os.Getenv(core.CacheRootEnvVar); root != "" {
		cfg.CacheRoot = root
	}
	if level := os.Getenv(core.LogLevelEnvVar); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field, reporting all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheRoot == "" {
		errs = append(errs, errors.New("cache_root must be set"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be positive"))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must not be negative"))
	}
	if c.HTTP.Retries < 0 {
		errs = append(errs, errors.New("http.retries must not be negative"))
	}
	for name, raw := range map[string]string{
		"sources.images":      c.Sources.Images,
		"sources.ap_forecast": c.Sources.APForecast,
		"sources.geo_alert":   c.Sources.GeoAlert,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	if c.Listing.Parser != listing.ScraperPattern && c.Listing.Parser != listing.ScraperHTML {
		errs = append(errs, fmt.Errorf("listing.parser must be %s or %s, got %q", listing.ScraperPattern, listing.ScraperHTML, c.Listing.Parser))
	}
	if c.Listing.Refresh <= 0 {
		errs = append(errs, errors.New("listing.refresh must be positive"))
	}
	if c.Prefetch.Parallel < 1 {
		errs = append(errs, errors.New("prefetch.parallel must be at least 1"))
	}
	if err := c.Selection.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ImageRoot is where listings and day stores live.
func (c *Config) ImageRoot() string {
	return filepath.Join(c.CacheRoot, core.ImageComponent)
}

// ReportRoot is where the SWPC reports are persisted.
func (c *Config) ReportRoot() string {
	return filepath.Join(c.CacheRoot, core.ReportComponent, core.ReportsDir)
}
