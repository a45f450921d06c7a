package cli

import (
	"fmt"
	"net/url"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/config"
	"github.com/colthorp/sol-cli-go/internal/fetch"
	"github.com/colthorp/sol-cli-go/internal/listing"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/metrics"
	"github.com/colthorp/sol-cli-go/internal/report"
)

// app holds the services every command works with.
type app struct {
	cfg      *config.Config
	registry *metrics.Registry
	client   *fetch.Client
	listings *listing.Cache
	images   *catalog.Manager
	reports  *report.Cache
}

// loadApp reads the config named by the global flags, starts logging and
// builds the services.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cacheRoot != "" {
		cfg.CacheRoot = cacheRoot
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := logging.InitLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return newApp(cfg, nil)
}

// newApp wires the services for cfg. opts are appended to the fetch
// client options (tests pass a transport).
func newApp(cfg *config.Config, opts []fetch.Option) (*app, error) {
	registry := metrics.NewRegistry()

	clientOpts := []fetch.Option{
		fetch.WithTimeout(cfg.HTTP.Timeout),
		fetch.WithUserAgent(cfg.HTTP.UserAgent),
		fetch.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.Burst),
		fetch.WithRetries(cfg.HTTP.Retries, cfg.HTTP.Backoff),
		fetch.WithObserver(registry.Metrics),
	}
	client := fetch.NewClient(append(clientOpts, opts...)...)

	base, err := url.Parse(cfg.Sources.Images)
	if err != nil {
		return nil, fmt.Errorf("invalid image source: %w", err)
	}
	scraper, err := listing.NewScraper(cfg.Listing.Parser, client)
	if err != nil {
		return nil, err
	}
	listings := listing.NewCache(cfg.ImageRoot(), base, scraper, listing.WithRefreshInterval(cfg.Listing.Refresh))

	images := catalog.NewManager(cfg.ImageRoot(), listings, client,
		catalog.WithParallel(cfg.Prefetch.Parallel),
		catalog.WithObserver(registry.Metrics),
	)
	reports := report.NewCache(cfg.ReportRoot(), client,
		report.WithURL(report.ForecastKind, cfg.Sources.APForecast),
		report.WithURL(report.AlertKind, cfg.Sources.GeoAlert),
		report.WithObserver(registry.Metrics),
	)

	return &app{
		cfg:      cfg,
		registry: registry,
		client:   client,
		listings: listings,
		images:   images,
		reports:  reports,
	}, nil
}
