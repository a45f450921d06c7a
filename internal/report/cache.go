package report

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/fetch"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/store"
)

// Observer receives report cache events (see internal/metrics).
type Observer interface {
	// ReportServed reports where a document came from: "remote" or "cached".
	ReportServed(kind string, source string)
}

// Cache serves the SWPC reports, persisting each as JSON and revalidating
// it against the remote ETag on every request.
type Cache struct {
	fetcher  fetch.Fetcher
	files    store.Store
	urls     map[Kind]string
	observer Observer
	log      *zap.Logger
	flights  singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithURL overrides the remote location of kind.
func WithURL(kind Kind, url string) CacheOption {
	return func(c *Cache) {
		if url != "" {
			c.urls[kind] = url
		}
	}
}

// WithStore replaces the FilesystemStore (for tests).
func WithStore(s store.Store) CacheOption {
	return func(c *Cache) { c.files = s }
}

// WithObserver reports cache events to o.
func WithObserver(o Observer) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// NewCache creates a report cache persisting under root.
func NewCache(root string, f fetch.Fetcher, opts ...CacheOption) *Cache {
	c := &Cache{
		fetcher: f,
		files:   store.NewFilesystemStore(root),
		urls: map[Kind]string{
			ForecastKind: core.APForecastURL,
			AlertKind:    core.GeoAlertURL,
		},
		log: logging.Named("report"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the remote location of kind.
func (c *Cache) URL(kind Kind) string {
	return c.urls[kind]
}

// Forecast returns the current 45-day forecast.
func (c *Cache) Forecast(ctx context.Context) (*Forecast, error) {
	return get(ctx, c, ForecastKind, ParseForecast)
}

// Alert returns the current geophysical alert.
func (c *Cache) Alert(ctx context.Context) (*Alert, error) {
	return get(ctx, c, AlertKind, ParseAlert)
}

// Get returns the current document of kind.
func (c *Cache) Get(ctx context.Context, kind Kind) (Document, error) {
	switch kind {
	case ForecastKind:
		return c.Forecast(ctx)
	case AlertKind:
		return c.Alert(ctx)
	}
	return nil, fmt.Errorf("unknown report kind %s", kind)
}

// get runs one revalidation of kind. Concurrent calls for the same kind
// share it.
func get[T Document](ctx context.Context, c *Cache, kind Kind, parse func([]byte, string) (T, error)) (T, error) {
	var zero T
	shared := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(kind.String(), func() (any, error) {
		return revalidate(shared, c, kind, parse)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func revalidate[T Document](ctx context.Context, c *Cache, kind Kind, parse func([]byte, string) (T, error)) (T, error) {
	var zero T
	log := c.log.With(zap.Stringer("kind", kind))
	name := kind.FileName()

	var cached T
	if err := store.ReadJSON(c.files, name, &cached); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("unable to read persisted report", zap.String("file", name), zap.Error(err))
		}
		cached = zero
	}
	prior := cached.Tag()

	res, err := c.fetcher.FetchIfNonMatching(ctx, c.urls[kind], prior)
	if err != nil {
		return zero, fmt.Errorf("failed to fetch %s report: %w", kind, err)
	}

	switch r := res.(type) {
	case fetch.NotModified:
		if prior == "" {
			return zero, fmt.Errorf("%s: %w", kind, ErrInconsistent)
		}
		log.Info("report unchanged", zap.Time("issued", cached.IssuedAt()))
		c.served(kind, "cached")
		return cached, nil
	case fetch.Fresh:
		etag := r.ETag
		if etag == "" {
			etag = UnknownETag
		}
		doc, err := parse(r.Body, etag)
		if err != nil {
			return zero, fmt.Errorf("failed to parse %s report: %w", kind, err)
		}
		log.Info("report downloaded", zap.Time("issued", doc.IssuedAt()))
		if err := store.WriteJSON(c.files, name, doc); err != nil {
			log.Error("unable to persist report", zap.String("file", name), zap.Error(err))
		}
		c.served(kind, "remote")
		return doc, nil
	}
	return zero, fmt.Errorf("unexpected fetch result %T", res)
}

func (c *Cache) served(kind Kind, source string) {
	if c.observer != nil {
		c.observer.ReportServed(kind.String(), source)
	}
}
