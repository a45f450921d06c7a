package listing

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/store"
)

// Cache keeps one listing file per day under its root directory, named
// <yyyyMMdd>_listing.json.
//
// Listings for past days never change once the day is over, so a cached
// copy is always reused. Today's (or a future day's) listing grows as new
// files land and is reused only while younger than the refresh interval.
type Cache struct {
	scraper Scraper
	files   *store.FilesystemStore
	baseURL *url.URL
	refresh time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu    sync.Mutex
	index map[string]string // day key -> listing file key

	scrapes singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithRefreshInterval sets how long today's listing is reused.
func WithRefreshInterval(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.refresh = d
		}
	}
}

// WithClock replaces time.Now (for tests).
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a listing cache rooted at root and rebuilds its index
// from the listing files already on disk.
func NewCache(root string, baseURL *url.URL, scraper Scraper, opts ...CacheOption) *Cache {
	c := &Cache{
		scraper: scraper,
		files:   store.NewFilesystemStore(root),
		baseURL: baseURL,
		refresh: core.ListingRefreshInterval,
		now:     time.Now,
		log:     logging.Named("listing"),
		index:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loadIndex()
	return c
}

// loadIndex scans the root for listing files. Failures leave the index
// empty; listings are then refetched on demand.
func (c *Cache) loadIndex() {
	root := c.files.Root()
	if err := os.MkdirAll(root, 0755); err != nil {
		c.log.Error("unable to create listing directory", zap.String("dir", root), zap.Error(err))
		return
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		c.log.Error("unable to scan listing files", zap.String("dir", root), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, core.ListingSuffix) {
			continue
		}
		c.index[strings.TrimSuffix(name, core.ListingSuffix)] = name
	}
	c.log.Debug("loaded listing index", zap.String("dir", root), zap.Int("listings", len(c.index)))
}

// Indexed returns the day keys that have a listing file, ascending.
func (c *Cache) Indexed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.index))
	for k := range c.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DirURL returns the remote directory for day: <base>/<yyyy>/<MM>/<dd>/.
func (c *Cache) DirURL(day time.Time) *url.URL {
	day = day.UTC()
	u := c.baseURL.JoinPath(day.Format("2006"), day.Format("01"), day.Format("02"))
	u.Path += "/"
	if u.RawPath != "" {
		u.RawPath += "/"
	}
	return u
}

// FileURL returns the remote URL of filename within day's directory.
func (c *Cache) FileURL(day time.Time, filename string) *url.URL {
	return c.DirURL(day).JoinPath(filename)
}

// ListingFor returns the filename -> URL map for day. When allowCached is
// false the remote directory is always scraped.
func (c *Cache) ListingFor(ctx context.Context, day time.Time, allowCached bool) (map[string]string, error) {
	key := core.DayKey(day)

	if allowCached {
		if listing, ok := c.cached(key); ok {
			return listing, nil
		}
	}

	// Concurrent misses for one day share a single scrape, detached from
	// any one caller.
	shared := context.WithoutCancel(ctx)
	ch := c.scrapes.DoChan(key, func() (any, error) {
		return c.scrape(shared, day, key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyListing(res.Val.(map[string]string)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) cached(key string) (map[string]string, bool) {
	c.mu.Lock()
	name, ok := c.index[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	now := c.now()
	if key >= core.DayKey(now) {
		mod, err := c.files.ModTime(name)
		if err != nil {
			c.log.Debug("listing file unavailable", zap.String("day", key), zap.Error(err))
			return nil, false
		}
		if age := now.Sub(mod); age >= c.refresh {
			c.log.Debug("listing is stale", zap.String("day", key), zap.Duration("age", age))
			return nil, false
		}
	}

	var listing map[string]string
	if err := store.ReadJSON(c.files, name, &listing); err != nil {
		c.log.Warn("unable to read cached listing, refetching", zap.String("day", key), zap.Error(err))
		c.mu.Lock()
		delete(c.index, key)
		c.mu.Unlock()
		return nil, false
	}
	c.log.Debug("using cached listing", zap.String("day", key), zap.Int("files", len(listing)))
	return listing, true
}

func (c *Cache) scrape(ctx context.Context, day time.Time, key string) (map[string]string, error) {
	dir := c.DirURL(day)
	links, err := c.scraper.ParseLinks(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	listing := make(map[string]string, len(links))
	for _, u := range links {
		if strings.HasSuffix(u.Path, "/") {
			continue
		}
		name := path.Base(u.Path)
		if name == "." || name == "/" {
			continue
		}
		listing[name] = u.String()
	}

	name := key + core.ListingSuffix
	if err := store.WriteJSON(c.files, name, listing); err != nil {
		c.log.Warn("unable to persist listing", zap.String("day", key), zap.Error(err))
		return listing, nil
	}

	c.mu.Lock()
	c.index[key] = name
	c.mu.Unlock()

	c.log.Info("fetched listing", zap.String("day", key), zap.Int("files", len(listing)))
	return listing, nil
}

func copyListing(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
