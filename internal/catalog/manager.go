package catalog

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/fetch"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/store"
)

// DefaultParallel is the number of concurrent downloads per prefetch pass.
const DefaultParallel = 4

// Listings supplies the filename -> URL map for a day.
type Listings interface {
	ListingFor(ctx context.Context, day time.Time, allowCached bool) (map[string]string, error)
}

// Observer receives cache events (see internal/metrics).
type Observer interface {
	// ImageLoaded reports where a load was satisfied: "memory", "store" or "remote".
	ImageLoaded(source string)
	// PrefetchDone reports one prefetch run.
	PrefetchDone(fetched, failed int)
}

// Manager orchestrates image listing, disk caching and decoding.
//
// # Layout
//
// Each day gets its own store at <root>/<yyyyMMdd>/ holding the raw files
// under their remote filenames. Stores are created lazily and memoized.
//
// # Memory cache
//
// Decoded images stay in memory for the life of the Manager (there is no
// eviction). Loads are de-duplicated per key: the first caller registers an
// in-flight load and later callers wait for it. A failed load is dropped so
// a later call can retry; every caller waiting on it gets the same error.
// State therefore goes from Awaiting back to Uninitiated after a failure
// instead of staying monotonic.
//
// Only bookkeeping happens under the mutex. Disk and network I/O run
// outside it.
type Manager struct {
	root     string
	listings Listings
	fetcher  fetch.Fetcher
	decode   Decoder
	parallel int
	newStore func(dir string) store.Store
	observer Observer
	log      *zap.Logger

	mu     sync.Mutex
	stores map[string]store.Store
	images map[string]*load

	downloads singleflight.Group
}

// load is one in-flight or completed decode. img and err are written
// once, before done is closed.
type load struct {
	done    chan struct{}
	waiters int
	img     image.Image
	err     error
}

// Option configures a Manager.
type Option func(*Manager)

// WithDecoder replaces DecodeImage.
func WithDecoder(d Decoder) Option {
	return func(m *Manager) { m.decode = d }
}

// WithParallel bounds concurrent downloads in each prefetch pass.
func WithParallel(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallel = n
		}
	}
}

// WithStoreFactory replaces the per-day FilesystemStore (for tests).
func WithStoreFactory(f func(dir string) store.Store) Option {
	return func(m *Manager) { m.newStore = f }
}

// WithObserver reports cache events to o.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a manager whose day stores live under root.
func NewManager(root string, listings Listings, f fetch.Fetcher, opts ...Option) *Manager {
	m := &Manager{
		root:     root,
		listings: listings,
		fetcher:  f,
		decode:   DecodeImage,
		parallel: DefaultParallel,
		newStore: func(dir string) store.Store { return store.NewFilesystemStore(dir) },
		log:      logging.Named("catalog"),
		stores:   make(map[string]store.Store),
		images:   make(map[string]*load),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StoreFor returns the memoized store for day.
func (m *Manager) StoreFor(day time.Time) store.Store {
	key := core.DayKey(day)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[key]; ok {
		return s
	}
	s := m.newStore(filepath.Join(m.root, key))
	m.stores[key] = s
	return s
}

// ListImages returns the images for day matching sel, newest first.
func (m *Manager) ListImages(ctx context.Context, day time.Time, sel Selection) ([]Image, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	m.log.Debug("listing images", zap.String("day", core.DayKey(day)), zap.Stringer("selection", sel))

	listing, err := m.listings.ListingFor(ctx, day, true)
	if err != nil {
		return nil, err
	}

	pattern := NamePattern(day, sel)
	images := make([]Image, 0)
	for name, remote := range listing {
		if !pattern.MatchString(name) {
			continue
		}
		images = append(images, Image{
			Key:        name,
			Day:        core.DateOnly(day),
			ImageSet:   sel.ImageSet,
			Resolution: sel.Resolution,
			PFSS:       sel.PFSS,
			RemoteURL:  remote,
		})
	}
	SortDescending(images)
	return images, nil
}

// Latest returns the newest image for day, or core.ErrNoData.
func (m *Manager) Latest(ctx context.Context, day time.Time, sel Selection) (Image, error) {
	images, err := m.ListImages(ctx, day, sel)
	if err != nil {
		return Image{}, err
	}
	if len(images) == 0 {
		return Image{}, fmt.Errorf("%w: no %s images for %s", core.ErrNoData, sel, core.DayKey(day))
	}
	return images[0], nil
}

// Find resolves key against its day's listing. A key the listing does
// not contain fails with core.ErrNoData.
func (m *Manager) Find(ctx context.Context, key string) (Image, error) {
	img, err := ParseKey(key)
	if err != nil {
		return Image{}, err
	}
	listing, err := m.listings.ListingFor(ctx, img.Day, true)
	if err != nil {
		return Image{}, err
	}
	remote, ok := listing[key]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s is not listed", core.ErrNoData, key)
	}
	img.RemoteURL = remote
	return img, nil
}

// State reports the memory cache state of key.
func (m *Manager) State(key string) CacheState {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.images[key]
	if !ok {
		return Uninitiated
	}
	select {
	case <-l.done:
		return Cached
	default:
		return Awaiting
	}
}

// Image returns the decoded image for img. Concurrent calls for one key
// share a single load; the store is tried before the remote.
func (m *Manager) Image(ctx context.Context, img Image) (image.Image, error) {
	m.mu.Lock()
	l, ok := m.images[img.Key]
	if ok {
		l.waiters++
		waiters := l.waiters
		m.mu.Unlock()
		if isDone(l) {
			m.loaded("memory")
		} else {
			m.log.Debug("joining in-flight load", zap.String("key", img.Key), zap.Int("waiters", waiters))
		}
		return wait(ctx, l)
	}
	l = &load{done: make(chan struct{})}
	m.images[img.Key] = l
	m.mu.Unlock()

	// The load outlives a caller that gives up; others may be waiting on it.
	go func() {
		l.img, l.err = m.loadImage(context.WithoutCancel(ctx), img)

		m.mu.Lock()
		if l.err != nil && m.images[img.Key] == l {
			delete(m.images, img.Key)
		}
		m.mu.Unlock()
		close(l.done)
	}()

	return wait(ctx, l)
}

func isDone(l *load) bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// wait prefers a finished load over a cancelled ctx.
func wait(ctx context.Context, l *load) (image.Image, error) {
	if isDone(l) {
		return l.img, l.err
	}
	select {
	case <-l.done:
		return l.img, l.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) loadImage(ctx context.Context, img Image) (image.Image, error) {
	data, _, err := m.Bytes(ctx, img)
	if err != nil {
		return nil, err
	}
	decoded, err := m.decode(data)
	if err != nil {
		return nil, &InvalidImageDataError{Key: img.Key, Err: err}
	}
	m.log.Debug("decoded image", zap.String("key", img.Key))
	return decoded, nil
}

type download struct {
	data   []byte
	stored bool
}

// Bytes returns the raw file for img, reading the day store first and
// falling back to the remote. A remote download is written back to the
// store; the bool reports whether the bytes are on disk afterwards. A
// failed write-back is logged, not returned.
func (m *Manager) Bytes(ctx context.Context, img Image) ([]byte, bool, error) {
	s := m.StoreFor(img.Day)

	data, err := s.Read(img.Key)
	if err == nil {
		m.loaded("store")
		return data, true, nil
	}
	m.log.Debug("store miss", zap.String("key", img.Key), zap.Error(err))

	// Prefetch and on-demand loads of one key share a download. It runs
	// detached from any one caller; each caller waits under its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := m.downloads.DoChan(img.Key, func() (any, error) {
		body, _, err := m.fetcher.Fetch(shared, img.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", img.Key, err)
		}
		d := download{data: body, stored: true}
		if err := s.Write(img.Key, body); err != nil {
			m.log.Warn("unable to cache image", zap.String("key", img.Key), zap.Error(err))
			d.stored = false
		}
		m.loaded("remote")
		return d, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if res.Err != nil {
		return nil, false, res.Err
	}
	d := res.Val.(download)
	return d.data, d.stored, nil
}

func (m *Manager) loaded(source string) {
	if m.observer != nil {
		m.observer.ImageLoaded(source)
	}
}

// PrefetchReport summarizes one prefetch run.
type PrefetchReport struct {
	Matching int      `json:"matching"`
	Missing  int      `json:"missing"`
	Fetched  int      `json:"fetched"`
	Retried  int      `json:"retried"`
	Failed   []string `json:"failed,omitempty"`
	Bytes    int64    `json:"bytes"`
}

// Prefetch downloads every image for day matching sel that is not yet in
// the day's store. Individual download failures never fail the call.
func (m *Manager) Prefetch(ctx context.Context, day time.Time, sel Selection) (PrefetchReport, error) {
	images, err := m.ListImages(ctx, day, sel)
	if err != nil {
		return PrefetchReport{}, err
	}
	return m.PrefetchImages(ctx, images)
}

// PrefetchImages downloads the images not already stored. Each missing
// image is attempted once; failures get exactly one more attempt, and
// second failures are logged and dropped. Only store enumeration errors
// are returned.
func (m *Manager) PrefetchImages(ctx context.Context, images []Image) (PrefetchReport, error) {
	report := PrefetchReport{Matching: len(images)}

	existing := make(map[string]map[string]bool)
	missing := make([]Image, 0)
	for _, img := range images {
		dayKey := core.DayKey(img.Day)
		keys, ok := existing[dayKey]
		if !ok {
			list, err := m.StoreFor(img.Day).Keys()
			if err != nil {
				return report, err
			}
			keys = make(map[string]bool, len(list))
			for _, k := range list {
				keys[k] = true
			}
			existing[dayKey] = keys
		}
		if !keys[img.Key] {
			missing = append(missing, img)
		}
	}
	report.Missing = len(missing)
	if len(missing) == 0 {
		m.log.Debug("nothing to prefetch", zap.Int("matching", len(images)))
		return report, nil
	}

	var mu sync.Mutex
	var total int64

	pass := func(items []Image, final bool) []Image {
		var failed []Image
		var g errgroup.Group
		g.SetLimit(m.parallel)
		for _, img := range items {
			img := img
			g.Go(func() error {
				data, stored, err := m.Bytes(ctx, img)
				if err == nil && !stored {
					err = fmt.Errorf("%w: %s not persisted", core.ErrStore, img.Key)
				}

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed = append(failed, img)
					if final {
						m.log.Error("download failed again, dropping", zap.String("url", img.RemoteURL), zap.Error(err))
					} else {
						m.log.Warn("download failed, will retry", zap.String("url", img.RemoteURL), zap.Error(err))
					}
					return nil
				}
				total += int64(len(data))
				m.log.Info("downloaded", zap.String("key", img.Key))
				return nil
			})
		}
		g.Wait()
		return failed
	}

	retries := pass(missing, false)
	report.Retried = len(retries)
	var dropped []Image
	if len(retries) > 0 {
		dropped = pass(retries, true)
	}

	for _, img := range dropped {
		report.Failed = append(report.Failed, img.Key)
	}
	report.Fetched = len(missing) - len(dropped)
	report.Bytes = total

	if m.observer != nil {
		m.observer.PrefetchDone(report.Fetched, len(report.Failed))
	}
	m.log.Info("prefetch complete",
		zap.Int("matching", report.Matching),
		zap.Int("fetched", report.Fetched),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}
