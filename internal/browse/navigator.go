// Package browse walks the image catalog from the newest image backwards,
// one day at a time.
package browse

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
	"github.com/colthorp/sol-cli-go/internal/settings"
)

// ErrContention is returned by Older while the previous day is loading.
var ErrContention = fmt.Errorf("%w: previous day is still loading, please wait", core.ErrContention)

// Catalog is the part of catalog.Manager the navigator uses.
type Catalog interface {
	ListImages(ctx context.Context, day time.Time, sel catalog.Selection) ([]catalog.Image, error)
	Image(ctx context.Context, img catalog.Image) (image.Image, error)
	Prefetch(ctx context.Context, day time.Time, sel catalog.Selection) (catalog.PrefetchReport, error)
	PrefetchImages(ctx context.Context, images []catalog.Image) (catalog.PrefetchReport, error)
}

// Frame is one navigation step.
type Frame struct {
	Meta  catalog.Image
	Image image.Image
	Index int
	Total int
}

// Navigator holds a newest-first list of images and a cursor into it.
type Navigator struct {
	catalog    Catalog
	settings   settings.Provider
	now        func() time.Time
	background bool
	log        *zap.Logger

	mu      sync.Mutex
	images  []catalog.Image
	index   int
	rolling bool

	prefetches sync.WaitGroup
}

// Option configures a Navigator.
type Option func(*Navigator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(n *Navigator) { n.now = now }
}

// WithoutBackgroundPrefetch stops Latest from prefetching the day.
func WithoutBackgroundPrefetch() Option {
	return func(n *Navigator) { n.background = false }
}

// New creates a navigator over c using the selection from p.
func New(c Catalog, p settings.Provider, opts ...Option) *Navigator {
	n := &Navigator{
		catalog:    c,
		settings:   p,
		now:        time.Now,
		background: true,
		log:        logging.Named("browse"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Latest lists today's images for the current selection and returns the
// newest. A prefetch of the whole day runs in the background.
func (n *Navigator) Latest(ctx context.Context) (Frame, error) {
	today := core.DateOnly(n.now())
	sel := settings.Current(n.settings)

	if n.background {
		n.prefetches.Add(1)
		go func() {
			defer n.prefetches.Done()
			if _, err := n.catalog.Prefetch(context.WithoutCancel(ctx), today, sel); err != nil {
				n.log.Debug("background prefetch failed", zap.Error(err))
			}
		}()
	}

	images, err := n.catalog.ListImages(ctx, today, sel)
	if err != nil {
		return Frame{}, err
	}

	n.mu.Lock()
	n.images = images
	n.index = 0
	n.mu.Unlock()

	if len(images) == 0 {
		return Frame{}, fmt.Errorf("%w: no images available for today (%s) yet", core.ErrNoData, core.DayKey(today))
	}
	return n.frame(ctx, images[0], 0, len(images))
}

// Older steps to the next older image, loading the previous day when the
// list is exhausted.
func (n *Navigator) Older(ctx context.Context) (Frame, error) {
	n.mu.Lock()
	if n.index+1 >= len(n.images) {
		if n.rolling {
			n.mu.Unlock()
			return Frame{}, ErrContention
		}
		n.rolling = true
		oldest := n.oldest()
		n.mu.Unlock()

		older, err := n.previousDay(ctx, oldest)

		n.mu.Lock()
		n.rolling = false
		if err != nil {
			n.mu.Unlock()
			return Frame{}, err
		}
		// An empty list starts at the newest image of the older day.
		if len(n.images) == 0 {
			n.index = -1
		}
		n.images = append(n.images, older...)
	}
	n.index++
	img, index, total := n.images[n.index], n.index, len(n.images)
	n.mu.Unlock()

	n.log.Debug("next older", zap.String("key", img.Key))
	return n.frame(ctx, img, index, total)
}

// oldest returns the reference for a rollover. Callers hold n.mu.
func (n *Navigator) oldest() catalog.Image {
	if len(n.images) > 0 {
		return n.images[len(n.images)-1]
	}
	sel := settings.Current(n.settings)
	return catalog.Image{
		Day:        core.DateOnly(n.now()),
		ImageSet:   sel.ImageSet,
		Resolution: sel.Resolution,
		PFSS:       sel.PFSS,
	}
}

func (n *Navigator) previousDay(ctx context.Context, oldest catalog.Image) ([]catalog.Image, error) {
	day := oldest.Day.AddDate(0, 0, -1)
	sel := catalog.Selection{ImageSet: oldest.ImageSet, Resolution: oldest.Resolution, PFSS: oldest.PFSS}

	images, err := n.catalog.ListImages(ctx, day, sel)
	if err != nil {
		return nil, err
	}
	n.log.Debug("found older images", zap.String("day", core.DayKey(day)), zap.Int("count", len(images)))
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no older images available", core.ErrNoData)
	}
	if _, err := n.catalog.PrefetchImages(ctx, images); err != nil {
		return nil, err
	}
	return images, nil
}

// Newer steps to the next newer image. The list is not extended forward;
// at the newest image Newer fails with core.ErrNoData.
func (n *Navigator) Newer(ctx context.Context) (Frame, error) {
	n.mu.Lock()
	if len(n.images) == 0 {
		n.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: no images available", core.ErrNoData)
	}
	if n.index == 0 {
		n.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: already at the newest image", core.ErrNoData)
	}
	n.index--
	img, index, total := n.images[n.index], n.index, len(n.images)
	n.mu.Unlock()

	n.log.Debug("next newer", zap.String("key", img.Key))
	return n.frame(ctx, img, index, total)
}

// Position returns the cursor and the number of listed images.
func (n *Navigator) Position() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index, len(n.images)
}

// Follow resets the navigator whenever the selection changes, until ctx
// is done. The next Latest call lists the new selection.
func (n *Navigator) Follow(ctx context.Context) {
	changes := n.settings.Changes()
	if changes == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			n.mu.Lock()
			n.images = nil
			n.index = 0
			n.mu.Unlock()
			n.log.Info("selection changed, navigator reset", zap.Stringer("selection", settings.Current(n.settings)))
		}
	}
}

// Wait blocks until background prefetches finish.
func (n *Navigator) Wait() {
	n.prefetches.Wait()
}

func (n *Navigator) frame(ctx context.Context, meta catalog.Image, index, total int) (Frame, error) {
	img, err := n.catalog.Image(ctx, meta)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Meta: meta, Image: img, Index: index, Total: total}, nil
}
