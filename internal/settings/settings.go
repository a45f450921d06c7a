// Package settings supplies the user's current image selection.
package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/colthorp/sol-cli-go/internal/catalog"
	"github.com/colthorp/sol-cli-go/internal/logging"
)

// Provider exposes the image selection. Values are read at call time.
type Provider interface {
	ImageSet() catalog.ImageSet
	Resolution() catalog.Resolution
	PFSS() bool
	// Changes returns a channel that receives a value after the selection
	// changes. Sends never block; rapid changes may coalesce.
	Changes() <-chan struct{}
}

// Current snapshots p.
func Current(p Provider) catalog.Selection {
	return catalog.Selection{
		ImageSet:   p.ImageSet(),
		Resolution: p.Resolution(),
		PFSS:       p.PFSS(),
	}
}

// Default is the selection used when none is configured.
var Default = catalog.Selection{
	ImageSet:   catalog.Set0171,
	Resolution: catalog.Res1024,
	PFSS:       false,
}

// Static is a provider that never changes.
type Static struct {
	Selection catalog.Selection
}

func (s Static) ImageSet() catalog.ImageSet     { return s.Selection.ImageSet }
func (s Static) Resolution() catalog.Resolution { return s.Selection.Resolution }
func (s Static) PFSS() bool                     { return s.Selection.PFSS }
func (s Static) Changes() <-chan struct{}       { return nil }

type file struct {
	Selection *catalog.Selection `yaml:"selection"`
}

// FileProvider reads the selection section of a YAML file.
type FileProvider struct {
	path     string
	fallback catalog.Selection
	log      *zap.Logger

	mu       sync.RWMutex
	current  catalog.Selection
	modTime  time.Time
	watchers []chan struct{}
}

// NewFileProvider loads path. A missing file or a file without a
// selection section yields fallback.
func NewFileProvider(path string, fallback catalog.Selection) (*FileProvider, error) {
	p := &FileProvider{
		path:     path,
		fallback: fallback,
		current:  fallback,
		log:      logging.Named("settings"),
	}
	if _, err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) ImageSet() catalog.ImageSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.ImageSet
}

func (p *FileProvider) Resolution() catalog.Resolution {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Resolution
}

func (p *FileProvider) PFSS() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.PFSS
}

// Changes registers a new subscriber.
func (p *FileProvider) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	p.mu.Lock()
	p.watchers = append(p.watchers, ch)
	p.mu.Unlock()
	return ch
}

func (p *FileProvider) read() (catalog.Selection, time.Time, error) {
	info, err := os.Stat(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return p.fallback, time.Time{}, nil
	}
	if err != nil {
		return catalog.Selection{}, time.Time{}, fmt.Errorf("failed to stat settings file: %w", err)
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return catalog.Selection{}, time.Time{}, fmt.Errorf("failed to read settings file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return catalog.Selection{}, time.Time{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if f.Selection == nil {
		return p.fallback, info.ModTime(), nil
	}

	sel := *f.Selection
	if sel.ImageSet == "" {
		sel.ImageSet = p.fallback.ImageSet
	}
	if sel.Resolution == "" {
		sel.Resolution = p.fallback.Resolution
	}
	if err := sel.Validate(); err != nil {
		return catalog.Selection{}, time.Time{}, fmt.Errorf("invalid settings in %s: %w", p.path, err)
	}
	return sel, info.ModTime(), nil
}

// Reload re-reads the file and notifies subscribers if the selection
// changed. On error the current selection is kept.
func (p *FileProvider) Reload() (bool, error) {
	sel, modTime, err := p.read()
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.modTime = modTime
	if sel == p.current {
		return false, nil
	}
	p.log.Info("selection changed", zap.Stringer("from", p.current), zap.Stringer("to", sel))
	p.current = sel
	for _, ch := range p.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return true, nil
}

// Watch polls the file every interval and reloads it when its
// modification time moves. It returns when ctx is done.
func (p *FileProvider) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var modTime time.Time
		if info, err := os.Stat(p.path); err == nil {
			modTime = info.ModTime()
		}
		p.mu.RLock()
		unchanged := modTime.Equal(p.modTime)
		p.mu.RUnlock()
		if unchanged {
			continue
		}
		if _, err := p.Reload(); err != nil {
			p.log.Warn("unable to reload settings", zap.String("path", p.path), zap.Error(err))
			p.mu.Lock()
			p.modTime = modTime
			p.mu.Unlock()
		}
	}
}
