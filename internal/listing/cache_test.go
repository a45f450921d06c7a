package listing

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/sol-cli-go/internal/core"
)

// fakeScraper returns a fixed set of filenames for any directory and
// counts how often it was asked.
type fakeScraper struct {
	names []string
	err   error
	calls atomic.Int32
}

func (s *fakeScraper) ParseLinks(_ context.Context, dir *url.URL) ([]*url.URL, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	links := []*url.URL{dir.ResolveReference(&url.URL{Path: "../"}), dir.ResolveReference(&url.URL{RawQuery: "C=N;O=D"})}
	for _, n := range s.names {
		links = append(links, dir.JoinPath(n))
	}
	return links, nil
}

var (
	testBase = mustParse("https://sdo.example.test/assets/img/browse")
	testNow  = time.Date(2022, 9, 9, 12, 0, 0, 0, time.UTC)
	today    = core.DateOnly(testNow)
	pastDay  = today.AddDate(0, 0, -3)
)

func mustParse(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func newTestCache(t *testing.T, root string, s Scraper) *Cache {
	t.Helper()
	return NewCache(root, testBase, s, WithClock(func() time.Time { return testNow }))
}

func TestDirURL(t *testing.T) {
	c := newTestCache(t, t.TempDir(), &fakeScraper{})
	day := time.Date(2022, 9, 9, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "https://sdo.example.test/assets/img/browse/2022/09/09/", c.DirURL(day).String())
	assert.Equal(t, "https://sdo.example.test/assets/img/browse/2022/09/09/a.jpg", c.FileURL(day, "a.jpg").String())
}

func TestListingForPersistsAndKeysByFilename(t *testing.T) {
	root := t.TempDir()
	s := &fakeScraper{names: []string{"20220906_000000_512_0094.jpg", "20220906_001200_512_0094.jpg"}}
	c := newTestCache(t, root, s)

	listing, err := c.ListingFor(context.Background(), pastDay, true)
	require.NoError(t, err)

	assert.Len(t, listing, 2)
	assert.Equal(t, "https://sdo.example.test/assets/img/browse/2022/09/06/20220906_000000_512_0094.jpg",
		listing["20220906_000000_512_0094.jpg"])

	_, err = os.Stat(filepath.Join(root, "20220906_listing.json"))
	assert.NoError(t, err, "expected listing file to be written")
	assert.Equal(t, []string{"20220906"}, c.Indexed())
}

func TestListingForPastDayAlwaysReused(t *testing.T) {
	root := t.TempDir()
	s := &fakeScraper{names: []string{"a.jpg"}}
	c := newTestCache(t, root, s)
	ctx := context.Background()

	_, err := c.ListingFor(ctx, pastDay, true)
	require.NoError(t, err)

	// Even a very old file is reused for a past day
	old := testNow.Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "20220906_listing.json"), old, old))

	listing, err := c.ListingFor(ctx, pastDay, true)
	require.NoError(t, err)
	assert.Contains(t, listing, "a.jpg")
	assert.Equal(t, int32(1), s.calls.Load())

	_, err = c.ListingFor(ctx, pastDay, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.calls.Load(), "allowCached=false must scrape")
}

func TestListingForTodayFreshness(t *testing.T) {
	tests := []struct {
		name        string
		age         time.Duration
		wantScrapes int32
	}{
		{"fresh listing reused", 5 * time.Minute, 1},
		{"just under interval reused", 14*time.Minute + 59*time.Second, 1},
		{"stale listing refetched", 20 * time.Minute, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			s := &fakeScraper{names: []string{"a.jpg"}}
			c := newTestCache(t, root, s)
			ctx := context.Background()

			_, err := c.ListingFor(ctx, today, true)
			require.NoError(t, err)

			mod := testNow.Add(-tt.age)
			require.NoError(t, os.Chtimes(filepath.Join(root, "20220909_listing.json"), mod, mod))

			_, err = c.ListingFor(ctx, today, true)
			require.NoError(t, err)
			assert.Equal(t, tt.wantScrapes, s.calls.Load())
		})
	}
}

func TestIndexRebuiltAtStartup(t *testing.T) {
	root := t.TempDir()
	s := &fakeScraper{names: []string{"a.jpg"}}
	first := newTestCache(t, root, s)
	_, err := first.ListingFor(context.Background(), pastDay, true)
	require.NoError(t, err)

	// Unrelated files are ignored by the scan
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "20220906"), 0755))

	second := newTestCache(t, root, s)
	assert.Equal(t, []string{"20220906"}, second.Indexed())

	listing, err := second.ListingFor(context.Background(), pastDay, true)
	require.NoError(t, err)
	assert.Contains(t, listing, "a.jpg")
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestCorruptListingRefetched(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "20220906_listing.json"), []byte("{oops"), 0644))
	s := &fakeScraper{names: []string{"a.jpg"}}
	c := newTestCache(t, root, s)

	listing, err := c.ListingFor(context.Background(), pastDay, true)
	require.NoError(t, err)
	assert.Contains(t, listing, "a.jpg")
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestListingForScrapeError(t *testing.T) {
	boom := errors.New("remote down")
	c := newTestCache(t, t.TempDir(), &fakeScraper{err: boom})

	_, err := c.ListingFor(context.Background(), pastDay, true)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, c.Indexed())
}

func TestListingForConcurrentCallersCoalesce(t *testing.T) {
	gate := make(chan struct{})
	s := &blockingScraper{gate: gate, inner: &fakeScraper{names: []string{"a.jpg"}}}
	c := newTestCache(t, t.TempDir(), s)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listing, err := c.ListingFor(context.Background(), pastDay, true)
			assert.NoError(t, err)
			assert.Contains(t, listing, "a.jpg")
		}()
	}
	// Let every goroutine reach the scrape before releasing it
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.LessOrEqual(t, s.inner.calls.Load(), int32(5))
	assert.GreaterOrEqual(t, s.inner.calls.Load(), int32(1))
}

type blockingScraper struct {
	gate  chan struct{}
	inner *fakeScraper
}

func (s *blockingScraper) ParseLinks(ctx context.Context, dir *url.URL) ([]*url.URL, error) {
	<-s.gate
	return s.inner.ParseLinks(ctx, dir)
}

// cancellableScraper blocks until released or until ctx is done.
type cancellableScraper struct {
	entered chan struct{}
	gate    chan struct{}
	inner   *fakeScraper
}

func (s *cancellableScraper) ParseLinks(ctx context.Context, dir *url.URL) ([]*url.URL, error) {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.inner.ParseLinks(ctx, dir)
}

func TestListingForCancelledCallerLeavesSharedScrape(t *testing.T) {
	s := &cancellableScraper{
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
		inner:   &fakeScraper{names: []string{"a.jpg"}},
	}
	c := newTestCache(t, t.TempDir(), s)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.ListingFor(ctx, pastDay, true)
		first <- err
	}()
	<-s.entered

	second := make(chan map[string]string, 1)
	go func() {
		listing, err := c.ListingFor(context.Background(), pastDay, true)
		assert.NoError(t, err)
		second <- listing
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(s.gate)
	assert.Contains(t, <-second, "a.jpg")
	assert.Equal(t, int32(1), s.inner.calls.Load())
	assert.Equal(t, []string{core.DayKey(pastDay)}, c.Indexed())
}
