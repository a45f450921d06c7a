// Package listing scrapes remote directory index pages and caches the
// resulting per-day "filename -> URL" maps on disk.
package listing

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/fetch"
	"github.com/colthorp/sol-cli-go/internal/logging"
)

// ErrInvalidContent is returned when a listing page is not UTF-8 text.
var ErrInvalidContent = fmt.Errorf("%w: invalid listing content", core.ErrContent)

// Scraper extracts absolute link URLs from a directory index page.
type Scraper interface {
	ParseLinks(ctx context.Context, dir *url.URL) ([]*url.URL, error)
}

// Scraper kinds accepted by NewScraper.
const (
	ScraperPattern = "pattern"
	ScraperHTML    = "html"
)

// NewScraper returns the scraper for kind. An empty kind selects the pattern scraper.
func NewScraper(kind string, f fetch.Fetcher) (Scraper, error) {
	switch strings.ToLower(kind) {
	case "", ScraperPattern:
		return NewPatternScraper(f), nil
	case ScraperHTML:
		return NewDocumentScraper(f), nil
	}
	return nil, fmt.Errorf("unknown listing parser %q (expected %s or %s)", kind, ScraperPattern, ScraperHTML)
}

// linkPattern matches one anchor per match and never spans lines. The
// remote index is machine generated, so this stays stable.
var linkPattern = regexp.MustCompile(`<a href="(.*?)">.*?</a>`)

// PatternScraper extracts links with a line-oriented regular expression.
type PatternScraper struct {
	fetcher fetch.Fetcher
	log     *zap.Logger
}

// NewPatternScraper creates a regex based scraper.
func NewPatternScraper(f fetch.Fetcher) *PatternScraper {
	return &PatternScraper{fetcher: f, log: logging.Named("listing")}
}

// ParseLinks fetches dir and returns every anchor href resolved against it.
func (s *PatternScraper) ParseLinks(ctx context.Context, dir *url.URL) ([]*url.URL, error) {
	body, err := fetchText(ctx, s.fetcher, dir)
	if err != nil {
		return nil, err
	}

	matches := linkPattern.FindAllSubmatch(body, -1)
	links := make([]*url.URL, 0, len(matches))
	for _, m := range matches {
		if u := resolve(dir, string(m[1]), s.log); u != nil {
			links = append(links, u)
		}
	}
	return links, nil
}

// DocumentScraper extracts links with a real HTML parser.
type DocumentScraper struct {
	fetcher fetch.Fetcher
	log     *zap.Logger
}

// NewDocumentScraper creates a goquery based scraper.
func NewDocumentScraper(f fetch.Fetcher) *DocumentScraper {
	return &DocumentScraper{fetcher: f, log: logging.Named("listing")}
}

// ParseLinks fetches dir and returns every a[href] resolved against it.
func (s *DocumentScraper) ParseLinks(ctx context.Context, dir *url.URL) ([]*url.URL, error) {
	body, err := fetchText(ctx, s.fetcher, dir)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidContent, err)
	}

	links := make([]*url.URL, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if u := resolve(dir, href, s.log); u != nil {
			links = append(links, u)
		}
	})
	return links, nil
}

func fetchText(ctx context.Context, f fetch.Fetcher, dir *url.URL) ([]byte, error) {
	body, _, err := f.Fetch(ctx, dir.String())
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: %s is not UTF-8", ErrInvalidContent, dir)
	}
	return body, nil
}

func resolve(dir *url.URL, href string, log *zap.Logger) *url.URL {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		log.Debug("skipping unparsable link", zap.String("href", href), zap.Error(err))
		return nil
	}
	return dir.ResolveReference(ref)
}
