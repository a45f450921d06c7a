package listing

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/sol-cli-go/internal/fetch"
)

const indexPage = `<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">
<html>
 <head>
  <title>Index of /assets/img/browse/2022/09/09</title>
 </head>
 <body>
<h1>Index of /assets/img/browse/2022/09/09</h1>
<pre><a href="?C=N;O=D">Name</a>                                  <a href="?C=M;O=A">Last modified</a>
<hr><a href="/assets/img/browse/2022/09/">Parent Directory</a>
<a href="20220909_000005_1024_HMIB.jpg">20220909_000005_1024_HMIB.jpg</a>         2022-09-09 00:28  174K
<a href="20220909_034258_4096_0171pfss.jpg">20220909_034258_4096_0171pfss.jpg</a> 2022-09-09 04:01  3.1M
<a href="20220909_094634_4096_0171pfss.jpg">20220909_094634_4096_0171pfss.jpg</a> 2022-09-09 10:05  3.1M
<hr></pre>
</body></html>
`

const dirURL = "https://sdo.example.test/assets/img/browse/2022/09/09/"

func newScraperFixture(t *testing.T, body []byte) (*fetch.InMemoryTransport, fetch.Fetcher, *url.URL) {
	t.Helper()
	transport := fetch.NewInMemoryTransport()
	transport.SeedBody(dirURL, body, "")
	dir, err := url.Parse(dirURL)
	require.NoError(t, err)
	return transport, fetch.NewClient(fetch.WithTransport(transport)), dir
}

func linkStrings(links []*url.URL) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.String()
	}
	return out
}

func TestScrapersResolveLinks(t *testing.T) {
	for _, kind := range []string{ScraperPattern, ScraperHTML} {
		t.Run(kind, func(t *testing.T) {
			_, f, dir := newScraperFixture(t, []byte(indexPage))
			scraper, err := NewScraper(kind, f)
			require.NoError(t, err)

			links, err := scraper.ParseLinks(context.Background(), dir)
			require.NoError(t, err)

			got := linkStrings(links)
			assert.Contains(t, got, dirURL+"20220909_034258_4096_0171pfss.jpg")
			assert.Contains(t, got, dirURL+"20220909_094634_4096_0171pfss.jpg")
			assert.Contains(t, got, dirURL+"20220909_000005_1024_HMIB.jpg")
			assert.Contains(t, got, "https://sdo.example.test/assets/img/browse/2022/09/")
			assert.Len(t, got, 6)
		})
	}
}

func TestScraperInvalidUTF8(t *testing.T) {
	for _, kind := range []string{ScraperPattern, ScraperHTML} {
		t.Run(kind, func(t *testing.T) {
			_, f, dir := newScraperFixture(t, []byte{0xff, 0xfe, 0xfd})
			scraper, err := NewScraper(kind, f)
			require.NoError(t, err)

			_, err = scraper.ParseLinks(context.Background(), dir)
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestPatternScraperIsLineOriented(t *testing.T) {
	page := "<a href=\"a.jpg\">a</a>\n<a href=\"b.jpg\">multi\nline</a>\n"
	_, f, dir := newScraperFixture(t, []byte(page))

	links, err := NewPatternScraper(f).ParseLinks(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{dirURL + "a.jpg"}, linkStrings(links))
}

func TestNewScraperUnknownKind(t *testing.T) {
	_, err := NewScraper("xpath", fetch.NewClient())
	assert.Error(t, err)
}
