package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/colthorp/sol-cli-go/internal/core"
	"github.com/colthorp/sol-cli-go/internal/logging"
)

// DefaultTimeout bounds a single request when no http.Client is supplied.
const DefaultTimeout = 60 * time.Second

// Client is the HTTP wrapper used for every remote read.
type Client struct {
	httpClient  *http.Client
	userAgent   string
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
	observer    Observer
	log         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTransport keeps the default client settings but swaps the RoundTripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: c.httpClient.Timeout, Transport: rt}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRateLimit limits outgoing requests to rps per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries allows up to n extra attempts on connection errors, HTTP 5xx
// and HTTP 429, waiting base, 2*base, 4*base... between them.
func WithRetries(n int, base time.Duration) Option {
	return func(c *Client) {
		if n < 0 {
			n = 0
		}
		c.maxAttempts = n + 1
		c.backoff = base
	}
}

// WithObserver reports request outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a new fetch client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		userAgent:   "sol-cli/" + core.Version,
		maxAttempts: 1,
		backoff:     time.Second,
		log:         logging.Named("fetch"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) observe(method string, status int, start time.Time, err error) {
	if c.observer != nil {
		c.observer.ObserveRequest(method, status, time.Since(start), err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do issues one request, retrying transient failures when configured.
// The caller owns the returned response body.
func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limiter: %w", core.ErrTransport, err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create request: %w", core.ErrTransport, err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		c.log.Debug("request", zap.String("method", method), zap.String("url", rawURL), zap.Int("attempt", attempt))

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.observe(method, 0, start, err)
			lastErr = fmt.Errorf("%w: %s %s: %w", ErrInvalidResponse, method, rawURL, err)
			if attempt < c.maxAttempts && ctx.Err() == nil {
				wait := c.backoff * time.Duration(1<<(attempt-1))
				c.log.Debug("retrying after connection error", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
				if err := sleep(ctx, wait); err != nil {
					return nil, lastErr
				}
				continue
			}
			return nil, lastErr
		}
		c.observe(method, resp.StatusCode, start, nil)

		if (resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests) && attempt < c.maxAttempts {
			wait := c.backoff * time.Duration(1<<(attempt-1))
			if resp.StatusCode == http.StatusTooManyRequests {
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					}
				}
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, URL: rawURL}
			c.log.Debug("retrying after bad status", zap.Int("status", resp.StatusCode), zap.Duration("wait", wait))
			if err := sleep(ctx, wait); err != nil {
				return nil, lastErr
			}
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// Fetch GETs rawURL. Any status other than 200 fails with *StatusError.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, "", &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read response body: %w", ErrInvalidResponse, err)
	}
	if c.observer != nil {
		c.observer.ObserveBytes(len(body))
	}

	etag := resp.Header.Get("ETag")
	c.log.Debug("response", zap.String("url", rawURL), zap.Int("bytes", len(body)), zap.String("etag", etag))
	return body, etag, nil
}

// FetchETag HEADs rawURL and returns the ETag header, "" when absent or
// when the server does not answer HEAD with 200.
func (c *Client) FetchETag(ctx context.Context, rawURL string) (string, error) {
	resp, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Servers that refuse HEAD are treated as having no ETag.
	if resp.StatusCode != http.StatusOK {
		c.log.Debug("HEAD refused", zap.String("url", rawURL), zap.Int("status", resp.StatusCode))
		return "", nil
	}
	return resp.Header.Get("ETag"), nil
}

// FetchIfNonMatching downloads rawURL unless the server's current ETag
// equals prior. An empty prior always downloads, as does a server that
// reports no ETag.
func (c *Client) FetchIfNonMatching(ctx context.Context, rawURL, prior string) (Result, error) {
	if prior != "" {
		etag, err := c.FetchETag(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if etag != "" && etag == prior {
			c.log.Debug("etag unchanged, skipping download", zap.String("url", rawURL), zap.String("etag", etag))
			return NotModified{ETag: etag}, nil
		}
	}

	body, etag, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return Fresh{Body: body, ETag: etag}, nil
}
