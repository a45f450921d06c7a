// Package fetch performs HTTP GET and HEAD requests with ETag-conditional
// downloads.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/colthorp/sol-cli-go/internal/core"
)

// ErrInvalidResponse is returned when the transport yields no usable response.
var ErrInvalidResponse = fmt.Errorf("%w: invalid response", core.ErrTransport)

// StatusError is returned when the server answers with a status other than 200.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status (HTTP %d) from %s", e.Code, e.URL)
}

func (e *StatusError) Unwrap() error {
	return core.ErrTransport
}

// Result is the outcome of a conditional fetch: either Fresh or NotModified.
type Result interface {
	result()
}

// Fresh carries a downloaded body. ETag is empty when the server sent none.
type Fresh struct {
	Body []byte
	ETag string
}

// NotModified reports that the remote ETag equals the one the caller holds.
// No body was downloaded.
type NotModified struct {
	ETag string
}

func (Fresh) result()       {}
func (NotModified) result() {}

// Fetcher is the interface consumed by the listing, catalog and report caches.
type Fetcher interface {
	// Fetch GETs url and returns its body and ETag header.
	Fetch(ctx context.Context, url string) ([]byte, string, error)

	// FetchETag HEADs url and returns its ETag header, or "" when absent.
	FetchETag(ctx context.Context, url string) (string, error)

	// FetchIfNonMatching downloads url unless its current ETag equals prior.
	FetchIfNonMatching(ctx context.Context, url, prior string) (Result, error)
}

// Observer receives per-request measurements (see internal/metrics).
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration, err error)
	ObserveBytes(n int)
}
