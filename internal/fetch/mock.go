package fetch

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// Response is a canned reply served by InMemoryTransport.
type Response struct {
	Status int
	Body   []byte
	ETag   string
	Err    error
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Method string
	URL    string
}

// InMemoryTransport is an http.RoundTripper serving seeded responses.
// Unknown URLs answer 404. HEAD requests get headers only. Used by tests
// across packages to count network traffic.
type InMemoryTransport struct {
	mu         sync.Mutex
	responses  map[string]Response
	requestLog []RequestLogEntry
	gate       chan struct{}
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		responses: make(map[string]Response),
	}
}

// Seed registers resp for url. A zero Status means 200.
func (t *InMemoryTransport) Seed(url string, resp Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if resp.Status == 0 && resp.Err == nil {
		resp.Status = http.StatusOK
	}
	t.responses[url] = resp
}

// SeedBody registers a 200 response with body and etag for url.
func (t *InMemoryTransport) SeedBody(url string, body []byte, etag string) {
	t.Seed(url, Response{Status: http.StatusOK, Body: body, ETag: etag})
}

// Hold makes GET requests block until Release is called. HEAD requests
// are not held.
func (t *InMemoryTransport) Hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gate = make(chan struct{})
}

// Release unblocks held GET requests.
func (t *InMemoryTransport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gate != nil {
		close(t.gate)
		t.gate = nil
	}
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requestLog)
}

// RequestsFor counts requests with the given method and url.
func (t *InMemoryTransport) RequestsFor(method, url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.requestLog {
		if r.Method == method && r.URL == url {
			n++
		}
	}
	return n
}

// Requests returns a copy of the request log.
func (t *InMemoryTransport) Requests() []RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RequestLogEntry(nil), t.requestLog...)
}

// Reset clears all seeded responses and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = make(map[string]Response)
	t.requestLog = nil
}

// RoundTrip implements http.RoundTripper.
func (t *InMemoryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	t.mu.Lock()
	t.requestLog = append(t.requestLog, RequestLogEntry{Method: req.Method, URL: url})
	resp, ok := t.responses[url]
	gate := t.gate
	t.mu.Unlock()

	if gate != nil && req.Method == http.MethodGet {
		select {
		case <-gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}

	if !ok {
		resp = Response{Status: http.StatusNotFound}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}

	header := make(http.Header)
	if resp.ETag != "" {
		header.Set("ETag", resp.ETag)
	}
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	body := resp.Body
	if req.Method == http.MethodHead {
		body = nil
	}

	return &http.Response{
		Status:        http.StatusText(resp.Status),
		StatusCode:    resp.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}
