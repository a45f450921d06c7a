package core

import "errors"

// Error kinds. Package-level errors wrap one of these so callers can
// classify any failure with errors.Is.
var (
	ErrTransport  = errors.New("transport error")
	ErrContent    = errors.New("content error")
	ErrStore      = errors.New("store error")
	ErrDecode     = errors.New("decode error")
	ErrContention = errors.New("operation in progress")
	ErrNoData     = errors.New("no data available")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrTransport, "transport"},
	{ErrContent, "content"},
	{ErrStore, "store"},
	{ErrDecode, "decode"},
	{ErrContention, "contention"},
	{ErrNoData, "no_data"},
}

// KindOf returns a short name for the error kind wrapped by err, or
// "internal" when err carries none of the known kinds.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
