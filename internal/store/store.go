// Package store provides byte-oriented key/value storage.
//
// Keys are slash-separated relative paths. FilesystemStore maps them onto
// files under a fixed root directory and writes atomically (temp file plus
// rename), so a reader sees either the previous content or the new content
// in full, never a partial file. MemoryStore implements the same contract
// for tests.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/colthorp/sol-cli-go/internal/core"
)

// Store errors. Each wraps core.ErrStore.
var (
	ErrBadKey   = fmt.Errorf("%w: bad key", core.ErrStore)
	ErrNotFound = fmt.Errorf("%w: not found", core.ErrStore)
	ErrNoData   = fmt.Errorf("%w: no data", core.ErrStore)
)

// Store is the interface for key/value storage backends.
type Store interface {
	// Keys returns every stored key in ascending order.
	Keys() ([]string, error)

	// Exists reports whether key holds a value (possibly empty).
	Exists(key string) bool

	// Read returns the value for key. Fails ErrNoData when the value exists
	// but is empty and ErrNotFound when it does not exist.
	Read(key string) ([]byte, error)

	// Write replaces the value for key atomically.
	Write(key string, data []byte) error

	// Delete removes key. Fails ErrNotFound when absent.
	Delete(key string) error
}

// WriteJSON marshals v and writes it under key.
func WriteJSON(s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Write(key, data)
}

// ReadJSON reads key and decodes it into v.
func ReadJSON(s Store, key string, v any) error {
	data, err := s.Read(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: failed to decode %s: %w", core.ErrStore, key, err)
	}
	return nil
}
