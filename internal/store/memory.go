package store

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory store for testing.
type MemoryStore struct {
	entries  map[string][]byte
	writeErr error
	writes   int
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
	}
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrBadKey)
	}
	return nil
}

// Keys returns the stored keys in ascending order.
func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is present.
func (s *MemoryStore) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Read returns a copy of the value for key.
func (s *MemoryStore) Read(key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, key)
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data.
func (s *MemoryStore) Write(key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.entries[key] = append([]byte{}, data...)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.entries, key)
	return nil
}

// FailWrites makes every subsequent Write return err (nil restores writes).
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// WritesAttempted returns the number of Write calls, failed ones included.
func (s *MemoryStore) WritesAttempted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Reset clears all entries (for testing).
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]byte)
	s.writes = 0
	s.writeErr = nil
}

// Seed adds entries directly (for testing).
func (s *MemoryStore) Seed(entries map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.entries[k] = append([]byte{}, v...)
	}
}
