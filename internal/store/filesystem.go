package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/colthorp/sol-cli-go/internal/core"
)

const tmpSuffix = ".tmp"

// FilesystemStore stores each key as a file below root.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at root. The directory is
// created on first write.
func NewFilesystemStore(root string) *FilesystemStore {
	return &FilesystemStore{root: filepath.Clean(root)}
}

// Root returns the directory backing the store.
func (s *FilesystemStore) Root() string {
	return s.root
}

// Path resolves key to a file path under the root.
func (s *FilesystemStore) Path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrBadKey)
	}
	rel := filepath.FromSlash(key)
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrBadKey, key)
	}
	rel = filepath.Clean(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes store root", ErrBadKey, key)
	}
	return filepath.Join(s.root, rel), nil
}

// Keys walks the root and returns every regular file as a key.
// A missing root is an empty store.
func (s *FilesystemStore) Keys() ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %w", core.ErrStore, s.root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is a regular file.
func (s *FilesystemStore) Exists(key string) bool {
	path, err := s.Path(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the file contents for key.
func (s *FilesystemStore) Read(key string) ([]byte, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %w", core.ErrStore, key, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, key)
	}
	return data, nil
}

// Write persists data atomically: it writes a temp file in the target
// directory and renames it into place. Concurrent writers of the same key
// each use their own temp file; the last rename wins.
func (s *FilesystemStore) Write(key string, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", core.ErrStore, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", core.ErrStore, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to write %s: %w", core.ErrStore, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to write %s: %w", core.ErrStore, key, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to write %s: %w", core.ErrStore, key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: failed to commit %s: %w", core.ErrStore, key, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *FilesystemStore) Delete(key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("%w: failed to delete %s: %w", core.ErrStore, key, err)
	}
	return nil
}

// ModTime returns the last modification time of key.
func (s *FilesystemStore) ModTime(key string) (time.Time, error) {
	path, err := s.Path(key)
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return time.Time{}, fmt.Errorf("%w: failed to stat %s: %w", core.ErrStore, key, err)
	}
	return info.ModTime(), nil
}
