package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/colthorp/sol-cli-go/internal/core"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	s := NewFilesystemStore(t.TempDir())

	data := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	if err := s.Write("20220909_034258_4096_0171pfss.jpg", data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := s.Read("20220909_034258_4096_0171pfss.jpg")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read returned %v, want %v", got, data)
	}
	if !s.Exists("20220909_034258_4096_0171pfss.jpg") {
		t.Error("Expected key to exist")
	}

	if err := s.Delete("20220909_034258_4096_0171pfss.jpg"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Read("20220909_034258_4096_0171pfss.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete("20220909_034258_4096_0171pfss.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestFilesystemStoreEmptyValue(t *testing.T) {
	s := NewFilesystemStore(t.TempDir())

	if err := s.Write("empty", nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !s.Exists("empty") {
		t.Error("Expected empty key to exist")
	}
	_, err := s.Read("empty")
	if !errors.Is(err, ErrNoData) {
		t.Errorf("Expected ErrNoData, got %v", err)
	}
	if !errors.Is(err, core.ErrStore) {
		t.Errorf("Expected store kind, got %v", err)
	}
}

func TestFilesystemStoreBadKeys(t *testing.T) {
	s := NewFilesystemStore(t.TempDir())

	tests := []string{"", ".", "..", "../escape", "a/../../escape", "/etc/passwd"}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			if _, err := s.Read(key); !errors.Is(err, ErrBadKey) {
				t.Errorf("Read(%q) error = %v, want ErrBadKey", key, err)
			}
			if err := s.Write(key, []byte("x")); !errors.Is(err, ErrBadKey) {
				t.Errorf("Write(%q) error = %v, want ErrBadKey", key, err)
			}
			if s.Exists(key) {
				t.Errorf("Exists(%q) = true", key)
			}
		})
	}
}

func TestFilesystemStorePath(t *testing.T) {
	s := NewFilesystemStore("/test/cache/sdo/20220909")

	tests := []struct {
		key      string
		expected string
	}{
		{"a.jpg", "/test/cache/sdo/20220909/a.jpg"},
		{"nested/b.jpg", "/test/cache/sdo/20220909/nested/b.jpg"},
		{"./c.jpg", "/test/cache/sdo/20220909/c.jpg"},
	}

	for _, tt := range tests {
		got, err := s.Path(tt.key)
		if err != nil {
			t.Fatalf("Path(%s) failed: %v", tt.key, err)
		}
		if got != filepath.FromSlash(tt.expected) {
			t.Errorf("Path(%s) = %s, want %s", tt.key, got, tt.expected)
		}
	}
}

func TestFilesystemStoreKeysSorted(t *testing.T) {
	root := t.TempDir()
	s := NewFilesystemStore(root)

	for _, key := range []string{"c", "a", "b/inner"} {
		if err := s.Write(key, []byte(key)); err != nil {
			t.Fatalf("Write(%s) failed: %v", key, err)
		}
	}
	// Leftover temp file from an interrupted write is not a key
	if err := os.WriteFile(filepath.Join(root, ".d.123.tmp"), []byte("partial"), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	want := []string{"a", "b/inner", "c"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}
}

func TestFilesystemStoreKeysMissingRoot(t *testing.T) {
	s := NewFilesystemStore(filepath.Join(t.TempDir(), "never-created"))

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys, got %v", keys)
	}
}

func TestFilesystemStoreAtomicWrite(t *testing.T) {
	root := t.TempDir()
	s := NewFilesystemStore(root)

	if err := s.Write("img.jpg", []byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write("img.jpg", []byte("second")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("Expected temp file %s to be renamed away", e.Name())
		}
	}

	got, _ := s.Read("img.jpg")
	if string(got) != "second" {
		t.Errorf("Read = %q, want second", got)
	}
}

func TestFilesystemStoreConcurrentWritesConverge(t *testing.T) {
	s := NewFilesystemStore(t.TempDir())
	payload := bytes.Repeat([]byte("sol"), 4096)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Write("same.jpg", payload); err != nil {
				t.Errorf("Write failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Read("same.jpg")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Expected identical payload after concurrent writes")
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewFilesystemStore(t.TempDir())

	in := map[string]string{"a.jpg": "https://example.com/a.jpg"}
	if err := WriteJSON(s, "listing.json", in); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	var out map[string]string
	if err := ReadJSON(s, "listing.json", &out); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if out["a.jpg"] != in["a.jpg"] {
		t.Errorf("ReadJSON = %v, want %v", out, in)
	}

	if err := s.Write("corrupt.json", []byte("{not json")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := ReadJSON(s, "corrupt.json", &out); !errors.Is(err, core.ErrStore) {
		t.Errorf("Expected store error for corrupt JSON, got %v", err)
	}
}
