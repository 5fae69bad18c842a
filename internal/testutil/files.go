package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteFile creates a file (and its parent directories) under root with the
// given content and modification time.
func WriteFile(t *testing.T, root, rel string, content []byte, mtime time.Time) string {
	t.Helper()

	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("setting mtime of %s: %v", rel, err)
	}
	return path
}

// Exists reports whether path exists.
func Exists(t *testing.T, path string) bool {
	t.Helper()

	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if !os.IsNotExist(err) {
		t.Fatalf("stat %s: %v", path, err)
	}
	return false
}

// NetCDFHeader is the classic-format signature followed by padding, enough
// for format sniffing.
var NetCDFHeader = []byte("CDF\x01\x00\x00\x00\x00")
