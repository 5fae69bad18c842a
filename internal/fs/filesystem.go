package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// WriteFileAtomic writes data from r to destPath using a temp file in the
// same directory followed by a rename, so readers never observe a partial file.
func WriteFileAtomic(destPath string, r io.Reader, perm fs.FileMode) error {
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Chmod(perm); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// RemoveIfExists removes a single file. A missing file is not an error.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveTree removes a directory tree. A missing tree is not an error.
func RemoveTree(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// ModTime returns the modification time of the file at path, following a
// symlink to its target.
func ModTime(path string, d fs.DirEntry) (time.Time, error) {
	var info fs.FileInfo
	var err error
	if d != nil && d.Type()&fs.ModeSymlink == 0 {
		info, err = d.Info()
	} else {
		info, err = os.Stat(path)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.ModTime(), nil
}

// LatestFile returns the base name and modification time of the most recently
// modified regular file directly inside dir whose name ends with ext.
// ok is false when dir has no such file or does not exist.
func LatestFile(dir, ext string) (name string, mtime time.Time, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("reading directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		mt, err := ModTime(filepath.Join(dir, entry.Name()), entry)
		if err != nil {
			return "", time.Time{}, false, err
		}
		if !ok || mt.After(mtime) {
			name, mtime, ok = entry.Name(), mt, true
		}
	}
	return name, mtime, ok, nil
}
