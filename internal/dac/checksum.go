package dac

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"
	"time"

	"gliderdac/internal/fs"
)

// isSidecar reports whether name is a file the pipeline keeps beside the
// data. Sidecars are never part of a deployment fingerprint.
func isSidecar(name string) bool {
	switch name {
	case MetadataFile, WMOIDFile, CompletedFile:
		return true
	}
	return strings.HasSuffix(name, HashSuffix)
}

// Checksum fingerprints the data files under dir from their modification
// times. It is a cheap change detector, not an integrity check: file content
// is never read. Files are visited in lexical order so the digest is stable
// while the directory is unchanged. A missing or empty directory yields the
// digest of no input.
func Checksum(dir, dataExt string) (string, error) {
	h := md5.New()

	err := walkDataFiles(dir, dataExt, func(p, _ string, d iofs.DirEntry) error {
		mtime, err := fs.ModTime(p, d)
		if err != nil {
			return err
		}
		h.Write([]byte(isoTimestamp(mtime)))
		return nil
	})
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// DataFiles returns the paths, relative to dir, of the data files a
// checksum of dir covers, in lexical order.
func DataFiles(dir, dataExt string) ([]string, error) {
	var files []string
	err := walkDataFiles(dir, dataExt, func(_, rel string, _ iofs.DirEntry) error {
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// walkDataFiles calls fn for every data file below dir, skipping sidecars
// and files without the data extension. A missing dir has no data files.
func walkDataFiles(dir, dataExt string, fn func(path, rel string, d iofs.DirEntry) error) error {
	err := filepath.WalkDir(dir, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, iofs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("calculating relative path: %w", err)
		}
		if isSidecar(d.Name()) || !strings.HasSuffix(d.Name(), dataExt) {
			return nil
		}
		return fn(p, rel, d)
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", dir, err)
	}
	return nil
}

// isoTimestamp renders t in UTC as ISO-8601 without an offset. Microseconds
// are appended only when non-zero.
func isoTimestamp(t time.Time) string {
	t = t.UTC()
	s := t.Format("2006-01-02T15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s
}
