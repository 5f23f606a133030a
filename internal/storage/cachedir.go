// Package storage provides cache and temp file lifecycle management for
// downloaded media.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ErrCacheUnavailable indicates the cache directory cannot be created or
// written to. Callers fall back to temp-file handling when they see it.
var ErrCacheUnavailable = errors.New("cache directory is not writable")

// probeFileName is written and removed to verify the cache dir is writable.
const probeFileName = ".test_write"

// CheckCacheDir ensures dir exists and is writable by creating it and
// round-tripping a probe file. The probe is removed on success.
func CheckCacheDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrCacheUnavailable, dir, err)
	}

	probe := filepath.Join(dir, probeFileName)
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("%w: writing probe in %s: %v", ErrCacheUnavailable, dir, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("%w: removing probe in %s: %v", ErrCacheUnavailable, dir, err)
	}
	return nil
}

// CacheFilePath returns the canonical cache path for a media item:
// <dir>/<mediaID>_<index><ext>. ext must include the leading dot.
func CacheFilePath(dir, mediaID string, index int, ext string) string {
	return filepath.Join(dir, mediaID+"_"+strconv.Itoa(index)+ext)
}
