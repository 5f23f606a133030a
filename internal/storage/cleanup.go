package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TempFilePrefix is the prefix used for resolvarr media temp files.
const TempFilePrefix = "resolvarr-media-"

// DefaultSweepAge is the default maximum age for orphaned temp files.
const DefaultSweepAge = 1 * time.Hour

// SweepOrphanedTemp removes temp files left behind by a previous run. It
// scans baseDir for entries matching TempFilePrefix older than maxAge.
//
// Returns the number of entries removed and any error encountered.
func SweepOrphanedTemp(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping sweep",
			"path", baseDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read directory for sweep",
			"path", baseDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), TempFilePrefix) {
			continue
		}

		entryPath := filepath.Join(baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to stat temp entry",
				"path", entryPath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp entry",
				"path", entryPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(entryPath); err != nil {
			logger.Warn("failed to remove orphaned temp entry",
				"path", entryPath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned temp entry",
			"path", entryPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// SweepSystemTemp sweeps orphaned resolvarr temp files from the system temp
// directory using the default sweep age.
func SweepSystemTemp(logger *slog.Logger) (int, error) {
	return SweepOrphanedTemp(logger, os.TempDir(), DefaultSweepAge)
}
