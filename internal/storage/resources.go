package storage

import (
	"log/slog"
	"os"
	"sync"
)

// ResourceManager tracks the files produced while processing a single post
// and deletes them when the consumer is done. Temp and cache files are held
// in disjoint sets; registering a path in one set removes it from the other,
// so a promoted temp file is never double-tracked.
type ResourceManager struct {
	mu         sync.Mutex
	tempFiles  map[string]struct{}
	cacheFiles map[string]struct{}
	logger     *slog.Logger
}

// NewResourceManager creates an empty ResourceManager.
func NewResourceManager(logger *slog.Logger) *ResourceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceManager{
		tempFiles:  make(map[string]struct{}),
		cacheFiles: make(map[string]struct{}),
		logger:     logger,
	}
}

// TrackTemp registers a temp file for cleanup.
func (rm *ResourceManager) TrackTemp(path string) {
	if path == "" {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.cacheFiles, path)
	rm.tempFiles[path] = struct{}{}
}

// TrackCache registers a cache file for cleanup.
func (rm *ResourceManager) TrackCache(path string) {
	if path == "" {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.tempFiles, path)
	rm.cacheFiles[path] = struct{}{}
}

// Promote moves tracking of a file from the temp set to the cache set under
// its new path. The old temp path is forgotten.
func (rm *ResourceManager) Promote(tempPath, cachePath string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.tempFiles, tempPath)
	if cachePath != "" {
		rm.cacheFiles[cachePath] = struct{}{}
	}
}

// Untrack forgets a path without deleting it. Used when ownership of a file
// is handed to the consumer.
func (rm *ResourceManager) Untrack(path string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.tempFiles, path)
	delete(rm.cacheFiles, path)
}

// Remove deletes a tracked file immediately and forgets it.
func (rm *ResourceManager) Remove(path string) {
	rm.mu.Lock()
	_, tracked := rm.tempFiles[path]
	if !tracked {
		_, tracked = rm.cacheFiles[path]
	}
	delete(rm.tempFiles, path)
	delete(rm.cacheFiles, path)
	rm.mu.Unlock()

	if tracked {
		rm.unlink(path)
	}
}

// CleanupAll deletes every tracked file and empties both sets. It is
// idempotent: a second call is a no-op returning 0. Unlink failures are
// logged and do not stop the sweep.
func (rm *ResourceManager) CleanupAll() int {
	rm.mu.Lock()
	paths := make([]string, 0, len(rm.tempFiles)+len(rm.cacheFiles))
	for p := range rm.tempFiles {
		paths = append(paths, p)
	}
	for p := range rm.cacheFiles {
		paths = append(paths, p)
	}
	rm.tempFiles = make(map[string]struct{})
	rm.cacheFiles = make(map[string]struct{})
	rm.mu.Unlock()

	var removed int
	for _, p := range paths {
		if rm.unlink(p) {
			removed++
		}
	}
	return removed
}

// Stats returns the number of tracked temp and cache files.
func (rm *ResourceManager) Stats() (tempCount, cacheCount int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.tempFiles), len(rm.cacheFiles)
}

func (rm *ResourceManager) unlink(path string) bool {
	err := os.Remove(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	rm.logger.Warn("failed to remove tracked file",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	return false
}
