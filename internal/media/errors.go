// Package media routes parsed media URL groups to download handlers and
// assembles processed post records under the configured size policy.
package media

import (
	"errors"

	"github.com/resolvarr/resolvarr/internal/storage"
)

// Error kinds surfaced by media processing. Callers match with errors.Is.
var (
	// ErrSizeExceeded marks a video strictly larger than the hard ceiling.
	ErrSizeExceeded = errors.New("media exceeds max size ceiling")

	// ErrAccessDenied marks a group whose URLs all failed with at least one
	// HTTP 403 among the attempts.
	ErrAccessDenied = errors.New("access denied by origin")

	// ErrAllURLsFailed marks a URL group where every fallback failed.
	ErrAllURLsFailed = errors.New("all urls in group failed")

	// ErrCacheUnavailable mirrors the storage probe failure.
	ErrCacheUnavailable = storage.ErrCacheUnavailable
)
