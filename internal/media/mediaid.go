package media

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
)

var numericPathSegment = regexp.MustCompile(`/(\d+)`)

// MediaID derives a stable identifier for a media URL: the first numeric
// path segment when one exists, otherwise an 8-character hash prefix.
// Stability matters because cache filenames are keyed by it.
func MediaID(rawURL string) string {
	if m := numericPathSegment.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	sum := md5.Sum([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:8]
}
