package storage

import (
	"image"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	// Registered so SniffImageExt can identify the formats we cache.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Extension sets recognized when classifying by URL.
var (
	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".bmp": true, ".svg": true,
	}
	videoExts = map[string]bool{
		".mp4": true, ".mkv": true, ".mov": true, ".avi": true,
		".flv": true, ".f4v": true, ".webm": true, ".wmv": true,
		".m4v": true, ".3gp": true, ".ts": true,
	}
)

var contentTypeExts = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/bmp":        ".bmp",
	"image/svg+xml":    ".svg",
	"video/mp4":        ".mp4",
	"video/webm":       ".webm",
	"video/quicktime":  ".mov",
	"video/x-matroska": ".mkv",
	"video/mp2t":       ".ts",
	"video/x-flv":      ".flv",
}

// ExtFromURL returns the lowercased extension of the URL path, or "".
// Query and fragment are ignored.
func ExtFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(path.Ext(rawURL))
	}
	return strings.ToLower(path.Ext(u.Path))
}

// ImageSuffix picks a file extension for an image download, preferring the
// Content-Type header over the URL extension. Defaults to ".jpg".
func ImageSuffix(contentType, rawURL string) string {
	if ext := extFromContentType(contentType); ext != "" && imageExts[ext] {
		return ext
	}
	if ext := ExtFromURL(rawURL); imageExts[ext] {
		return ext
	}
	return ".jpg"
}

// VideoSuffix picks a file extension for a video download, preferring the
// Content-Type header over the URL extension. Defaults to ".mp4".
func VideoSuffix(contentType, rawURL string) string {
	if ext := extFromContentType(contentType); ext != "" && videoExts[ext] {
		return ext
	}
	if ext := ExtFromURL(rawURL); videoExts[ext] {
		return ext
	}
	return ".mp4"
}

func extFromContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return contentTypeExts[mediaType]
}

// SniffImageExt identifies an image file by decoding its header bytes and
// returns the matching extension. CDN responses frequently lie in both URL
// and Content-Type, so the magic number wins when it is readable.
func SniffImageExt(filePath string) (string, bool) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", false
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", false
	}

	switch format {
	case "jpeg":
		return ".jpg", true
	case "png", "gif", "webp", "bmp":
		return "." + format, true
	default:
		return "", false
	}
}
