package media

import "strings"

// Kind classifies a media URL for handler dispatch.
type Kind string

const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
	KindHLS   Kind = "m3u8"
)

// HLSHintPrefix marks a URL as an HLS stream regardless of its extension.
// Parsers prepend it when they know a URL is a stream (some origins serve
// m3u8 from extensionless play endpoints). It is a routing hint, never part
// of the URL: anything issuing a request or emitting the URL downstream
// strips it first.
const HLSHintPrefix = "m3u8:"

// StripHLSHint removes the HLS hint prefix, if present.
func StripHLSHint(rawURL string) (string, bool) {
	if strings.HasPrefix(rawURL, HLSHintPrefix) {
		return rawURL[len(HLSHintPrefix):], true
	}
	return rawURL, false
}

// PostRecord is the normalized output of a platform parser. URL groups are
// ordered lists of equivalent URLs: the first element is the primary, the
// rest are CDN mirrors or resolution substitutes tried in order.
type PostRecord struct {
	URL         string `json:"url"`
	SourceURL   string `json:"source_url"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"desc"`
	Timestamp   int64  `json:"timestamp"`

	VideoURLGroups [][]string `json:"video_urls"`
	ImageURLGroups [][]string `json:"image_urls"`

	VideoHeaders map[string]string `json:"video_headers,omitempty"`
	ImageHeaders map[string]string `json:"image_headers,omitempty"`

	// ForceDownloadVideo requests that videos never be emitted as direct
	// URLs. If no download path is available the video is omitted.
	ForceDownloadVideo bool `json:"force_download_video,omitempty"`

	ProxyURL      string `json:"proxy_url,omitempty"`
	UseImageProxy bool   `json:"use_image_proxy,omitempty"`
	UseVideoProxy bool   `json:"use_video_proxy,omitempty"`

	// Error carries a parse failure; a record with Error set has empty URL
	// groups and no media.
	Error string `json:"error,omitempty"`
}

// HasMedia reports whether the record carries any URL group.
func (r *PostRecord) HasMedia() bool {
	return len(r.VideoURLGroups) > 0 || len(r.ImageURLGroups) > 0
}

// ProcessedPost is a PostRecord after media routing: direct URLs and/or
// local file paths plus size statistics and failure flags.
//
// FilePaths is positional: one slot per URL group, video groups first, then
// image groups. An empty string marks a group with no local file (direct
// URL, skipped, or failed). FilePaths is empty when processing was aborted
// before any routing decision.
type ProcessedPost struct {
	PostRecord

	FilePaths []string `json:"file_paths"`

	// VideoSizesMB has one entry per video group; nil when the size was
	// never measured.
	VideoSizesMB     []*float64 `json:"video_sizes"`
	MaxVideoSizeMB   float64    `json:"max_video_size_mb"`
	TotalVideoSizeMB float64    `json:"total_video_size_mb"`

	VideoCount       int `json:"video_count"`
	ImageCount       int `json:"image_count"`
	FailedVideoCount int `json:"failed_video_count"`
	FailedImageCount int `json:"failed_image_count"`

	HasValidMedia   bool `json:"has_valid_media"`
	ExceedsMaxSize  bool `json:"exceeds_max_size"`
	UseLocalFiles   bool `json:"use_local_files"`
	IsLargeMedia    bool `json:"is_large_media"`
	HasAccessDenied bool `json:"has_access_denied"`
}

// Item is one logical media download: a URL group with its identity and
// request context. Created by the download manager, consumed by a handler.
type Item struct {
	// URLs is the fallback chain; never empty.
	URLs []string

	// MediaID is stable per primary URL so repeated downloads reuse the
	// same cache filename prefix.
	MediaID string

	// Index is the positional slot within the post (videos then images).
	Index int

	Kind    Kind
	Headers map[string]string
	Referer string

	// ProxyURL routes this item's requests through a proxy when set.
	ProxyURL string
}

// DownloadResult is the outcome of fetching one Item.
type DownloadResult struct {
	Success  bool
	FilePath string

	// SizeMB is the size of the produced file; valid only when SizeKnown.
	SizeMB    float64
	SizeKnown bool

	// URLIndex is the position in Item.URLs that succeeded.
	URLIndex int

	// Err is set on failure; wraps ErrAccessDenied when a 403 was seen and
	// every URL in the group failed.
	Err error
}
