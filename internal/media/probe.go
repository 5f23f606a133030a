package media

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/resolvarr/resolvarr/internal/config"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

const bytesPerMB = 1024 * 1024

// ProbeResult is the outcome of a size pre-probe.
type ProbeResult struct {
	SizeMB     float64
	SizeBytes  int64
	SizeKnown  bool
	StatusCode int
}

// Prober measures remote media sizes without downloading the body.
type Prober struct {
	client *httpclient.Client
	logger *slog.Logger
}

// NewProber creates a size prober backed by the given client.
func NewProber(client *httpclient.Client, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: client, logger: logger}
}

// ProbeSize determines the size of the resource at url. HEAD is tried
// first; origins that reject HEAD or omit Content-Length get a
// `Range: bytes=0-0` GET whose Content-Range total is parsed instead.
// The last observed status code is always returned so callers can record
// access denials.
func (p *Prober) ProbeSize(ctx context.Context, url string, headers map[string]string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, config.DefaultSizeCheckTimeout)
	defer cancel()

	result := ProbeResult{}

	resp, err := p.client.Head(ctx, url, headers)
	if err == nil {
		result.StatusCode = resp.StatusCode
		length := resp.ContentLength
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && length > 0 {
			result.SizeMB = float64(length) / bytesPerMB
			result.SizeBytes = length
			result.SizeKnown = true
			return result
		}
	} else {
		p.logger.Debug("head probe failed, falling back to ranged get",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}

	rangeHeaders := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		rangeHeaders[k] = v
	}
	rangeHeaders["Range"] = "bytes=0-0"

	resp, err = p.client.GetWithHeaders(ctx, url, rangeHeaders)
	if err != nil {
		p.logger.Debug("ranged size probe failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
		return result
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode

	if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
		result.SizeMB = float64(total) / bytesPerMB
		result.SizeBytes = total
		result.SizeKnown = true
		return result
	}

	// A 200 to a ranged request means the origin ignored the Range header
	// and Content-Length is the full size.
	if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
		result.SizeMB = float64(resp.ContentLength) / bytesPerMB
		result.SizeBytes = resp.ContentLength
		result.SizeKnown = true
	}
	return result
}

// parseContentRangeTotal extracts the total length from a Content-Range
// header such as "bytes 0-0/1048576". A total of "*" is unknown.
func parseContentRangeTotal(header string) (int64, bool) {
	if header == "" {
		return 0, false
	}
	idx := strings.LastIndexByte(header, '/')
	if idx < 0 {
		return 0, false
	}
	totalStr := strings.TrimSpace(header[idx+1:])
	if totalStr == "" || totalStr == "*" {
		return 0, false
	}
	total, err := strconv.ParseInt(totalStr, 10, 64)
	if err != nil || total <= 0 {
		return 0, false
	}
	return total, true
}
