package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/resolvarr/resolvarr/internal/config"
	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/storage"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

const (
	segmentConcurrency = 10
	segmentAttempts    = 3
)

// HLSHandler resolves an m3u8 URL to a single playable file in the cache.
// Segments are fetched concurrently, concatenated, and remuxed to MP4 when
// ffmpeg is available; otherwise the TS concat is the output.
type HLSHandler struct {
	cacheDir string
	ffmpeg   Converter
	logger   *slog.Logger
}

// NewHLSHandler creates an HLSHandler writing into cacheDir.
func NewHLSHandler(cacheDir string, ffmpeg Converter, logger *slog.Logger) *HLSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HLSHandler{cacheDir: cacheDir, ffmpeg: ffmpeg, logger: logger}
}

// Download fetches the playlist at rawURL and produces one concatenated
// file. If any segment fails after its retries the whole item fails and
// nothing is left behind.
func (h *HLSHandler) Download(ctx context.Context, client *httpclient.Client, rawURL string, item media.Item, resources *storage.ResourceManager) media.DownloadResult {
	ctx, cancel := context.WithTimeout(ctx, config.DefaultVideoDownloadTimeout)
	defer cancel()

	mediaPl, baseURL, err := h.resolveMediaPlaylist(ctx, client, rawURL, item.Headers)
	if err != nil {
		return media.DownloadResult{Err: err}
	}
	if len(mediaPl.Segments) == 0 {
		return media.DownloadResult{Err: fmt.Errorf("playlist has no segments: %s", rawURL)}
	}

	segments, err := h.fetchSegments(ctx, client, mediaPl, baseURL, item.Headers)
	if err != nil {
		return media.DownloadResult{Err: err}
	}

	return h.assemble(ctx, segments, item, resources)
}

// resolveMediaPlaylist fetches rawURL and, for a multivariant playlist,
// follows the highest-bandwidth variant to its media playlist.
func (h *HLSHandler) resolveMediaPlaylist(ctx context.Context, client *httpclient.Client, rawURL string, headers map[string]string) (*playlist.Media, string, error) {
	data, err := h.fetchBytes(ctx, client, rawURL, headers)
	if err != nil {
		return nil, "", fmt.Errorf("fetching playlist: %w", err)
	}

	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing playlist: %w", err)
	}

	switch p := pl.(type) {
	case *playlist.Media:
		return p, rawURL, nil

	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return nil, "", fmt.Errorf("multivariant playlist has no variants: %s", rawURL)
		}
		variants := make([]*playlist.MultivariantVariant, len(p.Variants))
		copy(variants, p.Variants)
		sort.Slice(variants, func(i, j int) bool {
			return variants[i].Bandwidth > variants[j].Bandwidth
		})

		variantURL := absolutizeURL(rawURL, variants[0].URI)
		h.logger.Debug("following highest-bandwidth variant",
			slog.String("playlist", rawURL),
			slog.String("variant", variantURL),
			slog.Int("bandwidth", variants[0].Bandwidth),
		)

		variantData, err := h.fetchBytes(ctx, client, variantURL, headers)
		if err != nil {
			return nil, "", fmt.Errorf("fetching variant playlist: %w", err)
		}
		variantPl, err := playlist.Unmarshal(variantData)
		if err != nil {
			return nil, "", fmt.Errorf("parsing variant playlist: %w", err)
		}
		mediaPl, ok := variantPl.(*playlist.Media)
		if !ok {
			return nil, "", fmt.Errorf("variant did not resolve to a media playlist: %s", variantURL)
		}
		return mediaPl, variantURL, nil

	default:
		return nil, "", fmt.Errorf("unknown playlist type for %s", rawURL)
	}
}

// fetchSegments downloads every segment concurrently with bounded
// parallelism and a small per-segment retry, preserving playlist order.
func (h *HLSHandler) fetchSegments(ctx context.Context, client *httpclient.Client, mediaPl *playlist.Media, baseURL string, headers map[string]string) ([][]byte, error) {
	segments := make([][]byte, len(mediaPl.Segments))

	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(segmentConcurrency)

	for i, seg := range mediaPl.Segments {
		segURL := absolutizeURL(baseURL, seg.URI)
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			var lastErr error
			for attempt := 0; attempt < segmentAttempts; attempt++ {
				data, err := h.fetchBytes(ctx, client, segURL, headers)
				if err == nil {
					segments[i] = data
					return nil
				}
				lastErr = err
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			return fmt.Errorf("segment %d (%s): %w", i, segURL, lastErr)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("downloading segments: %w", err)
	}
	return segments, nil
}

// assemble concatenates segments into the cache, remuxing to MP4 when the
// transcoder is present.
func (h *HLSHandler) assemble(ctx context.Context, segments [][]byte, item media.Item, resources *storage.ResourceManager) media.DownloadResult {
	tmp, err := os.CreateTemp(h.cacheDir, storage.TempFilePrefix+"*")
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpPath := tmp.Name()

	for i, data := range segments {
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return media.DownloadResult{Err: fmt.Errorf("writing segment %d: %w", i, err)}
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return media.DownloadResult{Err: fmt.Errorf("closing concat file: %w", err)}
	}

	tsPath := storage.CacheFilePath(h.cacheDir, item.MediaID, item.Index, ".ts")
	if err := os.Rename(tmpPath, tsPath); err != nil {
		os.Remove(tmpPath)
		return media.DownloadResult{Err: fmt.Errorf("moving concat into cache: %w", err)}
	}
	resources.TrackCache(tsPath)

	finalPath := tsPath
	if h.ffmpeg != nil && h.ffmpeg.Available() {
		mp4Path := storage.CacheFilePath(h.cacheDir, item.MediaID, item.Index, ".mp4")
		if err := h.ffmpeg.RemuxToMP4(ctx, tsPath, mp4Path); err != nil {
			h.logger.Warn("remux to mp4 failed, keeping ts concat",
				slog.String("path", tsPath),
				slog.String("error", err.Error()),
			)
			os.Remove(mp4Path)
		} else {
			resources.Remove(tsPath)
			resources.TrackCache(mp4Path)
			finalPath = mp4Path
		}
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("stat assembled file: %w", err)}
	}
	return media.DownloadResult{
		Success:   true,
		FilePath:  finalPath,
		SizeMB:    float64(info.Size()) / bytesPerMB,
		SizeKnown: true,
	}
}

// fetchBytes GETs a URL and returns the body, mapping 403 to the access
// denied kind.
func (h *HLSHandler) fetchBytes(ctx context.Context, client *httpclient.Client, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := client.GetWithHeaders(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("status 403: %w", media.ErrAccessDenied)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// absolutizeURL resolves a segment or variant URI against its playlist URL.
func absolutizeURL(playlistURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + ref
		}
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
