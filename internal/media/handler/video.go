package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/resolvarr/resolvarr/internal/config"
	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/storage"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

const (
	chunkSize   = 2 * 1024 * 1024
	bytesPerMB  = 1024 * 1024
	rangeWorker = 64
)

// VideoHandler downloads a single video file into the cache. Large files
// with a known size go through the range-parallel path; everything else,
// and every range failure, falls back to a plain streaming GET.
type VideoHandler struct {
	cacheDir string
	logger   *slog.Logger
	ranged   *rangeDownloader
}

// NewVideoHandler creates a VideoHandler writing into cacheDir.
func NewVideoHandler(cacheDir string, logger *slog.Logger) *VideoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoHandler{
		cacheDir: cacheDir,
		logger:   logger,
		ranged:   newRangeDownloader(chunkSize, rangeWorker, logger),
	}
}

// Download fetches rawURL into the cache as <media-id>_<index>.<ext>.
func (h *VideoHandler) Download(ctx context.Context, client *httpclient.Client, rawURL string, item media.Item, resources *storage.ResourceManager) media.DownloadResult {
	ctx, cancel := context.WithTimeout(ctx, config.DefaultVideoDownloadTimeout)
	defer cancel()

	probe := media.NewProber(client, h.logger).ProbeSize(ctx, rawURL, item.Headers)
	if probe.SizeKnown && probe.SizeBytes > chunkSize {
		res, ok := h.downloadRanged(ctx, client, rawURL, item, probe.SizeBytes, resources)
		if ok {
			return res
		}
		h.logger.Debug("range download failed, falling back to plain stream",
			slog.String("url", rawURL),
			slog.String("media_id", item.MediaID),
		)
	}

	return h.downloadPlain(ctx, client, rawURL, item, resources)
}

// downloadRanged runs the range-parallel path. ok=false means the caller
// should fall back to the plain streamer; no partial file remains.
func (h *VideoHandler) downloadRanged(ctx context.Context, client *httpclient.Client, rawURL string, item media.Item, totalBytes int64, resources *storage.ResourceManager) (media.DownloadResult, bool) {
	tmp, err := os.CreateTemp(h.cacheDir, storage.TempFilePrefix+"*")
	if err != nil {
		return media.DownloadResult{}, false
	}
	tmpPath := tmp.Name()

	contentType, err := h.ranged.fetchToFile(ctx, client, rawURL, item.Headers, totalBytes, tmp)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		return media.DownloadResult{}, false
	}

	res, finErr := h.finalize(tmpPath, contentType, rawURL, item, resources)
	if finErr != nil {
		os.Remove(tmpPath)
		return media.DownloadResult{}, false
	}
	return res, true
}

// downloadPlain streams rawURL into the cache with a single GET.
func (h *VideoHandler) downloadPlain(ctx context.Context, client *httpclient.Client, rawURL string, item media.Item, resources *storage.ResourceManager) media.DownloadResult {
	resp, err := client.GetWithHeaders(ctx, rawURL, item.Headers)
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("fetching video: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return media.DownloadResult{Err: fmt.Errorf("fetching video: status 403: %w", media.ErrAccessDenied)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return media.DownloadResult{Err: fmt.Errorf("fetching video: unexpected status %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(h.cacheDir, storage.TempFilePrefix+"*")
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpPath := tmp.Name()

	buf := make([]byte, chunkSize)
	_, err = io.CopyBuffer(tmp, resp.Body, buf)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		if err == nil {
			err = closeErr
		}
		return media.DownloadResult{Err: fmt.Errorf("streaming video: %w", err)}
	}

	res, err := h.finalize(tmpPath, resp.Header.Get("Content-Type"), rawURL, item, resources)
	if err != nil {
		os.Remove(tmpPath)
		return media.DownloadResult{Err: err}
	}
	return res
}

// finalize renames a completed temp file to its cache name and registers it.
func (h *VideoHandler) finalize(tmpPath, contentType, rawURL string, item media.Item, resources *storage.ResourceManager) (media.DownloadResult, error) {
	ext := storage.VideoSuffix(contentType, rawURL)
	finalPath := storage.CacheFilePath(h.cacheDir, item.MediaID, item.Index, ext)

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return media.DownloadResult{}, fmt.Errorf("moving video into cache: %w", err)
	}
	resources.TrackCache(finalPath)

	info, err := os.Stat(finalPath)
	if err != nil {
		return media.DownloadResult{}, fmt.Errorf("stat cached video: %w", err)
	}

	return media.DownloadResult{
		Success:   true,
		FilePath:  finalPath,
		SizeMB:    float64(info.Size()) / bytesPerMB,
		SizeKnown: true,
	}, nil
}
