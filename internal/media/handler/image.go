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

// supportedImageExts are the formats downstream consumers accept without
// conversion.
var supportedImageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// ImageHandler streams an image to a temp file and either keeps it as temp
// output or promotes it into the cache, normalizing exotic formats to PNG
// via the transcoder. The initial temp file never outlives the call: it is
// promoted, renamed, or unlinked on every exit path.
type ImageHandler struct {
	cacheDir string
	ffmpeg   Converter
	logger   *slog.Logger
}

// NewImageHandler creates an ImageHandler promoting into cacheDir.
func NewImageHandler(cacheDir string, ffmpeg Converter, logger *slog.Logger) *ImageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageHandler{cacheDir: cacheDir, ffmpeg: ffmpeg, logger: logger}
}

// Download fetches rawURL. With toCache the file is promoted to
// <media-id>_<index>.<ext>; otherwise it stays a temp file whose final name
// carries the detected extension.
func (h *ImageHandler) Download(ctx context.Context, client *httpclient.Client, rawURL string, item media.Item, toCache bool, resources *storage.ResourceManager) media.DownloadResult {
	ctx, cancel := context.WithTimeout(ctx, config.DefaultImageDownloadTimeout)
	defer cancel()

	resp, err := client.GetWithHeaders(ctx, rawURL, item.Headers)
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("fetching image: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return media.DownloadResult{Err: fmt.Errorf("fetching image: status 403: %w", media.ErrAccessDenied)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return media.DownloadResult{Err: fmt.Errorf("fetching image: unexpected status %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp("", storage.TempFilePrefix+"*")
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	resources.TrackTemp(tmpPath)

	_, err = io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		resources.Remove(tmpPath)
		if err == nil {
			err = closeErr
		}
		return media.DownloadResult{Err: fmt.Errorf("streaming image: %w", err)}
	}

	// Magic number beats the Content-Type header beats the URL extension.
	ext, ok := storage.SniffImageExt(tmpPath)
	if !ok {
		ext = storage.ImageSuffix(resp.Header.Get("Content-Type"), rawURL)
	}

	if !toCache {
		return h.keepAsTemp(ctx, tmpPath, ext, resources)
	}
	return h.promote(ctx, tmpPath, ext, item, resources)
}

// keepAsTemp renames the download so its name carries the detected
// extension, normalizes unsupported formats to PNG, and leaves the result
// tracked as a temp file.
func (h *ImageHandler) keepAsTemp(ctx context.Context, tmpPath, ext string, resources *storage.ResourceManager) media.DownloadResult {
	finalPath := tmpPath + ext
	if err := os.Rename(tmpPath, finalPath); err != nil {
		resources.Remove(tmpPath)
		return media.DownloadResult{Err: fmt.Errorf("renaming temp image: %w", err)}
	}
	resources.Untrack(tmpPath)
	resources.TrackTemp(finalPath)

	finalPath = h.normalize(ctx, finalPath, ext, tmpPath+".png", false, resources)
	return h.result(finalPath)
}

// promote moves the download into the cache and normalizes unsupported
// formats to PNG.
func (h *ImageHandler) promote(ctx context.Context, tmpPath, ext string, item media.Item, resources *storage.ResourceManager) media.DownloadResult {
	cachePath := storage.CacheFilePath(h.cacheDir, item.MediaID, item.Index, ext)
	if err := moveFile(tmpPath, cachePath); err != nil {
		resources.Remove(tmpPath)
		return media.DownloadResult{Err: fmt.Errorf("promoting image into cache: %w", err)}
	}
	resources.Promote(tmpPath, cachePath)

	pngPath := storage.CacheFilePath(h.cacheDir, item.MediaID, item.Index, ".png")
	finalPath := h.normalize(ctx, cachePath, ext, pngPath, true, resources)
	return h.result(finalPath)
}

// normalize converts srcPath to PNG at pngPath when its format is not
// consumer-supported and a transcoder is present. On success the original is
// unlinked and pngPath is tracked in its place; conversion failure keeps the
// original format.
func (h *ImageHandler) normalize(ctx context.Context, srcPath, ext, pngPath string, inCache bool, resources *storage.ResourceManager) string {
	if supportedImageExts[ext] || h.ffmpeg == nil || !h.ffmpeg.Available() {
		return srcPath
	}
	if err := h.ffmpeg.ConvertToPNG(ctx, srcPath, pngPath); err != nil {
		h.logger.Warn("image conversion failed, keeping original format",
			slog.String("path", srcPath),
			slog.String("error", err.Error()),
		)
		os.Remove(pngPath)
		return srcPath
	}
	resources.Remove(srcPath)
	if inCache {
		resources.TrackCache(pngPath)
	} else {
		resources.TrackTemp(pngPath)
	}
	return pngPath
}

func (h *ImageHandler) result(path string) media.DownloadResult {
	info, err := os.Stat(path)
	if err != nil {
		return media.DownloadResult{Err: fmt.Errorf("stat image: %w", err)}
	}
	return media.DownloadResult{
		Success:   true,
		FilePath:  path,
		SizeMB:    float64(info.Size()) / bytesPerMB,
		SizeKnown: true,
	}
}

// moveFile renames src to dst, copying when they sit on different
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
