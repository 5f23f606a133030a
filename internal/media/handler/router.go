// Package handler implements the download engine: media-type detection and
// the plain-stream, range-parallel, HLS and image handlers behind it.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/storage"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

var (
	imageExtPattern = `jpg|jpeg|png|gif|webp|bmp|svg`
	videoExtPattern = `mp4|mkv|mov|avi|flv|f4v|webm|wmv|m4v|3gp|ts`

	imageExtRe = regexp.MustCompile(`\.(` + imageExtPattern + `)$`)
	videoExtRe = regexp.MustCompile(`\.(` + videoExtPattern + `)$`)

	// Heuristic for CDN paths that bury the format between separators,
	// e.g. "video_mp4_720" or "thumb!jpg_small".
	imageTokenRe = regexp.MustCompile(`[._!-](` + imageExtPattern + `)(_|\d|$)`)
	videoTokenRe = regexp.MustCompile(`[._!-](` + videoExtPattern + `)(_|\d|$)`)
)

// DetectMediaType classifies a URL by its lowercased path portion. The
// result depends only on the path: query and fragment never change it.
// The media.HLSHintPrefix always wins.
func DetectMediaType(rawURL string) media.Kind {
	rawURL, hinted := media.StripHLSHint(rawURL)
	if hinted {
		return media.KindHLS
	}

	p := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = strings.ToLower(u.Path)
	}

	switch {
	case strings.Contains(p, ".m3u8"):
		return media.KindHLS
	case imageExtRe.MatchString(p):
		return media.KindImage
	case videoExtRe.MatchString(p):
		return media.KindVideo
	case imageTokenRe.MatchString(p):
		return media.KindImage
	case videoTokenRe.MatchString(p):
		return media.KindVideo
	default:
		return media.KindVideo
	}
}

// Config carries the dependencies and policy shared by all handlers.
type Config struct {
	CacheDir string
	Client   *httpclient.Client
	FFmpeg   Converter
	Logger   *slog.Logger
}

// Router dispatches media items to the right handler and walks each item's
// URL fallback chain. It implements media.Downloader.
type Router struct {
	cacheDir string
	client   *httpclient.Client
	logger   *slog.Logger

	video *VideoHandler
	hls   *HLSHandler
	image *ImageHandler

	mu           sync.Mutex
	proxyClients map[string]*httpclient.Client
}

// NewRouter wires the handler set.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cacheDir:     cfg.CacheDir,
		client:       cfg.Client,
		logger:       logger,
		video:        NewVideoHandler(cfg.CacheDir, logger),
		hls:          NewHLSHandler(cfg.CacheDir, cfg.FFmpeg, logger),
		image:        NewImageHandler(cfg.CacheDir, cfg.FFmpeg, logger),
		proxyClients: make(map[string]*httpclient.Client),
	}
}

var _ media.Downloader = (*Router)(nil)

// Download walks the item's URL chain in order and dispatches each URL to
// the handler its detected type selects. The first success wins; the group
// fails only when every URL failed. A 403 seen along a fully failed chain
// is surfaced as media.ErrAccessDenied.
func (r *Router) Download(ctx context.Context, item media.Item, toCache bool, resources *storage.ResourceManager) media.DownloadResult {
	client, err := r.clientFor(item.ProxyURL)
	if err != nil {
		return media.DownloadResult{Err: err}
	}

	var lastErr error
	sawForbidden := false

	for i, rawURL := range item.URLs {
		u, _ := media.StripHLSHint(rawURL)
		kind := DetectMediaType(rawURL)
		if item.Kind == media.KindImage {
			kind = media.KindImage
		}

		var res media.DownloadResult
		switch kind {
		case media.KindHLS:
			res = r.hls.Download(ctx, client, u, item, resources)
		case media.KindImage:
			res = r.image.Download(ctx, client, u, item, toCache, resources)
		default:
			res = r.video.Download(ctx, client, u, item, resources)
		}

		if res.Success {
			res.URLIndex = i
			return res
		}

		lastErr = res.Err
		if errors.Is(res.Err, media.ErrAccessDenied) {
			sawForbidden = true
		}
		r.logger.Debug("url attempt failed, trying next in group",
			slog.String("url", u),
			slog.Int("attempt", i),
			slog.String("media_id", item.MediaID),
			slog.String("error", errString(res.Err)),
		)
	}

	if lastErr == nil {
		lastErr = errors.New("no usable url in group")
	}
	err = fmt.Errorf("%w: %w", media.ErrAllURLsFailed, lastErr)
	if sawForbidden {
		err = fmt.Errorf("%w: %w", err, media.ErrAccessDenied)
	}
	return media.DownloadResult{Err: err}
}

// clientFor returns the shared client, or a proxy-routed one for items that
// require it. Proxy clients are built once per proxy URL.
func (r *Router) clientFor(proxyURL string) (*httpclient.Client, error) {
	if proxyURL == "" {
		return r.client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.proxyClients[proxyURL]; ok {
		return c, nil
	}

	cfg := httpclient.DefaultConfig()
	cfg.Logger = r.logger
	cfg.ProxyURL = proxyURL
	c, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("building proxy client: %w", err)
	}
	r.proxyClients[proxyURL] = c
	return c, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
