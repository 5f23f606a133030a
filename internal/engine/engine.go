// Package engine assembles the resolver and media layers into the link
// resolution pipeline: trigger gate, text parse, per-post media routing, and
// per-post resource ownership.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/resolvarr/resolvarr/internal/config"
	"github.com/resolvarr/resolvarr/internal/ffmpeg"
	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/media/handler"
	"github.com/resolvarr/resolvarr/internal/observability"
	"github.com/resolvarr/resolvarr/internal/platform"
	"github.com/resolvarr/resolvarr/internal/resolver"
	"github.com/resolvarr/resolvarr/internal/storage"
	"github.com/resolvarr/resolvarr/internal/version"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

// Result is one resolved link: the processed post plus the resource manager
// owning every file the post produced. The consumer releases the files with
// Resources.CleanupAll once the post has been delivered.
type Result struct {
	Post      *media.ProcessedPost
	Resources *storage.ResourceManager
}

// Release removes every file the result still owns.
func (r *Result) Release() int {
	if r.Resources == nil {
		return 0
	}
	return r.Resources.CleanupAll()
}

// Engine is the resolution pipeline. Construct once per process with New
// and share across requests; Resolve is safe for concurrent use.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	parsers *resolver.Manager
	dlman   *media.Manager

	cacheAvailable bool
}

// New builds the engine: probes the cache dir, sweeps temp leftovers from
// previous runs, and wires the parser registry and download pipeline.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Logger = observability.WithComponent(logger, "httpclient")
	clientCfg.UserAgent = version.UserAgent()
	client, err := httpclient.New(clientCfg)
	if err != nil {
		return nil, err
	}

	cacheAvailable := true
	if err := storage.CheckCacheDir(cfg.Download.CacheDir); err != nil {
		if !errors.Is(err, storage.ErrCacheUnavailable) {
			return nil, err
		}
		logger.Warn("cache directory not writable, operating in url-only mode",
			slog.String("cache_dir", cfg.Download.CacheDir),
			slog.String("error", err.Error()),
		)
		cacheAvailable = false
	}

	sweepLogger := observability.WithComponent(logger, "startup")
	if cacheAvailable {
		if _, err := storage.SweepOrphanedTemp(sweepLogger, cfg.Download.CacheDir, storage.DefaultSweepAge); err != nil {
			logger.Warn("cache sweep failed", slog.String("error", err.Error()))
		}
	}
	if _, err := storage.SweepSystemTemp(sweepLogger); err != nil {
		logger.Warn("temp sweep failed", slog.String("error", err.Error()))
	}

	registry := resolver.NewRegistry()
	platform.RegisterAll(registry)
	parsers := registry.Build(cfg.Parsers, resolver.Options{
		Client:               client,
		Logger:               observability.WithComponent(logger, "parser"),
		TwitterUseImageProxy: cfg.TwitterProxy.UseImageProxy,
		TwitterUseVideoProxy: cfg.TwitterProxy.UseVideoProxy,
		TwitterProxyURL:      cfg.TwitterProxy.ProxyURL,
	}, logger)

	router := handler.NewRouter(handler.Config{
		CacheDir: cfg.Download.CacheDir,
		Client:   client,
		FFmpeg:   ffmpeg.NewRunner(observability.WithComponent(logger, "ffmpeg")),
		Logger:   observability.WithComponent(logger, "download"),
	})

	dlman := media.NewManager(media.Options{
		MaxMediaSizeMB:   cfg.MediaSize.MaxMediaSizeMB,
		LargeThresholdMB: cfg.MediaSize.LargeThreshold(),
		PreDownloadAll:   cfg.Download.PreDownloadAllMedia,
		CacheAvailable:   cacheAvailable,
		MaxConcurrent:    int64(cfg.Download.MaxConcurrentDownloads),
	}, media.NewProber(client, logger), router, observability.WithComponent(logger, "media"))

	return &Engine{
		cfg:            cfg,
		logger:         logger,
		parsers:        parsers,
		dlman:          dlman,
		cacheAvailable: cacheAvailable,
	}, nil
}

// NewWithParsers is New with an externally built parser manager and download
// manager, for tests and embedders that wire their own stack.
func NewWithParsers(cfg *config.Config, parsers *resolver.Manager, dlman *media.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger, parsers: parsers, dlman: dlman}
}

// CacheAvailable reports the startup cache probe verdict.
func (e *Engine) CacheAvailable() bool { return e.cacheAvailable }

// ParserNames returns the active parsers in dispatch order.
func (e *Engine) ParserNames() []string { return e.parsers.ParserNames() }

// ShouldParse is the trigger gate: with auto-parse on every text is
// scanned; otherwise one of the configured keywords must appear.
func (e *Engine) ShouldParse(text string) bool {
	if e.cfg.Trigger.AutoParse {
		return true
	}
	for _, kw := range e.cfg.Trigger.Keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Resolve scans text for platform links, parses each and routes its media.
// Results come back in discovery order. Each result owns its files through
// its own resource manager; the caller releases them per post. A text that
// fails the trigger gate resolves to nothing.
func (e *Engine) Resolve(ctx context.Context, text string) []*Result {
	if !e.ShouldParse(text) {
		return nil
	}

	sessionID := uuid.NewString()
	logger := observability.WithSessionID(e.logger, sessionID)
	ctx = observability.ContextWithSessionID(ctx, sessionID)

	records := e.parsers.ParseText(ctx, text)
	if len(records) == 0 {
		return nil
	}
	logger.Info("resolving links", slog.Int("count", len(records)))

	results := make([]*Result, len(records))
	for i, rec := range records {
		resources := storage.NewResourceManager(logger)
		results[i] = &Result{
			Post:      e.dlman.Process(ctx, rec, resources),
			Resources: resources,
		}
	}
	return results
}

// ResolveURL parses and processes a single URL, bypassing link discovery.
// A URL no parser claims returns (nil, nil).
func (e *Engine) ResolveURL(ctx context.Context, rawURL string) (*Result, error) {
	sessionID := uuid.NewString()
	logger := observability.WithSessionID(e.logger, sessionID)
	ctx = observability.ContextWithSessionID(ctx, sessionID)

	rec, err := e.parsers.ParseURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	resources := storage.NewResourceManager(logger)
	return &Result{
		Post:      e.dlman.Process(ctx, rec, resources),
		Resources: resources,
	}, nil
}
