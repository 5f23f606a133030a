package media

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/resolvarr/resolvarr/internal/storage"
)

// Downloader fetches one media item. Videos and HLS streams always land in
// the cache; images land in the cache when toCache is set, otherwise in a
// temp file. Files are registered with resources as soon as they exist.
type Downloader interface {
	Download(ctx context.Context, item Item, toCache bool, resources *storage.ResourceManager) DownloadResult
}

// Options is the size and concurrency policy for a Manager.
type Options struct {
	// MaxMediaSizeMB is the hard ceiling; 0 means unlimited.
	MaxMediaSizeMB float64

	// LargeThresholdMB is the soft threshold (already clamped); videos
	// above it are downloaded to cache. 0 disables forced downloads.
	LargeThresholdMB float64

	// PreDownloadAll downloads every media item up front.
	PreDownloadAll bool

	// CacheAvailable is the startup probe verdict. When false the manager
	// never attempts cache writes for the life of the process.
	CacheAvailable bool

	// MaxConcurrent bounds parallel media downloads per request.
	MaxConcurrent int64
}

// Manager applies the size policy to a PostRecord and routes each URL group
// to a direct URL, a cache download, a temp download, or a skip.
type Manager struct {
	opts       Options
	prober     *Prober
	downloader Downloader
	logger     *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options, prober *Prober, downloader Downloader, logger *slog.Logger) *Manager {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{opts: opts, prober: prober, downloader: downloader, logger: logger}
}

// Process routes every URL group of rec and returns the processed record.
// Files created along the way are registered with resources; the caller
// owns their cleanup.
func (m *Manager) Process(ctx context.Context, rec *PostRecord, resources *storage.ResourceManager) *ProcessedPost {
	post := &ProcessedPost{
		PostRecord:   *rec,
		FilePaths:    []string{},
		VideoSizesMB: []*float64{},
	}
	if rec.Error != "" || !rec.HasMedia() {
		return post
	}

	probeOK := m.probeVideoSizes(ctx, post)

	if m.opts.MaxMediaSizeMB > 0 && post.MaxVideoSizeMB > m.opts.MaxMediaSizeMB {
		m.logger.Info("video exceeds hard ceiling, dropping post media",
			slog.Float64("max_video_size_mb", post.MaxVideoSizeMB),
			slog.Float64("ceiling_mb", m.opts.MaxMediaSizeMB),
			slog.String("url", rec.URL),
		)
		post.ExceedsMaxSize = true
		return post
	}

	if m.opts.PreDownloadAll && m.opts.CacheAvailable {
		m.processPreDownload(ctx, post, resources)
	} else {
		m.processOnDemand(ctx, post, probeOK, resources)
	}

	post.HasValidMedia = post.VideoCount+post.ImageCount > 0
	for _, p := range post.FilePaths {
		if p != "" {
			post.UseLocalFiles = true
			break
		}
	}
	return post
}

// probeVideoSizes fills VideoSizesMB, MaxVideoSizeMB and TotalVideoSizeMB
// from primary-URL probes. A 403 on a probe is recorded immediately. The
// returned slice has one entry per group: true when the probe reached the
// resource (size known, or a 2xx without a usable length).
func (m *Manager) probeVideoSizes(ctx context.Context, post *ProcessedPost) []bool {
	if len(post.VideoURLGroups) == 0 {
		return nil
	}
	ok := make([]bool, len(post.VideoURLGroups))
	post.VideoSizesMB = make([]*float64, len(post.VideoURLGroups))
	for i, group := range post.VideoURLGroups {
		if len(group) == 0 {
			continue
		}
		u, _ := StripHLSHint(group[0])
		pr := m.prober.ProbeSize(ctx, u, post.VideoHeaders)
		if pr.StatusCode == http.StatusForbidden {
			post.HasAccessDenied = true
		}
		ok[i] = pr.SizeKnown || (pr.StatusCode >= 200 && pr.StatusCode < 300)
		if !pr.SizeKnown {
			continue
		}
		size := pr.SizeMB
		post.VideoSizesMB[i] = &size
		post.TotalVideoSizeMB += size
		if size > post.MaxVideoSizeMB {
			post.MaxVideoSizeMB = size
		}
	}
	return ok
}

// processPreDownload downloads every URL group to cache, videos first. The
// hard ceiling is re-checked against actual file sizes; a violation deletes
// everything downloaded for this post.
func (m *Manager) processPreDownload(ctx context.Context, post *ProcessedPost, resources *storage.ResourceManager) {
	nVideos := len(post.VideoURLGroups)
	post.FilePaths = make([]string, nVideos+len(post.ImageURLGroups))

	videoResults := m.downloadGroups(ctx, post, post.VideoURLGroups, 0, KindVideo, true, resources)
	m.recordVideoResults(post, videoResults)

	if m.opts.MaxMediaSizeMB > 0 && post.MaxVideoSizeMB > m.opts.MaxMediaSizeMB {
		m.logger.Info("downloaded video exceeds hard ceiling, discarding post media",
			slog.Float64("max_video_size_mb", post.MaxVideoSizeMB),
			slog.Float64("ceiling_mb", m.opts.MaxMediaSizeMB),
			slog.String("url", post.URL),
		)
		resources.CleanupAll()
		post.FilePaths = []string{}
		post.ExceedsMaxSize = true
		post.VideoCount = 0
		post.FailedVideoCount = 0
		return
	}

	imageResults := m.downloadGroups(ctx, post, post.ImageURLGroups, nVideos, KindImage, true, resources)
	m.recordImageResults(post, imageResults)
}

// processOnDemand implements the default policy: videos above the soft
// threshold go to cache, images go to temp files, small videos stay direct
// URLs. force_download_video with no guaranteed download path omits the
// video entirely.
func (m *Manager) processOnDemand(ctx context.Context, post *ProcessedPost, probeOK []bool, resources *storage.ResourceManager) {
	threshold := m.opts.LargeThresholdMB
	needsDownload := threshold > 0 && post.MaxVideoSizeMB > threshold
	post.IsLargeMedia = needsDownload

	if needsDownload && m.opts.CacheAvailable {
		nVideos := len(post.VideoURLGroups)
		post.FilePaths = make([]string, nVideos+len(post.ImageURLGroups))

		videoResults := m.downloadGroups(ctx, post, post.VideoURLGroups, 0, KindVideo, true, resources)
		m.recordVideoResults(post, videoResults)

		imageResults := m.downloadGroups(ctx, post, post.ImageURLGroups, nVideos, KindImage, false, resources)
		m.recordImageResults(post, imageResults)
		return
	}

	// Direct URLs never got a download attempt, so the probe verdict is
	// all we have: groups whose probe found nothing alive are dropped
	// rather than forwarded as dead links.
	m.dropDeadVideoGroups(post, probeOK)

	if post.ForceDownloadVideo && len(post.VideoURLGroups) > 0 {
		// No guaranteed download path: the video must not leak as a
		// direct URL, so it is dropped from the record.
		m.logger.Info("force_download_video set without a download path, omitting videos",
			slog.String("url", post.URL),
			slog.Int("video_groups", len(post.VideoURLGroups)),
		)
		post.VideoURLGroups = [][]string{}
		post.VideoSizesMB = []*float64{}
		post.MaxVideoSizeMB = 0
		post.TotalVideoSizeMB = 0
	}

	nVideos := len(post.VideoURLGroups)
	post.FilePaths = make([]string, nVideos+len(post.ImageURLGroups))

	// Small videos are forwarded as direct URLs with any routing hint
	// stripped; their file-path slots stay empty.
	stripVideoHints(post)
	post.VideoCount = nVideos

	imageResults := m.downloadGroups(ctx, post, post.ImageURLGroups, nVideos, KindImage, false, resources)
	m.recordImageResults(post, imageResults)
}

// dropDeadVideoGroups removes video groups whose size probe failed outright
// and counts them as failures, so a post with only dead video URLs reports
// no valid media instead of forwarding broken links.
func (m *Manager) dropDeadVideoGroups(post *ProcessedPost, probeOK []bool) {
	if len(probeOK) != len(post.VideoURLGroups) {
		return
	}
	groups := post.VideoURLGroups[:0]
	sizes := post.VideoSizesMB[:0]
	for i, ok := range probeOK {
		if !ok {
			post.FailedVideoCount++
			m.logger.Info("video probe failed, dropping group from direct urls",
				slog.String("url", post.URL),
				slog.Int("group", i),
			)
			continue
		}
		groups = append(groups, post.VideoURLGroups[i])
		sizes = append(sizes, post.VideoSizesMB[i])
	}
	if len(groups) == len(probeOK) {
		return
	}
	post.VideoURLGroups = groups
	post.VideoSizesMB = sizes
	recomputeVideoSizeStats(post)
}

// stripVideoHints rewrites the outgoing video groups without the HLS
// routing hint; consumers receive plain URLs.
func stripVideoHints(post *ProcessedPost) {
	for _, group := range post.VideoURLGroups {
		for j, u := range group {
			group[j], _ = StripHLSHint(u)
		}
	}
}

// downloadGroups fetches the given URL groups concurrently under the
// per-request semaphore. Results are positional: result[i] belongs to
// groups[i], whose FilePaths slot is baseIndex+i.
func (m *Manager) downloadGroups(ctx context.Context, post *ProcessedPost, groups [][]string, baseIndex int, kind Kind, toCache bool, resources *storage.ResourceManager) []DownloadResult {
	results := make([]DownloadResult, len(groups))
	if len(groups) == 0 {
		return results
	}

	headers := post.VideoHeaders
	proxyEnabled := post.UseVideoProxy
	if kind == KindImage {
		headers = post.ImageHeaders
		proxyEnabled = post.UseImageProxy
	}

	sem := semaphore.NewWeighted(m.opts.MaxConcurrent)
	var wg sync.WaitGroup

	for i, group := range groups {
		if len(group) == 0 {
			results[i] = DownloadResult{Err: ErrAllURLsFailed}
			continue
		}

		item := Item{
			URLs:    group,
			MediaID: MediaID(group[0]),
			Index:   baseIndex + i,
			Kind:    kind,
			Headers: headers,
		}
		if proxyEnabled {
			item.ProxyURL = post.ProxyURL
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = DownloadResult{Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = m.downloader.Download(ctx, item, toCache, resources)
		}(i, item)
	}

	wg.Wait()
	return results
}

func (m *Manager) recordVideoResults(post *ProcessedPost, results []DownloadResult) {
	for i, res := range results {
		if !res.Success {
			post.FailedVideoCount++
			if errors.Is(res.Err, ErrAccessDenied) {
				post.HasAccessDenied = true
			}
			post.VideoSizesMB[i] = nil
			continue
		}
		post.VideoCount++
		post.FilePaths[i] = res.FilePath
		if res.SizeKnown {
			size := res.SizeMB
			post.VideoSizesMB[i] = &size
		}
	}
	recomputeVideoSizeStats(post)
}

func (m *Manager) recordImageResults(post *ProcessedPost, results []DownloadResult) {
	base := len(post.VideoURLGroups)
	for i, res := range results {
		if !res.Success {
			post.FailedImageCount++
			if errors.Is(res.Err, ErrAccessDenied) {
				post.HasAccessDenied = true
			}
			continue
		}
		post.ImageCount++
		post.FilePaths[base+i] = res.FilePath
	}
}

// recomputeVideoSizeStats refreshes the aggregate size fields after actual
// file sizes replaced probe estimates.
func recomputeVideoSizeStats(post *ProcessedPost) {
	post.MaxVideoSizeMB = 0
	post.TotalVideoSizeMB = 0
	for _, size := range post.VideoSizesMB {
		if size == nil {
			continue
		}
		post.TotalVideoSizeMB += *size
		if *size > post.MaxVideoSizeMB {
			post.MaxVideoSizeMB = *size
		}
	}
}
