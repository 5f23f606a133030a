package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvarr/resolvarr/internal/storage"
)

// sizeServer answers HEAD probes with a Content-Length per path (in MB).
// Paths absent from the map answer 404.
func sizeServer(t *testing.T, sizesMB map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size, ok := sizesMB[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(size*bytesPerMB))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type downloadCall struct {
	item    Item
	toCache bool
}

// fakeDownloader writes a real file per successful download so cleanup
// behavior can be observed, and records every call.
type fakeDownloader struct {
	mu    sync.Mutex
	dir   string
	calls []downloadCall

	// failURLs maps a primary URL to the error its group should fail with.
	failURLs map[string]error

	// sizesMB maps a primary URL to the reported file size.
	sizesMB map[string]float64
}

func newFakeDownloader(t *testing.T) *fakeDownloader {
	return &fakeDownloader{
		dir:      t.TempDir(),
		failURLs: map[string]error{},
		sizesMB:  map[string]float64{},
	}
}

func (f *fakeDownloader) Download(_ context.Context, item Item, toCache bool, resources *storage.ResourceManager) DownloadResult {
	f.mu.Lock()
	f.calls = append(f.calls, downloadCall{item: item, toCache: toCache})
	failErr := f.failURLs[item.URLs[0]]
	size := f.sizesMB[item.URLs[0]]
	f.mu.Unlock()

	if failErr != nil {
		return DownloadResult{Err: failErr}
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s_%d", item.MediaID, item.Index))
	if err := os.WriteFile(path, []byte("payload"), 0o644); err != nil {
		return DownloadResult{Err: err}
	}
	if toCache {
		resources.TrackCache(path)
	} else {
		resources.TrackTemp(path)
	}
	return DownloadResult{Success: true, FilePath: path, SizeMB: size, SizeKnown: size > 0}
}

func (f *fakeDownloader) callKinds() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]Kind, len(f.calls))
	for i, c := range f.calls {
		kinds[i] = c.item.Kind
	}
	return kinds
}

func newTestManager(t *testing.T, opts Options, dl Downloader) *Manager {
	t.Helper()
	return NewManager(opts, NewProber(testClient(t), quietLogger()), dl, quietLogger())
}

func TestProcess_EmptyRecord(t *testing.T) {
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, newFakeDownloader(t))

	post := m.Process(context.Background(), &PostRecord{URL: "https://x"}, storage.NewResourceManager(quietLogger()))

	assert.False(t, post.HasValidMedia)
	assert.Empty(t, post.FilePaths)
}

func TestProcess_SmallVideoDirectImagesTemp(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/v0": 5})
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true, LargeThresholdMB: 0}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/100",
		VideoURLGroups: [][]string{{srv.URL + "/v0"}},
		ImageURLGroups: [][]string{
			{"https://img.example.com/1.jpg"},
			{"https://img.example.com/2.jpg"},
			{"https://img.example.com/3.jpg"},
		},
	}
	rm := storage.NewResourceManager(quietLogger())
	post := m.Process(context.Background(), rec, rm)

	require.Len(t, post.FilePaths, 4)
	assert.Empty(t, post.FilePaths[0], "video stays a direct URL")
	for i := 1; i < 4; i++ {
		assert.NotEmpty(t, post.FilePaths[i])
	}
	assert.Equal(t, 1, post.VideoCount)
	assert.Equal(t, 3, post.ImageCount)
	assert.True(t, post.UseLocalFiles)
	assert.True(t, post.HasValidMedia)
	assert.False(t, post.IsLargeMedia)

	// Images were temp downloads, not cache.
	for _, c := range dl.calls {
		assert.False(t, c.toCache)
		assert.Equal(t, KindImage, c.item.Kind)
	}

	tempCount, cacheCount := rm.Stats()
	assert.Equal(t, 3, tempCount)
	assert.Equal(t, 0, cacheCount)
}

func TestProcess_SoftThresholdForcesCacheDownload(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/big": 55})
	dl := newFakeDownloader(t)
	dl.sizesMB[srv.URL+"/big"] = 55
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true, LargeThresholdMB: 40}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/200",
		VideoURLGroups: [][]string{{srv.URL + "/big"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	require.Len(t, post.FilePaths, 1)
	assert.NotEmpty(t, post.FilePaths[0])
	assert.True(t, post.IsLargeMedia)
	assert.True(t, post.UseLocalFiles)
	assert.Equal(t, 1, post.VideoCount)
	require.NotNil(t, post.VideoSizesMB[0])
	assert.InDelta(t, 55.0, *post.VideoSizesMB[0], 0.1)
	assert.InDelta(t, 55.0, post.MaxVideoSizeMB, 0.1)

	require.Len(t, dl.calls, 1)
	assert.True(t, dl.calls[0].toCache)
	assert.Equal(t, KindVideo, dl.calls[0].item.Kind)
}

func TestProcess_HardCeilingAbortsBeforeDownload(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/huge": 50})
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true, MaxMediaSizeMB: 20}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/300",
		VideoURLGroups: [][]string{{srv.URL + "/huge"}},
		ImageURLGroups: [][]string{{"https://img.example.com/1.jpg"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	assert.True(t, post.ExceedsMaxSize)
	assert.False(t, post.HasValidMedia)
	assert.Empty(t, post.FilePaths)
	assert.Empty(t, dl.calls, "no bytes downloaded beyond the probe")
}

func TestProcess_PreDownloadAll(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/v": 5})
	dl := newFakeDownloader(t)
	dl.sizesMB[srv.URL+"/v"] = 5
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true, PreDownloadAll: true}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/400",
		VideoURLGroups: [][]string{{srv.URL + "/v"}},
		ImageURLGroups: [][]string{{"https://img.example.com/1.jpg"}, {"https://img.example.com/2.jpg"}},
	}
	rm := storage.NewResourceManager(quietLogger())
	post := m.Process(context.Background(), rec, rm)

	require.Len(t, post.FilePaths, 3)
	for _, p := range post.FilePaths {
		assert.NotEmpty(t, p)
	}
	assert.True(t, post.UseLocalFiles)
	assert.Equal(t, 1, post.VideoCount)
	assert.Equal(t, 2, post.ImageCount)

	for _, c := range dl.calls {
		assert.True(t, c.toCache)
	}

	// Videos are downloaded before images.
	kinds := dl.callKinds()
	require.Len(t, kinds, 3)
	assert.Equal(t, KindVideo, kinds[0])
	assert.Equal(t, KindImage, kinds[1])
	assert.Equal(t, KindImage, kinds[2])
}

func TestProcess_PreDownloadRechecksCeilingOnActualSize(t *testing.T) {
	// Probe reports 15 MB but the downloaded file turns out to be 30 MB.
	srv := sizeServer(t, map[string]int{"/lied": 15})
	dl := newFakeDownloader(t)
	dl.sizesMB[srv.URL+"/lied"] = 30
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true, PreDownloadAll: true, MaxMediaSizeMB: 20}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/500",
		VideoURLGroups: [][]string{{srv.URL + "/lied"}},
		ImageURLGroups: [][]string{{"https://img.example.com/1.jpg"}},
	}
	rm := storage.NewResourceManager(quietLogger())
	post := m.Process(context.Background(), rec, rm)

	assert.True(t, post.ExceedsMaxSize)
	assert.False(t, post.HasValidMedia)
	assert.Empty(t, post.FilePaths)

	// Everything downloaded so far was deleted.
	videoPath := filepath.Join(dl.dir, dl.calls[0].item.MediaID+"_0")
	_, err := os.Stat(videoPath)
	assert.True(t, os.IsNotExist(err))

	tempCount, cacheCount := rm.Stats()
	assert.Zero(t, tempCount)
	assert.Zero(t, cacheCount)
}

func TestProcess_ForceDownloadWithoutPathOmitsVideo(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/v": 5})
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL:                "https://example.com/post/600",
		ForceDownloadVideo: true,
		VideoURLGroups:     [][]string{{srv.URL + "/v"}},
		ImageURLGroups:     [][]string{{"https://img.example.com/1.jpg"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	assert.Empty(t, post.VideoURLGroups, "video never emitted as a direct URL")
	assert.Equal(t, 0, post.VideoCount)
	require.Len(t, post.FilePaths, 1)
	assert.NotEmpty(t, post.FilePaths[0])
	assert.Equal(t, 1, post.ImageCount)
}

func TestProcess_CacheUnavailableDegradesToDirectURLs(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/big": 80})
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: false, LargeThresholdMB: 40}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/700",
		VideoURLGroups: [][]string{{srv.URL + "/big"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	require.Len(t, post.FilePaths, 1)
	assert.Empty(t, post.FilePaths[0], "no cache write when cache is unavailable")
	assert.True(t, post.IsLargeMedia)
	assert.Equal(t, 1, post.VideoCount)
}

func TestProcess_FailedImageGroupCounts(t *testing.T) {
	dl := newFakeDownloader(t)
	dl.failURLs["https://img.example.com/denied.jpg"] = fmt.Errorf("%w: %w", ErrAllURLsFailed, ErrAccessDenied)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL: "https://example.com/post/800",
		ImageURLGroups: [][]string{
			{"https://img.example.com/ok.jpg"},
			{"https://img.example.com/denied.jpg"},
		},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	assert.Equal(t, 1, post.ImageCount)
	assert.Equal(t, 1, post.FailedImageCount)
	assert.True(t, post.HasAccessDenied)
	assert.True(t, post.HasValidMedia)
	require.Len(t, post.FilePaths, 2)
	assert.NotEmpty(t, post.FilePaths[0])
	assert.Empty(t, post.FilePaths[1])
}

func TestProcess_DeadVideoLinkMarksPostInvalid(t *testing.T) {
	// Probe answers 404 for every path: the post's only video URL is dead.
	srv := sizeServer(t, map[string]int{})
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/1100",
		VideoURLGroups: [][]string{{srv.URL + "/gone.mp4"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	assert.Empty(t, post.VideoURLGroups, "dead link never forwarded as a direct URL")
	assert.Equal(t, 0, post.VideoCount)
	assert.Equal(t, 1, post.FailedVideoCount)
	assert.False(t, post.HasValidMedia)
	assert.Empty(t, dl.calls)
}

func TestProcess_DeadVideoLinkKeepsLiveSiblings(t *testing.T) {
	srv := sizeServer(t, map[string]int{"/alive": 5})
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL: "https://example.com/post/1200",
		VideoURLGroups: [][]string{
			{srv.URL + "/gone.mp4"},
			{srv.URL + "/alive"},
		},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	require.Len(t, post.VideoURLGroups, 1)
	assert.Equal(t, srv.URL+"/alive", post.VideoURLGroups[0][0])
	assert.Equal(t, 1, post.VideoCount)
	assert.Equal(t, 1, post.FailedVideoCount)
	assert.True(t, post.HasValidMedia)
	require.Len(t, post.VideoSizesMB, 1)
	require.NotNil(t, post.VideoSizesMB[0])
	assert.InDelta(t, 5.0, *post.VideoSizesMB[0], 0.1)
	assert.InDelta(t, 5.0, post.MaxVideoSizeMB, 0.1)
}

func TestProcess_StreamHintStrippedForProbeAndDirectURL(t *testing.T) {
	var probedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probedPath = r.URL.Path
		w.Header().Set("Content-Length", fmt.Sprint(bytesPerMB))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/1300",
		VideoURLGroups: [][]string{{HLSHintPrefix + srv.URL + "/stream/play/9"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	assert.Equal(t, "/stream/play/9", probedPath, "probe hits the real URL, not the hinted pseudo-URL")
	require.Len(t, post.VideoURLGroups, 1)
	assert.Equal(t, srv.URL+"/stream/play/9", post.VideoURLGroups[0][0])
	assert.Equal(t, 1, post.VideoCount)
}

func TestProcess_ProbeForbiddenSetsAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL:            "https://example.com/post/900",
		VideoURLGroups: [][]string{{srv.URL + "/gated.mp4"}},
	}
	post := m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	assert.True(t, post.HasAccessDenied)
}

func TestProcess_TwitterProxyRouting(t *testing.T) {
	dl := newFakeDownloader(t)
	m := newTestManager(t, Options{MaxConcurrent: 3, CacheAvailable: true}, dl)

	rec := &PostRecord{
		URL:            "https://x.com/u/status/1000",
		ImageURLGroups: [][]string{{"https://pbs.example.com/img.jpg"}},
		ProxyURL:       "socks5://127.0.0.1:1080",
		UseImageProxy:  true,
	}
	m.Process(context.Background(), rec, storage.NewResourceManager(quietLogger()))

	require.Len(t, dl.calls, 1)
	assert.Equal(t, "socks5://127.0.0.1:1080", dl.calls[0].item.ProxyURL)
}
