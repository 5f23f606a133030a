package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/storage"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testClient(t *testing.T) *httpclient.Client {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	cfg.RetryDelay = time.Millisecond
	cfg.Logger = quietLogger()
	client, err := httpclient.New(cfg)
	require.NoError(t, err)
	return client
}

func newTestRouter(t *testing.T, conv Converter) (*Router, string) {
	t.Helper()
	cacheDir := t.TempDir()
	r := NewRouter(Config{
		CacheDir: cacheDir,
		Client:   testClient(t),
		FFmpeg:   conv,
		Logger:   quietLogger(),
	})
	return r, cacheDir
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		url  string
		want media.Kind
	}{
		{"https://cdn.example.com/stream/index.m3u8", media.KindHLS},
		{"https://cdn.example.com/stream/index.m3u8?sign=abc", media.KindHLS},
		{"m3u8:https://cdn.example.com/stream/play", media.KindHLS},
		{"https://img.example.com/a.jpg", media.KindImage},
		{"https://img.example.com/a.JPEG", media.KindImage},
		{"https://img.example.com/a.webp?imageView2/2/w/1080", media.KindImage},
		{"https://v.example.com/a.mp4", media.KindVideo},
		{"https://v.example.com/a.mp4?vcodec=h264&ext=.jpg_fake", media.KindVideo},
		{"https://v.example.com/clip.flv", media.KindVideo},
		// Token heuristic over separator-flanked format names.
		{"https://img.example.com/thumb!jpg_small", media.KindImage},
		{"https://v.example.com/video_mp4_720", media.KindVideo},
		// Default.
		{"https://v.example.com/play?id=42", media.KindVideo},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := DetectMediaType(tt.url)
			assert.Equal(t, tt.want, got)
			// Idempotent and query-independent.
			assert.Equal(t, got, DetectMediaType(tt.url))
		})
	}
}

func TestRouter_FallbackChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/denied.jpg":
			w.WriteHeader(http.StatusForbidden)
		case "/mirror.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("image-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	router, _ := newTestRouter(t, nil)
	rm := storage.NewResourceManager(quietLogger())

	res := router.Download(context.Background(), media.Item{
		URLs:    []string{srv.URL + "/denied.jpg", srv.URL + "/mirror.jpg"},
		MediaID: "42",
		Kind:    media.KindImage,
	}, false, rm)

	require.True(t, res.Success)
	assert.Equal(t, 1, res.URLIndex, "second url in the group succeeded")
	assert.FileExists(t, res.FilePath)
	// A 403 on a non-final URL is not access-denied for the group.
	assert.NoError(t, res.Err)

	rm.CleanupAll()
}

func TestRouter_AllURLsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	router, _ := newTestRouter(t, nil)
	rm := storage.NewResourceManager(quietLogger())

	res := router.Download(context.Background(), media.Item{
		URLs:    []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg"},
		MediaID: "43",
		Kind:    media.KindImage,
	}, false, rm)

	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, media.ErrAllURLsFailed)
	assert.ErrorIs(t, res.Err, media.ErrAccessDenied)

	tempCount, cacheCount := rm.Stats()
	assert.Zero(t, tempCount)
	assert.Zero(t, cacheCount)
}

func TestRouter_BadProxyURL(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	rm := storage.NewResourceManager(quietLogger())

	res := router.Download(context.Background(), media.Item{
		URLs:     []string{"https://example.com/a.jpg"},
		MediaID:  "44",
		Kind:     media.KindImage,
		ProxyURL: "ftp://bad:1080",
	}, false, rm)

	require.False(t, res.Success)
	assert.Error(t, res.Err)
}
