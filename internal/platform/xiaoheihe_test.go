package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXiaoheihe_CanonicalURL(t *testing.T) {
	got := xhhCanonicalURL("https://api.xiaoheihe.cn/v3/bbs/app/api/web/share?link_id=98765&appid=570&game_type=pc")
	assert.Equal(t, "https://www.xiaoheihe.cn/app/bbs/link/98765?appid=570&game_type=pc", got)

	got = xhhCanonicalURL("https://www.xiaoheihe.cn/app/bbs/link/12345")
	assert.Equal(t, "https://www.xiaoheihe.cn/app/bbs/link/12345", got)

	assert.Empty(t, xhhCanonicalURL("https://www.xiaoheihe.cn/home"))
}

func TestXiaoheihe_ExtractLinks(t *testing.T) {
	p := NewXiaoheihe(testOptions(t))
	text := "看帖 https://api.xiaoheihe.cn/v3/bbs/app/api/web/share?link_id=98765&appid=570 " +
		"和 https://www.xiaoheihe.cn/app/bbs/link/98765?appid=570 " +
		"另一个 https://www.xiaoheihe.cn/app/bbs/link/12222"
	links := p.ExtractLinks(text)
	require.Len(t, links, 2, "share link and web link collapse to one canonical url")
	assert.True(t, strings.HasPrefix(links[0], "https://www.xiaoheihe.cn/app/bbs/link/98765"))
	assert.Equal(t, "https://www.xiaoheihe.cn/app/bbs/link/12222", links[1])
}

func TestXiaoheihe_ParseStreamPost(t *testing.T) {
	html := `<html><body><script>window.__DATA__={
"title":"新赛季实机演示",
"user":{"username":"黑盒用户"},
"create_at":1701234567,
"video_url":"https:\/\/hls.xiaoheihe.cn\/stream\/play\/12345",
"imgs":["https:\/\/img.xiaoheihe.cn\/a.jpg","https:\/\/img.xiaoheihe.cn\/b.jpg"]
}</script></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, html)
	}))
	defer srv.Close()

	p := NewXiaoheihe(testOptions(t))
	record, err := p.Parse(context.Background(), srv.URL+"/app/bbs/link/98765")
	require.NoError(t, err)

	assert.Equal(t, "新赛季实机演示", record.Title)
	assert.Equal(t, "黑盒用户", record.Author)
	assert.Equal(t, int64(1701234567), record.Timestamp)

	require.Len(t, record.VideoURLGroups, 1)
	assert.Equal(t, "m3u8:https://hls.xiaoheihe.cn/stream/play/12345", record.VideoURLGroups[0][0],
		"stream urls carry the hls hint")

	require.Len(t, record.ImageURLGroups, 2)
	assert.Equal(t, []string{"https://img.xiaoheihe.cn/a.jpg"}, record.ImageURLGroups[0])
}

func TestXHHTagStream(t *testing.T) {
	assert.Equal(t, "m3u8:https://cdn.example.com/play/index.m3u8?sign=1",
		xhhTagStream("https://cdn.example.com/play/index.m3u8?sign=1"))
	assert.Equal(t, "m3u8:https://hls.xiaoheihe.cn/stream/play/1",
		xhhTagStream("https://hls.xiaoheihe.cn/stream/play/1"))
	assert.Equal(t, "https://cdn.example.com/v.mp4",
		xhhTagStream("https://cdn.example.com/v.mp4"))
}

func TestXiaoheihe_ParseEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body></body></html>")
	}))
	defer srv.Close()

	p := NewXiaoheihe(testOptions(t))
	_, err := p.Parse(context.Background(), srv.URL+"/app/bbs/link/1")
	assert.Error(t, err)
}
