package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBilibili_ExtractLinks(t *testing.T) {
	p := NewBilibili(testOptions(t))

	text := "https://b23.tv/abc123 " +
		"https://www.bilibili.com/video/BV1xx411c7mD?p=2 " +
		"https://m.bilibili.com/video/av170001 " +
		"https://www.bilibili.com/video/BV1xx411c7mD"

	links := p.ExtractLinks(text)
	require.Len(t, links, 3)
	assert.Equal(t, "https://b23.tv/abc123", links[0])
	assert.Contains(t, links, "https://www.bilibili.com/video/BV1xx411c7mD")
	assert.Contains(t, links, "https://www.bilibili.com/video/av170001")
}

func TestBilibiliVideoID(t *testing.T) {
	bvid, aid := bilibiliVideoID("https://www.bilibili.com/video/BV1xx411c7mD")
	assert.Equal(t, "BV1xx411c7mD", bvid)
	assert.Empty(t, aid)

	bvid, aid = bilibiliVideoID("https://www.bilibili.com/video/av170001")
	assert.Empty(t, bvid)
	assert.Equal(t, "170001", aid)

	bvid, aid = bilibiliVideoID("https://www.bilibili.com/read/cv1")
	assert.Empty(t, bvid)
	assert.Empty(t, aid)
}

func TestBilibili_Parse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BV1xx411c7mD", r.URL.Query().Get("bvid"))
		fmt.Fprint(w, `{"code":0,"data":{
			"bvid":"BV1xx411c7mD","cid":239045,
			"title":"【测试】视频标题","desc":"简介","pubdate":1699999999,
			"owner":{"name":"up主"}}}`)
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "BV1xx411c7mD", q.Get("bvid"))
		assert.Equal(t, "239045", q.Get("cid"))
		assert.Equal(t, "html5", q.Get("platform"))
		fmt.Fprint(w, `{"code":0,"data":{"durl":[
			{"url":"https://upos.example.com/v.mp4?sig=1",
			 "backup_url":["https://mirror.example.com/v.mp4?sig=1"]},
			{"url":"https://ignored.example.com/part2.mp4"}]}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewBilibili(testOptions(t)).(*Bilibili)
	p.apiBase = srv.URL

	record, err := p.Parse(context.Background(), "https://www.bilibili.com/video/BV1xx411c7mD")
	require.NoError(t, err)

	assert.Equal(t, "https://www.bilibili.com/video/BV1xx411c7mD", record.URL)
	assert.Equal(t, "【测试】视频标题", record.Title)
	assert.Equal(t, "up主", record.Author)
	assert.Equal(t, int64(1699999999), record.Timestamp)

	require.Len(t, record.VideoURLGroups, 1)
	assert.Equal(t, []string{
		"https://upos.example.com/v.mp4?sig=1",
		"https://mirror.example.com/v.mp4?sig=1",
	}, record.VideoURLGroups[0], "primary plus mirrors, later parts ignored")

	assert.Equal(t, "https://www.bilibili.com/", record.VideoHeaders["Referer"])
}

func TestBilibili_ParseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":-404,"message":"啥都木有"}`)
	}))
	defer srv.Close()

	p := NewBilibili(testOptions(t)).(*Bilibili)
	p.apiBase = srv.URL

	_, err := p.Parse(context.Background(), "https://www.bilibili.com/video/BV1xx411c7mD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-404")
}

func TestBilibili_ShortLinkRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"bvid":"BV1xx411c7mD","cid":1,"title":"t","owner":{"name":"o"}}}`)
	})
	mux.HandleFunc("/x/player/playurl", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":0,"data":{"durl":[{"url":"https://upos.example.com/v.mp4"}]}}`)
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/video/BV1xx411c7mD", http.StatusFound)
	})
	mux.HandleFunc("/video/BV1xx411c7mD", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewBilibili(testOptions(t)).(*Bilibili)
	p.apiBase = srv.URL

	// A b23.tv-style short link resolves through the redirect first.
	record, err := p.Parse(context.Background(), srv.URL+"/short?from=b23.tv")
	require.NoError(t, err)
	require.Len(t, record.VideoURLGroups, 1)
}
