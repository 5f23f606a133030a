package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/resolver"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

const bilibiliAPIBase = "https://api.bilibili.com"

var (
	bilibiliShortRe = regexp.MustCompile(`https?://b23\.tv/[\w]+`)
	bilibiliBVRe    = regexp.MustCompile(`BV[0-9A-Za-z]{10}`)
	bilibiliAVRe    = regexp.MustCompile(`(?i)\bav(\d+)`)
	bilibiliLongRe  = regexp.MustCompile(`https?://(?:www\.|m\.)?bilibili\.com/video/(BV[0-9A-Za-z]{10}|[aA][vV]\d+)`)
)

// Bilibili resolves bilibili video pages through the public web API: one
// call for metadata, one for the HTML5 play URL.
type Bilibili struct {
	client  *httpclient.Client
	logger  *slog.Logger
	apiBase string
	headers map[string]string
}

// NewBilibili creates the bilibili parser.
func NewBilibili(opts resolver.Options) resolver.Parser {
	return &Bilibili{
		client:  opts.Client,
		logger:  opts.Logger,
		apiBase: bilibiliAPIBase,
		headers: map[string]string{
			"User-Agent": desktopChromeUA,
			"Referer":    "https://www.bilibili.com/",
		},
	}
}

func (p *Bilibili) Name() string { return "bilibili" }

func (p *Bilibili) CanParse(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "bilibili.com") || strings.Contains(lower, "b23.tv")
}

func (p *Bilibili) ExtractLinks(text string) []string {
	var links []string
	links = append(links, bilibiliShortRe.FindAllString(text, -1)...)
	for _, m := range bilibiliLongRe.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if strings.HasPrefix(strings.ToLower(id), "av") {
			id = "av" + id[2:]
		}
		links = append(links, "https://www.bilibili.com/video/"+id)
	}
	return dedupe(links)
}

func (p *Bilibili) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	target := rawURL
	if strings.Contains(rawURL, "b23.tv") {
		target = p.resolveShortLink(ctx, rawURL)
	}

	bvid, aid := bilibiliVideoID(target)
	if bvid == "" && aid == "" {
		return nil, fmt.Errorf("no video id in %s", target)
	}

	view, err := p.fetchView(ctx, bvid, aid)
	if err != nil {
		return nil, err
	}

	playURLs, err := p.fetchPlayURLs(ctx, view.BVID, view.CID)
	if err != nil {
		return nil, err
	}

	record := &media.PostRecord{
		URL:          "https://www.bilibili.com/video/" + view.BVID,
		SourceURL:    rawURL,
		Title:        view.Title,
		Author:       view.Owner.Name,
		Description:  view.Desc,
		Timestamp:    view.Pubdate,
		VideoHeaders: cloneHeaders(p.headers),
		ImageHeaders: cloneHeaders(p.headers),
	}
	if len(playURLs) > 0 {
		record.VideoURLGroups = [][]string{playURLs}
	}
	return record, nil
}

func (p *Bilibili) resolveShortLink(ctx context.Context, rawURL string) string {
	resp, err := p.client.Head(ctx, rawURL, p.headers)
	if err != nil {
		return rawURL
	}
	defer resp.Body.Close()
	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String()
	}
	return rawURL
}

func bilibiliVideoID(u string) (bvid string, aid string) {
	if m := bilibiliBVRe.FindString(u); m != "" {
		return m, ""
	}
	if m := bilibiliAVRe.FindStringSubmatch(u); m != nil {
		return "", m[1]
	}
	return "", ""
}

type bilibiliView struct {
	BVID    string `json:"bvid"`
	CID     int64  `json:"cid"`
	Title   string `json:"title"`
	Desc    string `json:"desc"`
	Pubdate int64  `json:"pubdate"`
	Owner   struct {
		Name string `json:"name"`
	} `json:"owner"`
}

// fetchView loads video metadata. Either bvid or aid identifies the video.
func (p *Bilibili) fetchView(ctx context.Context, bvid, aid string) (*bilibiliView, error) {
	viewURL := p.apiBase + "/x/web-interface/view?"
	if bvid != "" {
		viewURL += "bvid=" + bvid
	} else {
		viewURL += "aid=" + aid
	}

	var payload struct {
		Code    int          `json:"code"`
		Message string       `json:"message"`
		Data    bilibiliView `json:"data"`
	}
	if err := p.getJSON(ctx, viewURL, &payload); err != nil {
		return nil, fmt.Errorf("fetching video info: %w", err)
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("video info API returned code %d: %s", payload.Code, payload.Message)
	}
	return &payload.Data, nil
}

// fetchPlayURLs asks for the html5 progressive stream, which needs no login
// and plays as a plain mp4. The durl list carries the primary URL plus CDN
// mirrors.
func (p *Bilibili) fetchPlayURLs(ctx context.Context, bvid string, cid int64) ([]string, error) {
	playURL := fmt.Sprintf(
		"%s/x/player/playurl?bvid=%s&cid=%d&qn=64&platform=html5&high_quality=1",
		p.apiBase, bvid, cid,
	)

	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			Durl []struct {
				URL       string   `json:"url"`
				BackupURL []string `json:"backup_url"`
			} `json:"durl"`
		} `json:"data"`
	}
	if err := p.getJSON(ctx, playURL, &payload); err != nil {
		return nil, fmt.Errorf("fetching play url: %w", err)
	}
	if payload.Code != 0 {
		return nil, fmt.Errorf("play url API returned code %d: %s", payload.Code, payload.Message)
	}
	if len(payload.Data.Durl) == 0 {
		return nil, nil
	}

	first := payload.Data.Durl[0]
	urls := append([]string{first.URL}, first.BackupURL...)
	return dedupe(urls), nil
}

func (p *Bilibili) getJSON(ctx context.Context, rawURL string, out any) error {
	resp, err := p.client.GetWithHeaders(ctx, rawURL, p.headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
