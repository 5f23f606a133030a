package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/resolver"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

var (
	kuaishouShortRe = regexp.MustCompile(`https?://v\.kuaishou\.com/[^\s]+`)
	kuaishouLongRe  = regexp.MustCompile(`https?://(?:www\.)?kuaishou\.com/[^\s]+`)

	ksStateRe    = regexp.MustCompile(`window\.(?:INIT_STATE|__APOLLO_STATE__)\s*=\s*(\{[\s\S]*?\});`)
	ksUserNameRe = regexp.MustCompile(`"userName"\s*:\s*"([^"]+)"`)
	ksUserIDRe   = regexp.MustCompile(`"userId"\s*:\s*["']?(\d+)["']?`)
	ksCaptionRe  = regexp.MustCompile(`"caption"\s*:\s*"([^"]*(?:\\.[^"]*)*)"`)
	ksTitleTagRe = regexp.MustCompile(`(?i)<title[^>]*>([\s\S]*?)</title>`)

	ksVideoRe   = regexp.MustCompile(`"(?:url|srcNoMark|photoUrl|videoUrl)"\s*:\s*"(https?://[^"]+?\.mp4[^"]*)"`)
	ksRawDataRe = regexp.MustCompile(`<script[^>]*>window\.rawData\s*=\s*(\{[\s\S]*?\});?</script>`)

	ksCDNListRe  = regexp.MustCompile(`"cdnList"\s*:\s*\[[\s\S]*?"cdn"\s*:\s*"([^"]+)"`)
	ksCDNArrRe   = regexp.MustCompile(`"cdn"\s*:\s*\["([^"]+)"`)
	ksCDNRe      = regexp.MustCompile(`"cdn"\s*:\s*"([^"]+)"`)
	ksAtlasImgRe = regexp.MustCompile(`"(/ufile/atlas/[^"]+?\.jpg)"`)
	ksAlbumImgRe = regexp.MustCompile(`<img\s+class="image"\s+src="([^"]+)"`)
	ksUpicImgRe  = regexp.MustCompile(`src="(https?://[^"]*?/upic/[^"]*?\.jpg)`)

	ksDatePathRe = regexp.MustCompile(`/(\d{4})/(\d{2})/(\d{2})/`)
	ksDateTsRe   = regexp.MustCompile(`_(\d{11,13})_`)
)

// Kuaishou scrapes the kuaishou mobile pages. The mobile markup embeds the
// player state as JSON in the HTML, so extraction is regex-over-HTML rather
// than an API call.
type Kuaishou struct {
	client  *httpclient.Client
	logger  *slog.Logger
	headers map[string]string
}

// NewKuaishou creates the kuaishou parser.
func NewKuaishou(opts resolver.Options) resolver.Parser {
	return &Kuaishou{
		client: opts.Client,
		logger: opts.Logger,
		headers: map[string]string{
			"User-Agent":      iphoneSafariUA,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		},
	}
}

func (p *Kuaishou) Name() string { return "kuaishou" }

func (p *Kuaishou) CanParse(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "kuaishou.com") || strings.Contains(lower, "kspkg.com")
}

func (p *Kuaishou) ExtractLinks(text string) []string {
	var links []string
	links = append(links, kuaishouShortRe.FindAllString(text, -1)...)
	links = append(links, kuaishouLongRe.FindAllString(text, -1)...)
	return dedupe(links)
}

func (p *Kuaishou) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	html, err := p.fetchPage(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	userName, userID, caption := ksMetadata(html)
	title := caption
	if title == "" {
		title = "快手视频"
	}
	if len([]rune(title)) > 100 {
		title = string([]rune(title)[:100])
	}

	record := &media.PostRecord{
		URL:          rawURL,
		SourceURL:    rawURL,
		Title:        title,
		Author:       formatAuthor(userName, userID),
		VideoHeaders: cloneHeaders(p.headers),
		ImageHeaders: cloneHeaders(p.headers),
	}

	if videoURL := ksVideoURL(html); videoURL != "" {
		record.VideoURLGroups = [][]string{{videoURL}}
		record.Timestamp = ksUploadTime(videoURL)
		return record, nil
	}

	if images := ksAlbumImages(html); len(images) > 0 {
		if record.Title == "快手视频" {
			record.Title = "快手图集"
		}
		for _, img := range images {
			record.ImageURLGroups = append(record.ImageURLGroups, []string{img})
		}
		if cover := ksAlbumCover(html); cover != "" {
			record.Timestamp = ksUploadTime(cover)
		}
		return record, nil
	}

	if videoURL, images := ksRawData(html); videoURL != "" || len(images) > 0 {
		if videoURL != "" {
			record.VideoURLGroups = [][]string{{videoURL}}
			record.Timestamp = ksUploadTime(videoURL)
		} else {
			if record.Title == "快手视频" {
				record.Title = "快手图集"
			}
			for _, img := range images {
				record.ImageURLGroups = append(record.ImageURLGroups, []string{img})
			}
		}
		return record, nil
	}

	// Metadata-only page: the post exists but exposes no media. Still a
	// valid record, just empty.
	if userName != "" || userID != "" || caption != "" {
		return record, nil
	}
	return nil, fmt.Errorf("no recognizable media markup in %s", rawURL)
}

// fetchPage loads the post page with the mobile UA. Short links redirect to
// the canonical page; the client follows them.
func (p *Kuaishou) fetchPage(ctx context.Context, rawURL string) (string, error) {
	resp, err := p.client.GetWithHeaders(ctx, rawURL, p.headers)
	if err != nil {
		return "", fmt.Errorf("fetching page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading page: %w", err)
	}
	return string(body), nil
}

func ksMetadata(html string) (userName, userID, caption string) {
	if m := ksStateRe.FindStringSubmatch(html); m != nil {
		state := m[1]
		if u := ksUserNameRe.FindStringSubmatch(state); u != nil {
			userName = u[1]
		}
		if u := ksUserIDRe.FindStringSubmatch(state); u != nil {
			userID = u[1]
		}
		if c := ksCaptionRe.FindStringSubmatch(state); c != nil {
			caption = ksUnescape(c[1])
		}
	}
	if caption == "" {
		if m := ksTitleTagRe.FindStringSubmatch(html); m != nil {
			caption = strings.TrimSpace(m[1])
		}
	}
	return userName, userID, caption
}

// ksUnescape decodes JSON string escapes in a regex-captured caption.
func ksUnescape(raw string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &out); err != nil {
		return raw
	}
	return out
}

func ksVideoURL(html string) string {
	if m := ksVideoRe.FindStringSubmatch(html); m != nil {
		return ksMinMP4(m[1])
	}
	return ""
}

// ksMinMP4 strips the query from a CDN mp4 URL; the bare path serves the
// smallest rendition.
func ksMinMP4(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return "https://" + u.Host + u.Path
}

func ksAlbumImages(html string) []string {
	cdn := ""
	for _, re := range []*regexp.Regexp{ksCDNListRe, ksCDNArrRe, ksCDNRe} {
		if m := re.FindStringSubmatch(html); m != nil {
			cdn = m[1]
			break
		}
	}
	if cdn == "" {
		return nil
	}

	paths := ksAtlasImgRe.FindAllStringSubmatch(html, -1)
	if len(paths) == 0 {
		return nil
	}
	var raw []string
	for _, m := range paths {
		raw = append(raw, m[1])
	}
	return ksBuildAlbum(cdn, raw)
}

func ksBuildAlbum(cdn string, paths []string) []string {
	cdn = strings.TrimPrefix(strings.TrimPrefix(cdn, "https://"), "http://")
	var images []string
	for _, path := range paths {
		path = strings.Trim(path, `"`)
		if path == "" {
			continue
		}
		images = append(images, "https://"+cdn+path)
	}
	return dedupe(images)
}

func ksAlbumCover(html string) string {
	if m := ksAlbumImgRe.FindStringSubmatch(html); m != nil {
		return strings.SplitN(m[1], "?", 2)[0]
	}
	if m := ksUpicImgRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

// ksRawData handles the window.rawData fallback used by some page variants.
func ksRawData(html string) (videoURL string, images []string) {
	m := ksRawDataRe.FindStringSubmatch(html)
	if m == nil {
		return "", nil
	}

	var data struct {
		Video *struct {
			URL       string `json:"url"`
			SrcNoMark string `json:"srcNoMark"`
		} `json:"video"`
		Type  int `json:"type"`
		Photo *struct {
			CDN   json.RawMessage `json:"cdn"`
			Music string          `json:"music"`
			List  []string        `json:"list"`
		} `json:"photo"`
	}
	if err := json.Unmarshal([]byte(m[1]), &data); err != nil {
		return "", nil
	}

	if data.Video != nil {
		u := data.Video.URL
		if u == "" {
			u = data.Video.SrcNoMark
		}
		if strings.Contains(u, ".mp4") {
			return ksMinMP4(u), nil
		}
	}

	if data.Photo != nil && data.Type == 1 {
		cdn := ksDecodeCDN(data.Photo.CDN)
		if cdn == "" {
			cdn = "p3.a.yximgs.com"
		}
		return "", ksBuildAlbum(cdn, data.Photo.List)
	}
	return "", nil
}

// ksDecodeCDN tolerates both the string and list-of-strings shapes of the
// cdn field.
func ksDecodeCDN(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// ksUploadTime recovers the upload date embedded in CDN paths, either as a
// /YYYY/MM/DD/ segment or an _epoch_ marker.
func ksUploadTime(rawURL string) int64 {
	if m := ksDatePathRe.FindStringSubmatch(rawURL); m != nil {
		t, err := time.ParseInLocation("2006-01-02", m[1]+"-"+m[2]+"-"+m[3], time.Local)
		if err == nil {
			return t.Unix()
		}
	}
	if m := ksDateTsRe.FindStringSubmatch(rawURL); m != nil {
		ts, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0
		}
		if len(m[1]) == 13 {
			ts /= 1000
		}
		return ts
	}
	return 0
}
