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
	"strings"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/resolver"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

var (
	xhhShareRe = regexp.MustCompile(`https?://(?:api\.|www\.)?xiaoheihe\.cn/[^\s]+`)
	xhhLinkRe  = regexp.MustCompile(`/link/(\d+)`)

	xhhTitleRe    = regexp.MustCompile(`"title"\s*:\s*"([^"]*(?:\\.[^"]*)*)"`)
	xhhAuthorRe   = regexp.MustCompile(`"username"\s*:\s*"([^"]+)"`)
	xhhTimeRe     = regexp.MustCompile(`"create_at"\s*:\s*(\d{10,13})`)
	xhhVideoRe    = regexp.MustCompile(`"video_url"\s*:\s*"(https?:[^"]+)"`)
	xhhImgListRe  = regexp.MustCompile(`"imgs"\s*:\s*(\[[^\]]*\])`)
	xhhEscSlashRe = strings.NewReplacer(`\/`, "/")
)

// Xiaoheihe scrapes link share pages. Posts mix images with stream videos;
// stream URLs get the m3u8 hint so the router treats them as HLS.
type Xiaoheihe struct {
	client  *httpclient.Client
	logger  *slog.Logger
	headers map[string]string
}

// NewXiaoheihe creates the xiaoheihe parser.
func NewXiaoheihe(opts resolver.Options) resolver.Parser {
	return &Xiaoheihe{
		client: opts.Client,
		logger: opts.Logger,
		headers: map[string]string{
			"User-Agent": androidChromeUA,
			"Referer":    "https://www.xiaoheihe.cn/",
		},
	}
}

func (p *Xiaoheihe) Name() string { return "xiaoheihe" }

func (p *Xiaoheihe) CanParse(rawURL string) bool {
	return strings.Contains(strings.ToLower(rawURL), "xiaoheihe.cn")
}

// ExtractLinks canonicalizes share links to the web post page, carrying
// over the appid and game_type parameters the share endpoint requires.
func (p *Xiaoheihe) ExtractLinks(text string) []string {
	var links []string
	for _, raw := range xhhShareRe.FindAllString(text, -1) {
		if canonical := xhhCanonicalURL(raw); canonical != "" {
			links = append(links, canonical)
		}
	}
	return dedupe(links)
}

func xhhCanonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	linkID := u.Query().Get("link_id")
	if linkID == "" {
		if m := xhhLinkRe.FindStringSubmatch(u.Path); m != nil {
			linkID = m[1]
		}
	}
	if linkID == "" {
		return ""
	}

	q := url.Values{}
	if appid := u.Query().Get("appid"); appid != "" {
		q.Set("appid", appid)
	}
	if gameType := u.Query().Get("game_type"); gameType != "" {
		q.Set("game_type", gameType)
	}

	canonical := "https://www.xiaoheihe.cn/app/bbs/link/" + linkID
	if len(q) > 0 {
		canonical += "?" + q.Encode()
	}
	return canonical
}

func (p *Xiaoheihe) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	resp, err := p.client.GetWithHeaders(ctx, rawURL, p.headers)
	if err != nil {
		return nil, fmt.Errorf("fetching post page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("post page returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading post page: %w", err)
	}
	html := xhhEscSlashRe.Replace(string(body))

	record := &media.PostRecord{
		URL:          rawURL,
		SourceURL:    rawURL,
		VideoHeaders: cloneHeaders(p.headers),
		ImageHeaders: cloneHeaders(p.headers),
	}
	if m := xhhTitleRe.FindStringSubmatch(html); m != nil {
		record.Title = ksUnescape(m[1])
	}
	if m := xhhAuthorRe.FindStringSubmatch(html); m != nil {
		record.Author = m[1]
	}
	if m := xhhTimeRe.FindStringSubmatch(html); m != nil {
		record.Timestamp = parseEpoch(m[1])
	}

	if m := xhhVideoRe.FindStringSubmatch(html); m != nil {
		record.VideoURLGroups = [][]string{{xhhTagStream(m[1])}}
	}
	for _, img := range xhhImages(html) {
		record.ImageURLGroups = append(record.ImageURLGroups, []string{img})
	}

	if !record.HasMedia() && record.Title == "" {
		return nil, fmt.Errorf("no post content in %s", rawURL)
	}
	return record, nil
}

// xhhTagStream prefixes stream URLs with the HLS hint. Xiaoheihe serves
// streams from play endpoints without a .m3u8 path, so the parser tags them
// for the download router. Plain .mp4 URLs pass through untouched.
func xhhTagStream(rawURL string) string {
	lower := strings.ToLower(rawURL)
	if strings.Contains(lower, "m3u8") || strings.Contains(lower, "/stream/") {
		return media.HLSHintPrefix + rawURL
	}
	return rawURL
}

func xhhImages(html string) []string {
	m := xhhImgListRe.FindStringSubmatch(html)
	if m == nil {
		return nil
	}
	var imgs []string
	if err := json.Unmarshal([]byte(m[1]), &imgs); err != nil {
		return nil
	}
	var valid []string
	for _, u := range imgs {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			valid = append(valid, u)
		}
	}
	return dedupe(valid)
}
