package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/internal/resolver"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

var (
	xhsShortRe = regexp.MustCompile(`https?://xhslink\.com/[^\s,，]+`)
	xhsNoteRe  = regexp.MustCompile(`https?://(?:www\.)?xiaohongshu\.com/(?:explore|discovery/item)/([0-9a-fA-F]+)[^\s]*`)

	xhsTitleRe    = regexp.MustCompile(`<meta\s+name="og:title"\s+content="([^"]*)"`)
	xhsDescRe     = regexp.MustCompile(`<meta\s+name="description"\s+content="([^"]*)"`)
	xhsAuthorRe   = regexp.MustCompile(`"nickname"\s*:\s*"([^"]+)"`)
	xhsTimeRe     = regexp.MustCompile(`"time"\s*:\s*(\d{10,13})`)
	xhsMasterRe   = regexp.MustCompile(`"masterUrl"\s*:\s*"(https?:[^"]+)"`)
	xhsOGImageRe  = regexp.MustCompile(`<meta\s+name="og:image"\s+content="([^"]+)"`)
	xhsURLDefRe   = regexp.MustCompile(`"urlDefault"\s*:\s*"(https?:[^"]+)"`)
	xhsOGVideoRe  = regexp.MustCompile(`<meta\s+name="og:video"\s+content="([^"]+)"`)
	xhsEscSlashRe = strings.NewReplacer(`\u002F`, "/", `\/`, "/")
)

// Xiaohongshu scrapes note pages. Notes are either a single video or an
// image gallery; both surface in the og: meta tags and the embedded initial
// state JSON.
type Xiaohongshu struct {
	client  *httpclient.Client
	logger  *slog.Logger
	headers map[string]string
}

// NewXiaohongshu creates the xiaohongshu parser.
func NewXiaohongshu(opts resolver.Options) resolver.Parser {
	return &Xiaohongshu{
		client: opts.Client,
		logger: opts.Logger,
		headers: map[string]string{
			"User-Agent": desktopChromeUA,
			"Referer":    "https://www.xiaohongshu.com/",
		},
	}
}

func (p *Xiaohongshu) Name() string { return "xiaohongshu" }

func (p *Xiaohongshu) CanParse(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "xiaohongshu.com") || strings.Contains(lower, "xhslink.com")
}

func (p *Xiaohongshu) ExtractLinks(text string) []string {
	var links []string
	links = append(links, xhsShortRe.FindAllString(text, -1)...)
	for _, m := range xhsNoteRe.FindAllStringSubmatch(text, -1) {
		links = append(links, "https://www.xiaohongshu.com/explore/"+m[1])
	}
	return dedupe(links)
}

func (p *Xiaohongshu) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	resp, err := p.client.GetWithHeaders(ctx, rawURL, p.headers)
	if err != nil {
		return nil, fmt.Errorf("fetching note page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("note page returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading note page: %w", err)
	}
	html := xhsEscSlashRe.Replace(string(body))

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	record := &media.PostRecord{
		URL:          finalURL,
		SourceURL:    rawURL,
		VideoHeaders: cloneHeaders(p.headers),
		ImageHeaders: cloneHeaders(p.headers),
	}
	if m := xhsTitleRe.FindStringSubmatch(html); m != nil {
		record.Title = htmlUnescapeBasic(m[1])
	}
	if m := xhsDescRe.FindStringSubmatch(html); m != nil {
		record.Description = htmlUnescapeBasic(m[1])
	}
	if m := xhsAuthorRe.FindStringSubmatch(html); m != nil {
		record.Author = m[1]
	}
	if m := xhsTimeRe.FindStringSubmatch(html); m != nil {
		record.Timestamp = parseEpoch(m[1])
	}

	// A video note wins over the gallery: the og:image entries on a video
	// note are just cover frames.
	if videoURL := xhsVideoURL(html); videoURL != "" {
		record.VideoURLGroups = [][]string{{videoURL}}
		return record, nil
	}

	for _, group := range xhsImageGroups(html) {
		record.ImageURLGroups = append(record.ImageURLGroups, group)
	}
	if !record.HasMedia() {
		return nil, fmt.Errorf("no media in note page %s", finalURL)
	}
	return record, nil
}

func xhsVideoURL(html string) string {
	if m := xhsMasterRe.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	if m := xhsOGVideoRe.FindStringSubmatch(html); m != nil {
		return htmlUnescapeBasic(m[1])
	}
	return ""
}

// xhsImageGroups prefers the initial-state urlDefault entries; og:image
// meta tags are the fallback for logged-out markup.
func xhsImageGroups(html string) [][]string {
	var groups [][]string
	seen := make(map[string]bool)

	for _, m := range xhsURLDefRe.FindAllStringSubmatch(html, -1) {
		u := m[1]
		if !seen[u] {
			seen[u] = true
			groups = append(groups, []string{u})
		}
	}
	if len(groups) > 0 {
		return groups
	}

	for _, m := range xhsOGImageRe.FindAllStringSubmatch(html, -1) {
		u := htmlUnescapeBasic(m[1])
		if !seen[u] {
			seen[u] = true
			groups = append(groups, []string{u})
		}
	}
	return groups
}

func htmlUnescapeBasic(s string) string {
	return strings.NewReplacer("&amp;", "&", "&quot;", `"`, "&#39;", "'").Replace(s)
}
