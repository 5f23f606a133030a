package platform

import (
	"context"
	"encoding/json"
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

const douyinShareBase = "https://www.iesdouyin.com"

var (
	douyinShortRe = regexp.MustCompile(`https?://v\.douyin\.com/[^\s]+`)
	douyinNoteRe  = regexp.MustCompile(`https?://(?:www\.)?douyin\.com/note/(\d+)`)
	douyinVideoRe = regexp.MustCompile(`https?://(?:www\.)?douyin\.com/video/(\d+)`)
	douyinWebRe   = regexp.MustCompile(`https?://(?:www\.)?douyin\.com/[^\s]*?(\d{19})[^\s]*`)
	douyinItemRe  = regexp.MustCompile(`(\d{19})`)
)

// Douyin resolves douyin share links through the iesdouyin share pages,
// whose embedded router data carries the full item description.
type Douyin struct {
	client    *httpclient.Client
	logger    *slog.Logger
	shareBase string
	headers   map[string]string
}

// NewDouyin creates the douyin parser.
func NewDouyin(opts resolver.Options) resolver.Parser {
	return &Douyin{
		client:    opts.Client,
		logger:    opts.Logger,
		shareBase: douyinShareBase,
		headers: map[string]string{
			"User-Agent": androidChromeUA,
			"Referer":    "https://www.douyin.com/?is_from_mobile_home=1&recommend=1",
		},
	}
}

func (p *Douyin) Name() string { return "douyin" }

func (p *Douyin) CanParse(rawURL string) bool {
	return rawURL != "" && strings.Contains(rawURL, "douyin.com")
}

// ExtractLinks finds short links as-is and collapses long-form links to
// canonical /note/<id> or /video/<id> URLs, de-duplicated by item id.
func (p *Douyin) ExtractLinks(text string) []string {
	var links []string
	seenIDs := make(map[string]bool)

	links = append(links, douyinShortRe.FindAllString(text, -1)...)

	for _, m := range douyinNoteRe.FindAllStringSubmatch(text, -1) {
		if !seenIDs[m[1]] {
			seenIDs[m[1]] = true
			links = append(links, "https://www.douyin.com/note/"+m[1])
		}
	}
	for _, m := range douyinVideoRe.FindAllStringSubmatch(text, -1) {
		if !seenIDs[m[1]] {
			seenIDs[m[1]] = true
			links = append(links, "https://www.douyin.com/video/"+m[1])
		}
	}
	for _, m := range douyinWebRe.FindAllStringSubmatch(text, -1) {
		if seenIDs[m[1]] {
			continue
		}
		if strings.Contains(m[0], "/note/") || strings.Contains(m[0], "/video/") {
			continue
		}
		seenIDs[m[1]] = true
		links = append(links, "https://www.douyin.com/video/"+m[1])
	}

	return dedupe(links)
}

func (p *Douyin) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	finalURL := p.resolveRedirect(ctx, rawURL)
	isNote := strings.Contains(finalURL, "/note/") || strings.Contains(rawURL, "/note/")

	itemID := douyinItemID(finalURL)
	if itemID == "" {
		itemID = douyinItemID(rawURL)
	}
	if itemID == "" {
		return nil, fmt.Errorf("no item id in %s", finalURL)
	}

	item, err := p.fetchItem(ctx, itemID, isNote)
	if err != nil {
		return nil, err
	}

	kind := "video"
	if isNote {
		kind = "note"
	}
	record := &media.PostRecord{
		URL:       fmt.Sprintf("https://www.douyin.com/%s/%s", kind, itemID),
		SourceURL: rawURL,
		Title:     item.Desc,
		Author:    formatAuthor(item.Author.Nickname, item.Author.UniqueID),
		Timestamp: item.CreateTime,
	}

	for _, img := range item.Images {
		var group []string
		for _, u := range img.URLList {
			if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
				group = append(group, u)
			}
		}
		if len(group) > 0 {
			record.ImageURLGroups = append(record.ImageURLGroups, group)
		}
	}

	// Galleries never carry a playable video; the video field is the cover
	// animation.
	if len(record.ImageURLGroups) == 0 {
		if u := douyinPlayURL(item.Video.PlayAddr.URI); u != "" {
			record.VideoURLGroups = [][]string{{u}}
		}
	}

	headers := cloneHeaders(p.headers)
	headers["Referer"] = "https://www.douyin.com/"
	record.VideoHeaders = headers
	record.ImageHeaders = cloneHeaders(headers)

	return record, nil
}

// resolveRedirect follows the short-link redirect chain and returns the
// final URL; on failure the original URL is kept so id extraction can still
// try it.
func (p *Douyin) resolveRedirect(ctx context.Context, rawURL string) string {
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

func douyinItemID(u string) string {
	for _, re := range []*regexp.Regexp{douyinNoteRe, douyinVideoRe} {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	if m := douyinItemRe.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

// douyinPlayURL normalizes a play_addr URI. Bare video ids go through the
// aweme play endpoint; audio posts and already-absolute URLs pass through.
func douyinPlayURL(uri string) string {
	switch {
	case uri == "":
		return ""
	case strings.HasSuffix(uri, ".mp3"):
		return uri
	case strings.HasPrefix(uri, "https://"):
		return uri
	default:
		return "https://www.douyin.com/aweme/v1/play/?video_id=" + uri
	}
}

func formatAuthor(nickname, uid string) string {
	switch {
	case nickname != "" && uid != "":
		return fmt.Sprintf("%s(uid:%s)", nickname, uid)
	case nickname != "":
		return nickname
	case uid != "":
		return fmt.Sprintf("(uid:%s)", uid)
	default:
		return ""
	}
}

type douyinItem struct {
	Desc       string `json:"desc"`
	CreateTime int64  `json:"create_time"`
	Author     struct {
		Nickname string `json:"nickname"`
		UniqueID string `json:"unique_id"`
	} `json:"author"`
	Images []struct {
		URLList []string `json:"url_list"`
	} `json:"images"`
	Video struct {
		PlayAddr struct {
			URI string `json:"uri"`
		} `json:"play_addr"`
		Cover struct {
			URLList []string `json:"url_list"`
		} `json:"cover"`
	} `json:"video"`
}

type douyinLoaderEntry struct {
	VideoInfoRes  *douyinItemList `json:"videoInfoRes"`
	NoteDetailRes *douyinItemList `json:"noteDetailRes"`
}

type douyinItemList struct {
	ItemList []douyinItem `json:"item_list"`
}

// fetchItem loads the iesdouyin share page for the item and decodes the
// router data blob embedded in it.
func (p *Douyin) fetchItem(ctx context.Context, itemID string, isNote bool) (*douyinItem, error) {
	kind := "video"
	if isNote {
		kind = "note"
	}
	shareURL := fmt.Sprintf("%s/share/%s/%s/", p.shareBase, kind, itemID)

	resp, err := p.client.GetWithHeaders(ctx, shareURL, p.headers)
	if err != nil {
		return nil, fmt.Errorf("fetching share page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("share page returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading share page: %w", err)
	}

	blob := extractRouterData(string(body))
	if blob == "" {
		return nil, fmt.Errorf("no router data in share page for item %s", itemID)
	}
	blob = strings.NewReplacer(`\u002F`, "/", `\/`, "/").Replace(blob)

	var router struct {
		LoaderData map[string]json.RawMessage `json:"loaderData"`
	}
	if err := json.Unmarshal([]byte(blob), &router); err != nil {
		return nil, fmt.Errorf("decoding router data: %w", err)
	}

	for _, raw := range router.LoaderData {
		var entry douyinLoaderEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		list := entry.VideoInfoRes
		if list == nil {
			list = entry.NoteDetailRes
		}
		if list != nil && len(list.ItemList) > 0 {
			return &list.ItemList[0], nil
		}
	}
	return nil, fmt.Errorf("router data carries no item for %s", itemID)
}

// extractRouterData returns the balanced JSON object assigned to
// window._ROUTER_DATA, or empty when absent.
func extractRouterData(html string) string {
	const marker = "window._ROUTER_DATA = "
	start := strings.Index(html, marker)
	if start == -1 {
		return ""
	}
	braceStart := strings.IndexByte(html[start:], '{')
	if braceStart == -1 {
		return ""
	}
	braceStart += start

	depth := 0
	for i := braceStart; i < len(html); i++ {
		switch html[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return html[braceStart : i+1]
			}
		}
	}
	return ""
}
