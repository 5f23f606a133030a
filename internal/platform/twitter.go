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

const twitterAPIBase = "https://api.fxtwitter.com"

var (
	twitterStatusRe = regexp.MustCompile(`https?://(?:www\.)?(?:twitter|x)\.com/(?:\w+|i(?:/web)?)/status(?:es)?/(\d+)`)
)

// Twitter resolves tweets through an fxtwitter-compatible JSON API, which
// exposes media without authentication. Media fetches are routed through
// the configured proxy according to the per-kind flags.
type Twitter struct {
	client  *httpclient.Client
	logger  *slog.Logger
	apiBase string
	headers map[string]string

	useImageProxy bool
	useVideoProxy bool
	proxyURL      string
}

// NewTwitter creates the twitter parser.
func NewTwitter(opts resolver.Options) resolver.Parser {
	return &Twitter{
		client:  opts.Client,
		logger:  opts.Logger,
		apiBase: twitterAPIBase,
		headers: map[string]string{
			"User-Agent": desktopChromeUA,
		},
		useImageProxy: opts.TwitterUseImageProxy,
		useVideoProxy: opts.TwitterUseVideoProxy,
		proxyURL:      opts.TwitterProxyURL,
	}
}

func (p *Twitter) Name() string { return "twitter" }

func (p *Twitter) CanParse(rawURL string) bool {
	return twitterStatusRe.MatchString(rawURL)
}

func (p *Twitter) ExtractLinks(text string) []string {
	var links []string
	for _, m := range twitterStatusRe.FindAllStringSubmatch(text, -1) {
		links = append(links, "https://x.com/i/status/"+m[1])
	}
	return dedupe(links)
}

type fxTweet struct {
	Text   string `json:"text"`
	Author struct {
		Name       string `json:"name"`
		ScreenName string `json:"screen_name"`
	} `json:"author"`
	CreatedTimestamp int64 `json:"created_timestamp"`
	Media            *struct {
		Videos []struct {
			URL string `json:"url"`
		} `json:"videos"`
		Photos []struct {
			URL string `json:"url"`
		} `json:"photos"`
	} `json:"media"`
}

func (p *Twitter) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	m := twitterStatusRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, fmt.Errorf("no status id in %s", rawURL)
	}
	statusID := m[1]

	resp, err := p.client.GetWithHeaders(ctx, p.apiBase+"/i/status/"+statusID, p.headers)
	if err != nil {
		return nil, fmt.Errorf("fetching tweet: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tweet API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Code    int     `json:"code"`
		Message string  `json:"message"`
		Tweet   fxTweet `json:"tweet"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding tweet: %w", err)
	}
	if payload.Code != http.StatusOK {
		return nil, fmt.Errorf("tweet API returned code %d: %s", payload.Code, payload.Message)
	}
	tweet := payload.Tweet

	author := tweet.Author.Name
	if tweet.Author.ScreenName != "" {
		author = fmt.Sprintf("%s(@%s)", tweet.Author.Name, tweet.Author.ScreenName)
	}

	record := &media.PostRecord{
		URL:           "https://x.com/i/status/" + statusID,
		SourceURL:     rawURL,
		Title:         firstTextLine(tweet.Text),
		Description:   tweet.Text,
		Author:        author,
		Timestamp:     tweet.CreatedTimestamp,
		UseImageProxy: p.useImageProxy,
		UseVideoProxy: p.useVideoProxy,
		ProxyURL:      p.proxyURL,
		VideoHeaders:  cloneHeaders(p.headers),
		ImageHeaders:  cloneHeaders(p.headers),
	}

	if tweet.Media != nil {
		for _, v := range tweet.Media.Videos {
			if v.URL != "" {
				record.VideoURLGroups = append(record.VideoURLGroups, []string{v.URL})
			}
		}
		for _, ph := range tweet.Media.Photos {
			if ph.URL != "" {
				record.ImageURLGroups = append(record.ImageURLGroups, []string{ph.URL})
			}
		}
	}
	return record, nil
}

func firstTextLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
