package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resolvarr/resolvarr/internal/config"
	"github.com/resolvarr/resolvarr/internal/media"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeParser claims URLs containing its host marker and extracts them with
// a simple regexp.
type fakeParser struct {
	name     string
	host     string
	parseErr error
	delay    time.Duration

	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    atomic.Int32
}

func (p *fakeParser) Name() string { return p.name }

func (p *fakeParser) CanParse(rawURL string) bool {
	return strings.Contains(rawURL, p.host)
}

func (p *fakeParser) ExtractLinks(text string) []string {
	re := regexp.MustCompile(`https://` + regexp.QuoteMeta(p.host) + `/\w+`)
	var out []string
	seen := map[string]bool{}
	for _, m := range re.FindAllString(text, -1) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

func (p *fakeParser) Parse(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	p.calls.Add(1)

	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxSeen {
		p.maxSeen = p.inFlight
	}
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()

	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return &media.PostRecord{
		URL:            rawURL,
		Title:          p.name + " post",
		ImageURLGroups: [][]string{{rawURL + "/img.jpg"}},
	}, nil
}

func TestRegistry_OrderAndDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Descriptor{Name: "a", New: func(Options) Parser { return &fakeParser{name: "a", host: "a.example.com"} }}))
	require.NoError(t, r.Register(Descriptor{Name: "b", New: func(Options) Parser { return &fakeParser{name: "b", host: "b.example.com"} }}))

	assert.Equal(t, []string{"a", "b"}, r.Names())

	err := r.Register(Descriptor{Name: "a", New: func(Options) Parser { return nil }})
	assert.Error(t, err)

	assert.Error(t, r.Register(Descriptor{Name: "", New: func(Options) Parser { return nil }}))
	assert.Error(t, r.Register(Descriptor{Name: "c"}))
}

func TestRegistry_BuildHonorsEnableAndProxy(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "open", New: func(Options) Parser { return &fakeParser{name: "open", host: "open.example.com"} }})
	r.MustRegister(Descriptor{Name: "gated", RequiresProxy: true, New: func(Options) Parser { return &fakeParser{name: "gated", host: "gated.example.com"} }})
	r.MustRegister(Descriptor{Name: "off", New: func(Options) Parser { return &fakeParser{name: "off", host: "off.example.com"} }})

	cfg := config.ParserConfig{
		Enable:      map[string]bool{"off": false},
		Concurrency: 10,
	}

	// No proxy: the proxy-requiring parser is skipped too.
	m := r.Build(cfg, Options{}, quietLogger())
	assert.Equal(t, []string{"open"}, m.ParserNames())

	// With a proxy it comes back, in registration order.
	m = r.Build(cfg, Options{TwitterProxyURL: "socks5://127.0.0.1:1080"}, quietLogger())
	assert.Equal(t, []string{"open", "gated"}, m.ParserNames())
}

func TestManager_FirstCanParseWins(t *testing.T) {
	broad := &fakeParser{name: "broad", host: "example.com"}
	narrow := &fakeParser{name: "narrow", host: "narrow.example.com"}
	m := NewManager([]Parser{narrow, broad}, 10, quietLogger())

	p := m.ParserFor("https://narrow.example.com/x")
	require.NotNil(t, p)
	assert.Equal(t, "narrow", p.Name())

	p = m.ParserFor("https://other.example.com/x")
	require.NotNil(t, p)
	assert.Equal(t, "broad", p.Name())

	assert.Nil(t, m.ParserFor("https://unrelated.net/x"))
}

func TestManager_ParseText(t *testing.T) {
	a := &fakeParser{name: "a", host: "a.example.com"}
	b := &fakeParser{name: "b", host: "b.example.com"}
	m := NewManager([]Parser{a, b}, 10, quietLogger())

	text := "look https://a.example.com/one and https://b.example.com/two plus https://a.example.com/one again"
	records := m.ParseText(context.Background(), text)

	require.Len(t, records, 2, "duplicate link collapsed")
	assert.Equal(t, "https://a.example.com/one", records[0].URL)
	assert.Equal(t, "https://b.example.com/two", records[1].URL)
	for _, rec := range records {
		assert.Empty(t, rec.Error)
		assert.True(t, rec.HasMedia())
	}
}

func TestManager_ParseText_ErrorRecord(t *testing.T) {
	ok := &fakeParser{name: "ok", host: "ok.example.com"}
	bad := &fakeParser{name: "bad", host: "bad.example.com", parseErr: fmt.Errorf("origin said no")}
	m := NewManager([]Parser{ok, bad}, 10, quietLogger())

	records := m.ParseText(context.Background(), "https://bad.example.com/x https://ok.example.com/y")
	require.Len(t, records, 2)

	assert.Equal(t, "https://bad.example.com/x", records[0].URL)
	assert.Contains(t, records[0].Error, "origin said no")
	assert.False(t, records[0].HasMedia(), "error record carries no media")

	assert.Empty(t, records[1].Error)
}

func TestManager_ParseText_NoLinks(t *testing.T) {
	m := NewManager([]Parser{&fakeParser{name: "a", host: "a.example.com"}}, 10, quietLogger())
	assert.Nil(t, m.ParseText(context.Background(), "no links here"))
}

func TestManager_PerParserConcurrencyCeiling(t *testing.T) {
	p := &fakeParser{name: "slow", host: "slow.example.com", delay: 30 * time.Millisecond}
	m := NewManager([]Parser{p}, 2, quietLogger())

	var links []string
	for i := 0; i < 8; i++ {
		links = append(links, fmt.Sprintf("https://slow.example.com/p%d", i))
	}
	records := m.ParseText(context.Background(), strings.Join(links, " "))

	require.Len(t, records, 8)
	assert.Equal(t, int32(8), p.calls.Load())
	assert.LessOrEqual(t, p.maxSeen, 2, "semaphore bounds parallel parses")
}

func TestManager_ParseURL(t *testing.T) {
	p := &fakeParser{name: "a", host: "a.example.com"}
	m := NewManager([]Parser{p}, 10, quietLogger())

	rec, err := m.ParseURL(context.Background(), "https://a.example.com/one")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "https://a.example.com/one", rec.URL)

	rec, err = m.ParseURL(context.Background(), "https://unclaimed.net/one")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
