package resolver

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/resolvarr/resolvarr/internal/media"
)

// managedParser pairs a parser with its parse-concurrency limiter. Each
// parser gets its own semaphore so a slow platform cannot starve the rest.
type managedParser struct {
	parser Parser
	sem    *semaphore.Weighted
}

// Manager dispatches URLs to parsers. Parsers are consulted in the order
// they were registered; the first whose CanParse accepts a URL owns it.
type Manager struct {
	parsers []*managedParser
	logger  *slog.Logger
}

// NewManager wraps parsers with a per-parser concurrency ceiling.
func NewManager(parsers []Parser, concurrency int64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	managed := make([]*managedParser, 0, len(parsers))
	for _, p := range parsers {
		managed = append(managed, &managedParser{
			parser: p,
			sem:    semaphore.NewWeighted(concurrency),
		})
	}
	return &Manager{parsers: managed, logger: logger}
}

// ParserNames returns the active parsers in dispatch order.
func (m *Manager) ParserNames() []string {
	names := make([]string, 0, len(m.parsers))
	for _, mp := range m.parsers {
		names = append(names, mp.parser.Name())
	}
	return names
}

// ParserFor returns the first parser claiming rawURL, or nil.
func (m *Manager) ParserFor(rawURL string) Parser {
	if mp := m.ownerOf(rawURL); mp != nil {
		return mp.parser
	}
	return nil
}

func (m *Manager) ownerOf(rawURL string) *managedParser {
	for _, mp := range m.parsers {
		if mp.parser.CanParse(rawURL) {
			return mp
		}
	}
	return nil
}

// ParseText scans text for platform links and parses each one. Records come
// back in discovery order; a link whose parse fails yields a record carrying
// the error and no media. Distinct links parse in parallel, bounded by each
// owning parser's semaphore.
func (m *Manager) ParseText(ctx context.Context, text string) []*media.PostRecord {
	type job struct {
		owner *managedParser
		url   string
	}

	seen := make(map[string]bool)
	var jobs []job
	for _, mp := range m.parsers {
		for _, link := range mp.parser.ExtractLinks(text) {
			if seen[link] {
				continue
			}
			// The extracting parser does not automatically own the link:
			// dispatch order decides, same as for a bare URL.
			owner := m.ownerOf(link)
			if owner == nil {
				continue
			}
			seen[link] = true
			jobs = append(jobs, job{owner: owner, url: link})
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	records := make([]*media.PostRecord, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			records[i] = m.parseOne(ctx, j.owner, j.url)
		}(i, j)
	}
	wg.Wait()

	return records
}

// ParseURL parses a single URL with the parser that claims it. A URL no
// parser claims returns (nil, nil).
func (m *Manager) ParseURL(ctx context.Context, rawURL string) (*media.PostRecord, error) {
	mp := m.ownerOf(rawURL)
	if mp == nil {
		return nil, nil
	}

	if err := mp.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer mp.sem.Release(1)

	return mp.parser.Parse(ctx, rawURL)
}

// parseOne runs one bounded parse, converting failure into an error record.
func (m *Manager) parseOne(ctx context.Context, mp *managedParser, rawURL string) *media.PostRecord {
	if err := mp.sem.Acquire(ctx, 1); err != nil {
		return &media.PostRecord{URL: rawURL, Error: err.Error()}
	}
	defer mp.sem.Release(1)

	record, err := mp.parser.Parse(ctx, rawURL)
	if err != nil {
		m.logger.Warn("parse failed",
			slog.String("parser", mp.parser.Name()),
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return &media.PostRecord{URL: rawURL, Error: err.Error()}
	}
	if record.URL == "" {
		record.URL = rawURL
	}
	return record
}
