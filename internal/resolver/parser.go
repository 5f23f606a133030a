// Package resolver holds the parser registry and the dispatch manager that
// turns arbitrary text into normalized post records.
package resolver

import (
	"context"
	"log/slog"

	"github.com/resolvarr/resolvarr/internal/media"
	"github.com/resolvarr/resolvarr/pkg/httpclient"
)

// Parser is the contract each platform extractor implements.
type Parser interface {
	// Name identifies the parser in configuration and logs.
	Name() string

	// CanParse is a cheap syntactic check on a single URL.
	CanParse(rawURL string) bool

	// ExtractLinks locates every candidate URL for this platform in
	// arbitrary text, de-duplicated and canonicalized.
	ExtractLinks(text string) []string

	// Parse fetches and normalizes one URL. On success the record always
	// carries both URL group lists, possibly empty.
	Parse(ctx context.Context, rawURL string) (*media.PostRecord, error)
}

// Options are the common parameters handed to every parser constructor.
type Options struct {
	Client *httpclient.Client
	Logger *slog.Logger

	// Twitter media proxying. Only the twitter parser reads these; they
	// flow through PostRecord so the download layer routes per-item.
	TwitterUseImageProxy bool
	TwitterUseVideoProxy bool
	TwitterProxyURL      string
}

// Descriptor declares a parser to the registry before instantiation.
type Descriptor struct {
	Name string

	// RequiresProxy marks parsers that only work when a proxy URL is
	// configured. Build skips them when Options carries no proxy.
	RequiresProxy bool

	New func(Options) Parser
}
