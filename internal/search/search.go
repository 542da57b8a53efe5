package search

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/delver/config"
)

// Provider identifies one search backend.
type Provider string

const (
	TavilyProvider     Provider = "tavily"
	BraveProvider      Provider = "brave"
	BingProvider       Provider = "bing"
	ExaProvider        Provider = "exa"
	DuckDuckGoProvider Provider = "duckduckgo"
	ArxivProvider      Provider = "arxiv"
)

// Error describes a search-layer failure.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return e.Msg }

var ErrUnknownProvider = &Error{"unknown provider"}

// SearchError reports a failed call to one backend. The orchestrator logs it
// and moves on to the next provider in the fallback chain.
type SearchError struct {
	Provider Provider
	Op       string
	Err      error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// RawResult is a backend's native payload before normalization.
type RawResult map[string]interface{}

// Result is one canonical search hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Response is the canonical shape every backend is normalized into.
type Response struct {
	Success  bool     `json:"success"`
	Error    string   `json:"error,omitempty"`
	Results  []Result `json:"results"`
	Answer   string   `json:"answer,omitempty"`
	Provider Provider `json:"provider,omitempty"`
}

// Options is the union of per-backend search knobs. Each backend reads the
// subset it understands and ignores the rest.
type Options struct {
	MaxResults    int
	SearchDepth   string
	TimeRangeDays int
	Freshness     string
	Region        string
	SafeSearch    string
	UseHighlights *bool
	IncludeAnswer *bool
}

// Merge overlays caller-supplied options onto defaults. Caller wins for every
// field it actually set.
func (o Options) Merge(caller Options) Options {
	if caller.MaxResults > 0 {
		o.MaxResults = caller.MaxResults
	}
	if caller.SearchDepth != "" {
		o.SearchDepth = caller.SearchDepth
	}
	if caller.TimeRangeDays > 0 {
		o.TimeRangeDays = caller.TimeRangeDays
	}
	if caller.Freshness != "" {
		o.Freshness = caller.Freshness
	}
	if caller.Region != "" {
		o.Region = caller.Region
	}
	if caller.SafeSearch != "" {
		o.SafeSearch = caller.SafeSearch
	}
	if caller.UseHighlights != nil {
		o.UseHighlights = caller.UseHighlights
	}
	if caller.IncludeAnswer != nil {
		o.IncludeAnswer = caller.IncludeAnswer
	}
	return o
}

// Searcher is the capability contract every backend client implements.
// Configured is a cheap credential/liveness check and must not fail loudly;
// Search issues exactly one backend call, blocking first if the backend
// mandates minimum request spacing.
type Searcher interface {
	Configured(ctx context.Context) bool
	Search(ctx context.Context, query string, opts Options) (RawResult, error)
}

// Constructor builds one backend client from configuration.
type Constructor func(cfg config.ProvidersConfig, client *HTTPClient) Searcher

// registry maps provider ids to constructors. Populated by init funcs in the
// per-backend files; fixed for the life of the process.
var registry = map[Provider]Constructor{}

// Register adds a provider constructor to the table.
func Register(p Provider, ctor Constructor) {
	registry[p] = ctor
}

// New instantiates the client for a provider id.
func New(p Provider, cfg config.ProvidersConfig, client *HTTPClient) (Searcher, error) {
	ctor, ok := registry[p]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return ctor(cfg, client), nil
}

// Registered lists every provider id known to the registry.
func Registered() []Provider {
	out := make([]Provider, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	return out
}
