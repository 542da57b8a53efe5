package search

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/delver/config"
)

const tavilyBaseURL = "https://api.tavily.com"

func init() {
	Register(TavilyProvider, func(cfg config.ProvidersConfig, client *HTTPClient) Searcher {
		return &Tavily{cfg: cfg.Tavily, http: client, baseURL: tavilyBaseURL}
	})
}

// Tavily talks to the Tavily search API.
// https://docs.tavily.com/docs/rest-api/api-reference
type Tavily struct {
	cfg     config.TavilyConfig
	http    *HTTPClient
	baseURL string
}

func (t *Tavily) Configured(ctx context.Context) bool {
	return strings.TrimSpace(t.cfg.APIKey) != ""
}

func (t *Tavily) Search(ctx context.Context, query string, opts Options) (RawResult, error) {
	depth := opts.SearchDepth
	if depth == "" {
		depth = t.cfg.SearchDepth
	}
	k := opts.MaxResults
	if k <= 0 {
		k = t.cfg.MaxResults
	}
	includeAnswer := t.cfg.IncludeAnswer
	if opts.IncludeAnswer != nil {
		includeAnswer = *opts.IncludeAnswer
	}

	body := map[string]interface{}{
		"api_key":        t.cfg.APIKey,
		"query":          query,
		"search_depth":   depth,
		"max_results":    k,
		"include_answer": includeAnswer,
	}
	if opts.TimeRangeDays > 0 {
		body["days"] = opts.TimeRangeDays
	}

	var raw RawResult
	if err := t.http.DoJSON(ctx, "POST", t.baseURL+"/search", nil, body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
