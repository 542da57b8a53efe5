package search

import (
	"context"
	"strings"
	"time"

	"github.com/mohammad-safakhou/delver/config"
)

const exaBaseURL = "https://api.exa.ai"

func init() {
	Register(ExaProvider, func(cfg config.ProvidersConfig, client *HTTPClient) Searcher {
		return &Exa{cfg: cfg.Exa, http: client, baseURL: exaBaseURL}
	})
}

// Exa talks to the Exa neural search API.
// https://docs.exa.ai/reference/search
type Exa struct {
	cfg     config.ExaConfig
	http    *HTTPClient
	baseURL string
}

func (e *Exa) Configured(ctx context.Context) bool {
	return strings.TrimSpace(e.cfg.APIKey) != ""
}

func (e *Exa) Search(ctx context.Context, query string, opts Options) (RawResult, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = e.cfg.MaxResults
	}
	highlights := e.cfg.UseHighlights
	if opts.UseHighlights != nil {
		highlights = *opts.UseHighlights
	}

	body := map[string]interface{}{
		"query":      query,
		"numResults": k,
		"contents":   map[string]interface{}{"text": true, "highlights": highlights},
	}
	if opts.TimeRangeDays > 0 {
		start := time.Now().AddDate(0, 0, -opts.TimeRangeDays)
		body["startPublishedDate"] = start.Format("2006-01-02")
	}

	headers := map[string]string{"x-api-key": e.cfg.APIKey}
	var decoded struct {
		Results []struct {
			Title         string   `json:"title"`
			URL           string   `json:"url"`
			Text          string   `json:"text"`
			Score         float64  `json:"score"`
			PublishedDate string   `json:"publishedDate"`
			Highlights    []string `json:"highlights"`
		} `json:"results"`
	}
	if err := e.http.DoJSON(ctx, "POST", e.baseURL+"/search", headers, body, &decoded); err != nil {
		return nil, err
	}

	items := make([]interface{}, 0, len(decoded.Results))
	for i, r := range decoded.Results {
		if i >= k {
			break
		}
		text := r.Text
		if text == "" && len(r.Highlights) > 0 {
			text = strings.Join(r.Highlights, " ")
		}
		items = append(items, map[string]interface{}{
			"title":           r.Title,
			"url":             r.URL,
			"text":            text,
			"relevance_score": r.Score,
			"published_date":  r.PublishedDate,
		})
	}
	return RawResult{"results": items}, nil
}
