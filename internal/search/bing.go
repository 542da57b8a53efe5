package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/delver/config"
)

const bingBaseURL = "https://api.bing.microsoft.com"

func init() {
	Register(BingProvider, func(cfg config.ProvidersConfig, client *HTTPClient) Searcher {
		return &Bing{cfg: cfg.Bing, http: client, baseURL: bingBaseURL}
	})
}

// Bing talks to the Bing web search API.
// https://learn.microsoft.com/bing/search-apis/bing-web-search
type Bing struct {
	cfg     config.BingConfig
	http    *HTTPClient
	baseURL string
}

func (b *Bing) Configured(ctx context.Context) bool {
	return strings.TrimSpace(b.cfg.APIKey) != ""
}

func (b *Bing) Search(ctx context.Context, query string, opts Options) (RawResult, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = b.cfg.MaxResults
	}
	freshness := bingFreshness(opts.TimeRangeDays)
	if freshness == "" {
		freshness = opts.Freshness
	}
	if freshness == "" {
		freshness = b.cfg.Freshness
	}
	url := fmt.Sprintf("%s/v7.0/search?q=%s&count=%d", b.baseURL, urlQuery(query), k)
	if freshness != "" {
		url += "&freshness=" + freshness
	}

	headers := map[string]string{"Ocp-Apim-Subscription-Key": b.cfg.APIKey}
	var decoded struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := b.http.DoJSON(ctx, "GET", url, headers, nil, &decoded); err != nil {
		return nil, err
	}

	items := make([]interface{}, 0, len(decoded.WebPages.Value))
	for i, r := range decoded.WebPages.Value {
		if i >= k {
			break
		}
		items = append(items, map[string]interface{}{
			"title":   r.Name,
			"url":     r.URL,
			"content": r.Snippet,
		})
	}
	return RawResult{"results": items}, nil
}

// bingFreshness maps a day window onto Bing's freshness values. Bing has no
// year filter; anything beyond a month falls back to the configured default.
func bingFreshness(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 1:
		return "Day"
	case days <= 7:
		return "Week"
	case days <= 31:
		return "Month"
	default:
		return ""
	}
}
