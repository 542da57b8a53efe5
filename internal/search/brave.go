package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/delver/config"
)

const braveBaseURL = "https://api.search.brave.com"

func init() {
	Register(BraveProvider, func(cfg config.ProvidersConfig, client *HTTPClient) Searcher {
		return &Brave{cfg: cfg.Brave, http: client, baseURL: braveBaseURL}
	})
}

// Brave talks to the Brave web search API.
// https://api.search.brave.com/app/documentation/web-search
type Brave struct {
	cfg     config.BraveConfig
	http    *HTTPClient
	baseURL string
}

func (b *Brave) Configured(ctx context.Context) bool {
	return strings.TrimSpace(b.cfg.APIKey) != ""
}

func (b *Brave) Search(ctx context.Context, query string, opts Options) (RawResult, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = b.cfg.MaxResults
	}
	url := fmt.Sprintf("%s/res/v1/web/search?q=%s&count=%d", b.baseURL, urlQuery(query), k)
	if code := braveFreshness(opts.TimeRangeDays); code != "" {
		url += "&freshness=" + code
	}

	headers := map[string]string{
		"Accept":               "application/json",
		"X-Subscription-Token": b.cfg.APIKey,
	}
	var decoded struct {
		Web struct {
			Results []struct {
				Title       string  `json:"title"`
				URL         string  `json:"url"`
				Description string  `json:"description"`
				PageAge     string  `json:"page_age"`
				Relevance   float64 `json:"relevance_score"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := b.http.DoJSON(ctx, "GET", url, headers, nil, &decoded); err != nil {
		return nil, err
	}

	items := make([]interface{}, 0, len(decoded.Web.Results))
	for i, r := range decoded.Web.Results {
		if i >= k {
			break
		}
		items = append(items, map[string]interface{}{
			"title":           r.Title,
			"url":             r.URL,
			"description":     r.Description,
			"relevance_score": r.Relevance,
			"published_date":  r.PageAge,
		})
	}
	return RawResult{"results": items}, nil
}

// braveFreshness maps a day window onto Brave's freshness codes.
func braveFreshness(days int) string {
	switch {
	case days <= 0:
		return ""
	case days <= 1:
		return "pd"
	case days <= 7:
		return "pw"
	case days <= 31:
		return "pm"
	default:
		return "py"
	}
}
