package search

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mohammad-safakhou/delver/config"
)

const duckduckgoBaseURL = "https://html.duckduckgo.com"

func init() {
	Register(DuckDuckGoProvider, func(cfg config.ProvidersConfig, client *HTTPClient) Searcher {
		return &DuckDuckGo{cfg: cfg.DuckDuckGo, http: client, baseURL: duckduckgoBaseURL}
	})
}

// DuckDuckGo scrapes the keyless HTML endpoint. No API key, no score; the
// normalizer assigns every hit a fixed relevance of 1.0.
type DuckDuckGo struct {
	cfg     config.DuckDuckGoConfig
	http    *HTTPClient
	baseURL string
}

func (d *DuckDuckGo) Configured(ctx context.Context) bool { return true }

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts Options) (RawResult, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = d.cfg.MaxResults
	}
	region := opts.Region
	if region == "" {
		region = d.cfg.Region
	}
	safe := opts.SafeSearch
	if safe == "" {
		safe = d.cfg.SafeSearch
	}

	endpoint := fmt.Sprintf("%s/html/?q=%s&kl=%s&kp=%s", d.baseURL, urlQuery(query), url.QueryEscape(region), safeSearchParam(safe))
	headers := map[string]string{
		"User-Agent": "Mozilla/5.0 (compatible; delver/1.0)",
		"Accept":     "text/html",
	}
	body, status, err := d.http.GetRaw(ctx, endpoint, headers, 2<<20)
	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &Error{fmt.Sprintf("duckduckgo status %d", status)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var items []interface{}
	doc.Find("div.result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if len(items) >= k {
			return false
		}
		anchor := s.Find("a.result__a").First()
		href, _ := anchor.Attr("href")
		link := decodeDuckURL(href)
		if link == "" {
			return true
		}
		items = append(items, map[string]interface{}{
			"title":   strings.TrimSpace(anchor.Text()),
			"link":    link,
			"snippet": strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return true
	})
	return RawResult{"results": items}, nil
}

// decodeDuckURL unwraps the redirect links the HTML endpoint serves
// (//duckduckgo.com/l/?uddg=<encoded target>).
func decodeDuckURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	// Query().Get already percent-decodes the uddg value.
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Host != "" && !strings.Contains(u.Host, "duckduckgo.com") {
		return href
	}
	return ""
}

func safeSearchParam(mode string) string {
	switch strings.ToLower(mode) {
	case "strict":
		return "1"
	case "moderate":
		return "-1"
	default:
		return "-2"
	}
}
