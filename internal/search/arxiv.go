package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mohammad-safakhou/delver/config"
)

const (
	arxivBaseURL = "https://export.arxiv.org"
	arxivAbsURL  = "https://arxiv.org/abs/"

	// Minimum spacing between requests asked for by the arXiv API terms.
	arxivRequestSpacing = 3 * time.Second
)

func init() {
	Register(ArxivProvider, func(cfg config.ProvidersConfig, client *HTTPClient) Searcher {
		return NewArxiv(cfg.ArXiv, client)
	})
}

// Arxiv queries the arXiv Atom API. The client keeps a rolling start index so
// repeated searches page forward instead of re-serving the same entries, and
// blocks to honor the 3-second request spacing the API asks for.
type Arxiv struct {
	cfg     config.ArxivConfig
	http    *HTTPClient
	baseURL string

	mu          sync.Mutex
	lastRequest time.Time
	startIndex  int

	now   func() time.Time
	sleep func(time.Duration)
}

func NewArxiv(cfg config.ArxivConfig, client *HTTPClient) *Arxiv {
	return &Arxiv{
		cfg:     cfg,
		http:    client,
		baseURL: arxivBaseURL,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

func (a *Arxiv) Configured(ctx context.Context) bool {
	_, status, err := a.http.GetRaw(ctx, arxivAbsURL+"1507.00123", nil, 1<<16)
	if err != nil || status != 200 {
		return false
	}
	url := fmt.Sprintf("%s/api/query?search_query=all:%s", a.baseURL, urlQuery("how to reduce latency"))
	_, status, err = a.http.GetRaw(ctx, url, nil, 1<<16)
	return err == nil && status == 200
}

func (a *Arxiv) Search(ctx context.Context, query string, opts Options) (RawResult, error) {
	k := opts.MaxResults
	if k <= 0 {
		k = a.cfg.MaxResults
	}

	a.waitSpacing()

	a.mu.Lock()
	start := a.startIndex
	a.mu.Unlock()

	url := fmt.Sprintf("%s/api/query?search_query=all:%s&start=%d&max_results=%d", a.baseURL, urlQuery(query), start, k)
	body, status, err := a.http.GetRaw(ctx, url, nil, 4<<20)

	a.mu.Lock()
	a.lastRequest = a.now()
	a.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if status != 200 {
		return nil, &Error{fmt.Sprintf("arxiv status %d", status)}
	}
	return a.parseFeed(body)
}

// waitSpacing blocks until the minimum request spacing has elapsed.
func (a *Arxiv) waitSpacing() {
	a.mu.Lock()
	last := a.lastRequest
	a.mu.Unlock()
	if last.IsZero() {
		return
	}
	elapsed := a.now().Sub(last)
	if elapsed < arxivRequestSpacing {
		a.sleep(arxivRequestSpacing - elapsed)
	}
}

type arxivFeed struct {
	Entries []struct {
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
		Links     []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Authors []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func (a *Arxiv) parseFeed(body []byte) (RawResult, error) {
	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return RawResult{"error": "failed to parse XML response"}, nil
	}

	items := make([]interface{}, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		link := ""
		for _, l := range entry.Links {
			if l.Rel == "alternate" {
				link = l.Href
				break
			}
		}
		published := entry.Published
		if t, err := time.Parse("2006-01-02T15:04:05Z", published); err == nil {
			published = t.Format("2006-01-02")
		}
		authors := make([]string, 0, len(entry.Authors))
		for _, au := range entry.Authors {
			authors = append(authors, au.Name)
		}
		items = append(items, map[string]interface{}{
			"title":          trimSpaceCollapse(entry.Title),
			"summary":        trimSpaceCollapse(entry.Summary),
			"link":           link,
			"authors":        authors,
			"published_date": published,
		})
	}

	a.mu.Lock()
	a.startIndex += len(items) + 1
	a.mu.Unlock()

	return RawResult{"results": items}, nil
}

// trimSpaceCollapse flattens the multi-line text nodes Atom feeds carry.
func trimSpaceCollapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
