package fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/metrics"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000

	// Transport-level failures that never produced an HTTP status.
	StatusFetchFailed = 599
)

var errInvalidURL = errors.New("invalid url")

// Result is one fetched and extracted page. A failed fetch is still a Result,
// with Status carrying what went wrong.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	Text     string `json:"text"`
	HTMLHash string `json:"html_hash"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

// OK reports whether the page yielded usable text.
func (r Result) OK() bool {
	return r.Status == http.StatusOK && strings.TrimSpace(r.Text) != ""
}

// Fetcher retrieves one page and extracts its readable text.
type Fetcher interface {
	Exec(ctx context.Context, url string) (Result, error)
}

// New picks the fetcher implementation for the config: a headless browser when
// asked for, plain HTTP otherwise.
func New(cfg config.FetchConfig) Fetcher {
	if cfg.UseBrowser {
		return NewBrowser(cfg)
	}
	return NewHTTP(cfg)
}

// HTTP fetches pages with a plain GET and runs readability over the response.
type HTTP struct {
	timeout   time.Duration
	maxChars  int
	userAgent string
	client    *http.Client
}

func NewHTTP(cfg config.FetchConfig) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (compatible; delver/1.0)"
	}
	return &HTTP{
		timeout:   timeout,
		maxChars:  maxChars,
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
	}
}

func (f *HTTP) Exec(ctx context.Context, rawURL string) (Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Result{}, errInvalidURL
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{URL: rawURL, Status: StatusFetchFailed, RenderMS: elapsedMS(t0)}, nil
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{URL: rawURL, Status: StatusFetchFailed, RenderMS: elapsedMS(t0)}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{URL: rawURL, Status: resp.StatusCode, RenderMS: elapsedMS(t0)}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{URL: rawURL, Status: StatusFetchFailed, RenderMS: elapsedMS(t0)}, nil
	}

	return extract(rawURL, string(body), f.maxChars, t0), nil
}

// extract runs readability over rendered HTML and shapes the Result.
func extract(rawURL, html string, maxChars int, t0 time.Time) Result {
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return Result{URL: rawURL, Status: http.StatusOK, RenderMS: elapsedMS(t0)}
	}

	text := strings.TrimSpace(article.TextContent)
	if runes := []rune(text); len(runes) > maxChars {
		text = string(runes[:maxChars])
	}

	sum := sha1.Sum([]byte(html))
	return Result{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     text,
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   http.StatusOK,
		RenderMS: elapsedMS(t0),
	}
}

// All fetches every URL with bounded concurrency. The returned map holds one
// Result per input URL, failures included.
func All(ctx context.Context, f Fetcher, urls []string, concurrency int) map[string]Result {
	if concurrency <= 0 {
		concurrency = 3
	}

	out := make(map[string]Result, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, u := range urls {
		u := u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := f.Exec(ctx, u)
			if err != nil {
				res = Result{URL: u, Status: StatusFetchFailed}
			}
			if res.OK() {
				metrics.FetchPages.WithLabelValues("ok").Inc()
			} else {
				metrics.FetchPages.WithLabelValues("error").Inc()
			}
			mu.Lock()
			out[u] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func elapsedMS(t0 time.Time) int {
	return int(time.Since(t0) / time.Millisecond)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
