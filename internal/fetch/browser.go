package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/delver/config"
)

// Browser renders pages in headless Chrome before extraction, for sites that
// assemble their content client side.
type Browser struct {
	timeout   time.Duration
	maxChars  int
	userAgent string
}

func NewBrowser(cfg config.FetchConfig) *Browser {
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
	return &Browser{timeout: timeout, maxChars: maxChars, userAgent: ua}
}

func (f *Browser) Exec(ctx context.Context, rawURL string) (Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Result{}, errInvalidURL
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	t0 := time.Now()

	html, err := f.renderHTML(ctx, rawURL)
	if err != nil {
		return Result{URL: rawURL, Status: StatusFetchFailed, RenderMS: elapsedMS(t0)}, nil
	}
	return extract(rawURL, html, f.maxChars, t0), nil
}

func (f *Browser) renderHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.userAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
