package policy

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/mohammad-safakhou/delver/config"
)

// robots.txt bodies beyond this size are truncated before parsing.
const maxRobotsBytes = 512 << 10

// CrawlPolicy decides which URLs the engine may select and fetch. Host rules
// are the hard filter; robots.txt gating is advisory and a robots fetch or
// parse failure never blocks a URL.
type CrawlPolicy struct {
	allow    map[string]struct{}
	disallow map[string]struct{}
	robots   *robotsCache
	logger   *log.Logger
}

// New builds a CrawlPolicy from configuration. The HTTP client is used for
// robots.txt retrieval and may be nil.
func New(cfg config.PolicyConfig, client *http.Client, logger *log.Logger) (*CrawlPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[POLICY] ", log.LstdFlags)
	}
	p := &CrawlPolicy{
		allow:    listToSet(cfg.AllowedDomains),
		disallow: listToSet(cfg.DisallowedDomains),
		logger:   logger,
	}
	if cfg.RespectRobots {
		if client == nil {
			client = &http.Client{Timeout: 10 * time.Second}
		}
		p.robots = &robotsCache{
			client: client,
			logger: logger,
			byHost: make(map[string]*robotstxt.RobotsData),
		}
	}
	return p, nil
}

// IsAllowed reports whether the URL passes the host rules and, when robots
// checking is enabled, the target site's robots.txt. An empty allow list
// admits every host that is not explicitly disallowed.
func (p *CrawlPolicy) IsAllowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := normalizeHost(u.Host)
	if host == "" {
		return false
	}
	if _, blocked := p.disallow[host]; blocked {
		return false
	}
	if len(p.allow) > 0 {
		if _, ok := p.allow[host]; !ok {
			return false
		}
	}
	if p.robots != nil {
		return p.robots.allowed(ctx, u)
	}
	return true
}

// Filter returns the URLs permitted by the policy, preserving order.
func (p *CrawlPolicy) Filter(ctx context.Context, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if p.IsAllowed(ctx, raw) {
			out = append(out, raw)
		}
	}
	return out
}

// robotsCache holds one parsed robots.txt per host for the process lifetime.
// A nil entry means the file could not be retrieved and the host is open.
type robotsCache struct {
	client *http.Client
	logger *log.Logger
	mu     sync.Mutex
	byHost map[string]*robotstxt.RobotsData
}

func (c *robotsCache) allowed(ctx context.Context, u *url.URL) bool {
	host := strings.ToLower(u.Host)
	c.mu.Lock()
	data, ok := c.byHost[host]
	c.mu.Unlock()
	if !ok {
		data = c.fetch(ctx, u)
		c.mu.Lock()
		c.byHost[host] = data
		c.mu.Unlock()
	}
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), "*")
}

func (c *robotsCache) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + u.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Printf("robots fetch for %s failed: %v", u.Host, err)
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		c.logger.Printf("robots read for %s failed: %v", u.Host, err)
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		c.logger.Printf("robots parse for %s failed: %v", u.Host, err)
		return nil
	}
	return data
}

func listToSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		host := normalizeHost(item)
		if host == "" {
			continue
		}
		set[host] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			value = u.Host
		}
	}
	if host, _, ok := strings.Cut(value, ":"); ok {
		value = host
	}
	value = strings.TrimPrefix(value, "www.")
	return value
}
