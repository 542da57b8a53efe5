package search

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/metrics"
)

var tracer = otel.Tracer("delver/search")

// ErrAllProvidersFailed is the terminal error string callers observe when the
// whole fallback chain is exhausted.
const ErrAllProvidersFailed = "All search providers failed"

// Orchestrator fans a query out to one backend at a time: the preferred
// provider first, then the fallback order. A fallback success promotes that
// provider to preferred so later queries start where the last one succeeded.
type Orchestrator struct {
	clients  map[Provider]Searcher
	defaults map[Provider]Options
	order    []Provider
	cooldown time.Duration
	sticky   bool
	limit    int

	logger *log.Logger
	sleep  func(time.Duration)

	mu      sync.Mutex
	current Provider
}

// NewOrchestrator probes every provider named in the config and keeps the ones
// that report themselves configured. An unconfigured or unknown provider is
// logged and skipped, never fatal: the chain shrinks instead. Every kept
// provider sits in the fallback order, the default included; a default the
// config leaves out of fallback_order becomes the final fallback.
func NewOrchestrator(ctx context.Context, cfg config.SearchConfig, rate config.RateWindowConfig, client *HTTPClient, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	}
	if client == nil {
		client = NewHTTPClient(0, 0, 0)
	}

	o := &Orchestrator{
		clients:  make(map[Provider]Searcher),
		defaults: make(map[Provider]Options),
		cooldown: rate.Cooldown,
		sticky:   cfg.StickyFallback,
		limit:    cfg.ContentMaxChars,
		logger:   logger,
		sleep:    time.Sleep,
		current:  Provider(cfg.DefaultProvider),
	}

	candidates := make([]Provider, 0, len(cfg.FallbackOrder)+1)
	for _, name := range cfg.FallbackOrder {
		candidates = append(candidates, Provider(name))
	}
	candidates = append(candidates, Provider(cfg.DefaultProvider))
	seen := make(map[Provider]struct{}, len(candidates))
	for _, p := range candidates {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		s, err := New(p, cfg.Providers, client)
		if err != nil {
			logger.Printf("provider %s: %v, skipping", p, err)
			continue
		}
		if !s.Configured(ctx) {
			logger.Printf("provider %s not configured, skipping", p)
			continue
		}
		o.clients[p] = s
		o.defaults[p] = defaultOptions(p, cfg.Providers)
		o.order = append(o.order, p)
	}
	return o
}

// defaultOptions lifts a provider's configured defaults into option form so
// caller options overlay them per query, caller wins.
func defaultOptions(p Provider, cfg config.ProvidersConfig) Options {
	switch p {
	case TavilyProvider:
		return Options{MaxResults: cfg.Tavily.MaxResults, SearchDepth: cfg.Tavily.SearchDepth, IncludeAnswer: &cfg.Tavily.IncludeAnswer}
	case BraveProvider:
		return Options{MaxResults: cfg.Brave.MaxResults}
	case BingProvider:
		return Options{MaxResults: cfg.Bing.MaxResults, Freshness: cfg.Bing.Freshness}
	case ExaProvider:
		return Options{MaxResults: cfg.Exa.MaxResults, UseHighlights: &cfg.Exa.UseHighlights}
	case DuckDuckGoProvider:
		return Options{MaxResults: cfg.DuckDuckGo.MaxResults, Region: cfg.DuckDuckGo.Region, SafeSearch: cfg.DuckDuckGo.SafeSearch}
	case ArxivProvider:
		return Options{MaxResults: cfg.ArXiv.MaxResults}
	}
	return Options{}
}

// Current reports the provider the next Search will try first.
func (o *Orchestrator) Current() Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) setCurrent(p Provider) {
	o.mu.Lock()
	o.current = p
	o.mu.Unlock()
}

// Providers lists the configured backends in try order, preferred first.
func (o *Orchestrator) Providers() []Provider {
	out := make([]Provider, 0, len(o.clients))
	cur := o.Current()
	if _, ok := o.clients[cur]; ok {
		out = append(out, cur)
	}
	for _, p := range o.order {
		if p == cur {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Search runs the fallback chain for one query. The returned Response is
// always well formed: on total failure Success is false, Results is empty and
// Error carries ErrAllProvidersFailed.
func (o *Orchestrator) Search(ctx context.Context, query string, opts Options) Response {
	ctx, span := tracer.Start(ctx, "search.orchestrate",
		trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	tried := make(map[Provider]struct{}, len(o.clients))

	cur := o.Current()
	if s, ok := o.clients[cur]; ok {
		resp := o.tryProvider(ctx, cur, s, query, opts)
		if resp.Success {
			return resp
		}
		tried[cur] = struct{}{}
	}

	for _, p := range o.order {
		if _, done := tried[p]; done {
			continue
		}
		s, ok := o.clients[p]
		if !ok {
			continue
		}
		tried[p] = struct{}{}

		resp := o.tryProvider(ctx, p, s, query, opts)
		if resp.Success {
			if o.sticky && p != cur {
				o.setCurrent(p)
				metrics.SearchFallbacks.Inc()
				o.logger.Printf("switched preferred provider to %s", p)
			}
			return resp
		}
		o.pause(ctx)
	}

	span.SetStatus(codes.Error, ErrAllProvidersFailed)
	o.logger.Printf("all providers failed for query %q", query)
	return Response{Success: false, Error: ErrAllProvidersFailed, Results: []Result{}}
}

// tryProvider issues one backend call and normalizes whatever comes back.
// Backend errors become failed Responses, they never escape.
func (o *Orchestrator) tryProvider(ctx context.Context, p Provider, s Searcher, query string, opts Options) Response {
	ctx, span := tracer.Start(ctx, "search.provider",
		trace.WithAttributes(attribute.String("search.provider", string(p))))
	defer span.End()

	opts = o.defaults[p].Merge(opts)

	start := time.Now()
	raw, err := s.Search(ctx, query, opts)
	metrics.SearchLatency.WithLabelValues(string(p)).Observe(time.Since(start).Seconds())

	var resp Response
	if err != nil {
		err = &SearchError{Provider: p, Op: "search", Err: err}
		resp = Response{Success: false, Error: err.Error(), Provider: p, Results: []Result{}}
	} else {
		resp = Normalize(raw, p, o.limit)
	}

	if resp.Success {
		metrics.SearchRequests.WithLabelValues(string(p), "success").Inc()
		return resp
	}

	metrics.SearchRequests.WithLabelValues(string(p), "failure").Inc()
	span.RecordError(&Error{Msg: resp.Error})
	span.SetStatus(codes.Error, resp.Error)
	o.logger.Printf("search with %s failed: %s", p, resp.Error)
	return resp
}

// pause spreads fallback attempts out so a provider-wide outage does not turn
// into a burst of doomed calls. The delay shrinks as the chain grows.
func (o *Orchestrator) pause(ctx context.Context) {
	if len(o.clients) == 0 || o.cooldown <= 0 {
		return
	}
	d := o.cooldown / time.Duration(len(o.clients))
	if ctx.Err() != nil {
		return
	}
	o.sleep(d)
}
