package research

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/fetch"
	"github.com/mohammad-safakhou/delver/internal/llm"
	"github.com/mohammad-safakhou/delver/internal/metrics"
	"github.com/mohammad-safakhou/delver/internal/search"
)

var tracer = otel.Tracer("delver/research")

const (
	evaluateRetries = 3
	answerMaxTokens = 4096
)

// Fixed replies for when generation cannot produce anything usable. The
// engine never returns an empty answer.
const (
	answerFailure = "I apologize, but I couldn't generate a satisfactory answer based on the available information."

	exhaustedFailure = "I apologize, but after multiple attempts, I wasn't able to find a satisfactory answer to your question. Please try rephrasing your question or breaking it down into smaller, more specific queries."
)

// timeRangeDays maps a formulated time-range code to a day window. Unknown
// codes and "none" add no filter.
var timeRangeDays = map[string]int{
	"d": 1,
	"w": 7,
	"m": 30,
	"y": 365,
}

// Searcher runs one orchestrated search sweep across the provider chain.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) search.Response
}

// Policy gates URLs before selection and fetch.
type Policy interface {
	IsAllowed(ctx context.Context, rawURL string) bool
}

// Limiter throttles the search channel.
type Limiter interface {
	Wait(ctx context.Context) error
	Release()
}

// AttemptRecord captures what one loop iteration did, for persistence and
// API reporting.
type AttemptRecord struct {
	Index     int             `json:"index"`
	Query     string          `json:"query"`
	TimeRange string          `json:"time_range"`
	Provider  search.Provider `json:"provider,omitempty"`
	Results   int             `json:"results"`
	Selected  []string        `json:"selected,omitempty"`
	Decision  string          `json:"decision,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RunResult is the full outcome of one research run.
type RunResult struct {
	Answer   string          `json:"answer"`
	Provider search.Provider `json:"provider,omitempty"`
	Attempts int             `json:"attempts"`
	Records  []AttemptRecord `json:"records,omitempty"`
}

// Engine drives the retrieval loop: formulate a query, search, select
// sources, fetch them, and ask the generation gateway whether the material
// answers the question or the search needs another pass.
type Engine struct {
	cfg      config.ResearchConfig
	llm      llm.Gateway
	searcher Searcher
	fetcher  fetch.Fetcher
	policy   Policy
	limiter  Limiter
	logger   *log.Logger
}

// NewEngine wires the loop's collaborators. policy and limiter may be nil,
// which disables URL gating and search throttling respectively.
func NewEngine(cfg config.ResearchConfig, gw llm.Gateway, searcher Searcher, fetcher fetch.Fetcher, pol Policy, lim Limiter, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Engine{
		cfg:      cfg.Normalize(),
		llm:      gw,
		searcher: searcher,
		fetcher:  fetcher,
		policy:   pol,
		limiter:  lim,
		logger:   logger,
	}
}

// Answer runs the loop and returns just the final text. The returned error
// reports only context cancellation; every other failure degrades into a
// best-effort or apology answer.
func (e *Engine) Answer(ctx context.Context, userQuery string) (string, error) {
	res, err := e.Run(ctx, userQuery)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Run executes up to MaxAttempts loop iterations and always produces a
// non-empty answer unless the context is canceled.
func (e *Engine) Run(ctx context.Context, userQuery string) (RunResult, error) {
	ctx, span := tracer.Start(ctx, "research.run",
		trace.WithAttributes(attribute.String("research.query", clip(userQuery, 200))))
	defer span.End()

	var res RunResult
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			metrics.ResearchRuns.WithLabelValues("canceled").Inc()
			return RunResult{}, err
		}
		e.logger.Printf("search attempt %d of %d", attempt+1, e.cfg.MaxAttempts)

		rec := AttemptRecord{Index: attempt + 1}
		answer, done := e.runAttempt(ctx, userQuery, attempt, &rec)
		res.Records = append(res.Records, rec)
		res.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			metrics.ResearchRuns.WithLabelValues("canceled").Inc()
			return RunResult{}, err
		}
		if done {
			res.Answer = answer
			res.Provider = rec.Provider
			span.SetAttributes(attribute.Int("research.attempts", res.Attempts))
			metrics.ResearchRuns.WithLabelValues("answered").Inc()
			metrics.ResearchAttempts.Observe(float64(res.Attempts))
			return res, nil
		}
		if rec.Error != "" {
			e.logger.Printf("attempt %d failed: %s", attempt+1, rec.Error)
		}
	}

	res.Answer = e.synthesizeFinalAnswer(ctx, userQuery)
	span.SetAttributes(attribute.Int("research.attempts", res.Attempts))
	metrics.ResearchRuns.WithLabelValues("exhausted").Inc()
	metrics.ResearchAttempts.Observe(float64(e.cfg.MaxAttempts))
	return res, nil
}

// runAttempt walks one iteration through its stages. done reports that a
// final answer was produced; otherwise the attempt is spent and the loop
// moves on, with rec.Error describing why when a stage failed.
func (e *Engine) runAttempt(ctx context.Context, userQuery string, attempt int, rec *AttemptRecord) (answer string, done bool) {
	ctx, span := tracer.Start(ctx, "research.attempt",
		trace.WithAttributes(attribute.Int("research.attempt", attempt+1)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("attempt %d panicked: %v", attempt+1, r)
			rec.Error = fmt.Sprintf("panic: %v", r)
			answer, done = "", false
		}
	}()

	query, timeRange := e.formulateQuery(ctx, userQuery, attempt)
	rec.Query = query
	rec.TimeRange = timeRange
	if query == "" {
		rec.Error = "empty formulated query"
		return "", false
	}
	e.logger.Printf("formulated query %q (time range %s)", query, timeRange)
	span.SetAttributes(attribute.String("research.formulated_query", query))

	resp, err := e.performSearch(ctx, query, timeRange)
	if err != nil {
		rec.Error = fmt.Sprintf("search: %v", err)
		return "", false
	}
	rec.Provider = resp.Provider
	rec.Results = len(resp.Results)
	if !resp.Success || len(resp.Results) == 0 {
		if resp.Error != "" {
			rec.Error = fmt.Sprintf("search failed: %s", resp.Error)
		} else {
			rec.Error = "search returned no results"
		}
		return "", false
	}
	span.SetAttributes(attribute.String("search.provider", string(resp.Provider)))

	urls := e.selectRelevantPages(ctx, resp.Results, userQuery)
	rec.Selected = urls
	if len(urls) == 0 {
		rec.Error = "no selectable urls"
		return "", false
	}

	content := e.scrapeContent(ctx, urls)
	if len(content) == 0 {
		rec.Error = "no content scraped"
		return "", false
	}

	evaluation, decision := e.evaluateContent(ctx, userQuery, urls, content)
	rec.Decision = decision
	e.logger.Printf("evaluation: %s", clip(evaluation, 200))
	e.logger.Printf("decision: %s", decision)
	span.SetAttributes(attribute.String("research.decision", decision))

	if decision == "refine" {
		return "", false
	}
	aiAnswer := ""
	if resp.Provider == search.TavilyProvider {
		aiAnswer = resp.Answer
	}
	return e.generateFinalAnswer(ctx, userQuery, urls, content, aiAnswer), true
}

// formulateQuery asks the gateway to compress the question into a short
// search query plus a time-range code. Failures surface as an empty query,
// which spends the attempt without a search call.
func (e *Engine) formulateQuery(ctx context.Context, userQuery string, attempt int) (string, string) {
	reply, err := e.llm.Generate(ctx, formulatePrompt(userQuery, attempt), llm.GenOptions{MaxTokens: 50})
	if err != nil {
		e.logger.Printf("query formulation failed: %v", err)
		return "", "none"
	}
	query, timeRange := parseFormulation(reply)
	return query, timeRange
}

// performSearch maps the time-range code onto a day window and runs one
// orchestrated sweep, gated by the search rate limiter.
func (e *Engine) performSearch(ctx context.Context, query, timeRange string) (search.Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return search.Response{}, err
		}
		defer e.limiter.Release()
	}
	var opts search.Options
	if days, ok := timeRangeDays[strings.ToLower(timeRange)]; ok {
		opts.TimeRangeDays = days
	}
	return e.searcher.Search(ctx, query, opts), nil
}

// selectRelevantPages asks the gateway for result numbers, keeps the
// policy-approved ones, and falls back to the top approved results by rank
// when selection keeps coming back empty.
func (e *Engine) selectRelevantPages(ctx context.Context, results []search.Result, userQuery string) []string {
	prompt := selectPrompt(userQuery, results, e.cfg.SelectionSize)
	for retry := 0; retry < e.cfg.SelectRetries; retry++ {
		reply, err := e.llm.Generate(ctx, prompt, llm.GenOptions{MaxTokens: 200})
		if err != nil {
			e.logger.Printf("page selection attempt %d: %v", retry+1, err)
			continue
		}
		urls := pickSelectedURLs(reply, results)
		allowed := e.filterAllowed(ctx, urls)
		if len(allowed) > 0 {
			return allowed
		}
		e.logger.Printf("page selection attempt %d: no usable urls, retrying", retry+1)
	}

	e.logger.Printf("selection failed, falling back to top results")
	var fallback []string
	for _, r := range results {
		if !e.allowed(ctx, r.URL) {
			continue
		}
		fallback = append(fallback, r.URL)
		if len(fallback) == e.cfg.SelectionSize {
			break
		}
	}
	return fallback
}

// scrapeContent fetches the approved URLs concurrently and keeps only pages
// that yielded text. Individual failures are logged, not fatal.
func (e *Engine) scrapeContent(ctx context.Context, urls []string) map[string]string {
	approved := make([]string, 0, len(urls))
	for _, u := range urls {
		if e.allowed(ctx, u) {
			approved = append(approved, u)
		} else {
			e.logger.Printf("policy blocks %s", u)
		}
	}
	if len(approved) == 0 {
		return nil
	}

	results := fetch.All(ctx, e.fetcher, approved, 0)
	content := make(map[string]string, len(results))
	for u, r := range results {
		if r.OK() {
			content[u] = r.Text
		} else {
			e.logger.Printf("fetch failed for %s (status %d)", u, r.Status)
		}
	}
	e.logger.Printf("scraped %d of %d urls", len(content), len(approved))
	return content
}

// evaluateContent asks the gateway whether the material suffices. It retries
// until a recognized decision token comes back, then fails open to "answer"
// so the loop terminates rather than spinning.
func (e *Engine) evaluateContent(ctx context.Context, userQuery string, urls []string, content map[string]string) (string, string) {
	prompt := evaluatePrompt(userQuery, urls, content)
	for retry := 0; retry < evaluateRetries; retry++ {
		reply, err := e.llm.Generate(ctx, prompt, llm.GenOptions{MaxTokens: 200})
		if err != nil {
			e.logger.Printf("evaluation attempt %d: %v", retry+1, err)
			continue
		}
		evaluation, decision := parseEvaluation(reply)
		if decision == "answer" || decision == "refine" {
			return evaluation, decision
		}
	}
	e.logger.Printf("no valid evaluation decision, defaulting to answer")
	return "Failed to evaluate content.", "answer"
}

// generateFinalAnswer synthesizes the answer from fetched content, retrying
// on empty output before giving up with a fixed apology.
func (e *Engine) generateFinalAnswer(ctx context.Context, userQuery string, urls []string, content map[string]string, aiAnswer string) string {
	prompt := answerPrompt(userQuery, urls, content, aiAnswer)
	for retry := 0; retry < e.cfg.AnswerRetries; retry++ {
		reply, err := e.llm.Generate(ctx, prompt, llm.GenOptions{MaxTokens: answerMaxTokens})
		if err != nil {
			e.logger.Printf("answer attempt %d: %v", retry+1, err)
			continue
		}
		if reply != "" {
			return reply
		}
	}
	return answerFailure
}

// synthesizeFinalAnswer produces the best-effort reply after the attempt
// budget is spent. Generation options fall back to the configured defaults.
func (e *Engine) synthesizeFinalAnswer(ctx context.Context, userQuery string) string {
	reply, err := e.llm.Generate(ctx, synthesizePrompt(userQuery), llm.GenOptions{})
	if err != nil {
		e.logger.Printf("final synthesis failed: %v", err)
		return exhaustedFailure
	}
	if reply = strings.TrimSpace(reply); reply != "" {
		return reply
	}
	return exhaustedFailure
}

func (e *Engine) allowed(ctx context.Context, rawURL string) bool {
	if e.policy == nil {
		return true
	}
	return e.policy.IsAllowed(ctx, rawURL)
}

func (e *Engine) filterAllowed(ctx context.Context, urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if e.allowed(ctx, u) {
			out = append(out, u)
		}
	}
	return out
}
