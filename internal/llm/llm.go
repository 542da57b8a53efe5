package llm

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/metrics"
	"github.com/mohammad-safakhou/delver/internal/ratelimit"
)

// Gateway produces one completion per call. Implementations are safe for
// concurrent use.
type Gateway interface {
	Generate(ctx context.Context, prompt string, opts GenOptions) (string, error)
	Model() string
}

// GenError reports a failed generation call. Status is the HTTP status when
// the backend answered, zero for transport failures.
type GenError struct {
	Backend string
	Status  int
	Err     error
}

func (e *GenError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s status %d: %v", e.Backend, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *GenError) Unwrap() error { return e.Err }

// GenOptions carries per-call sampling overrides. Nil pointers and zero values
// inherit the configured defaults.
type GenOptions struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
}

// New builds the gateway for the configured backend. A non-nil limiter gates
// every Generate call through the generation rate window.
func New(cfg config.LLMConfig, lim *ratelimit.Limiter) (Gateway, error) {
	var g Gateway
	switch cfg.Backend {
	case "openai":
		g = newOpenAI(cfg)
	case "ollama":
		g = newOllama(cfg)
	case "anthropic":
		g = newAnthropic(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm backend: %s", cfg.Backend)
	}
	g = &instrumented{inner: g, backend: cfg.Backend}
	if lim != nil {
		g = &limited{inner: g, lim: lim}
	}
	return g, nil
}

// instrumented counts backend calls. Limiter waits that die before reaching
// the backend are not counted.
type instrumented struct {
	inner   Gateway
	backend string
}

func (i *instrumented) Model() string { return i.inner.Model() }

func (i *instrumented) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	out, err := i.inner.Generate(ctx, prompt, opts)
	if err != nil {
		metrics.Generations.WithLabelValues(i.backend, "error").Inc()
		return out, err
	}
	metrics.Generations.WithLabelValues(i.backend, "ok").Inc()
	return out, nil
}

// limited decorates a gateway with the generation rate window.
type limited struct {
	inner Gateway
	lim   *ratelimit.Limiter
}

func (l *limited) Model() string { return l.inner.Model() }

func (l *limited) Generate(ctx context.Context, prompt string, opts GenOptions) (string, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return "", err
	}
	defer l.lim.Release()
	return l.inner.Generate(ctx, prompt, opts)
}

func resolveTemperature(cfg config.LLMConfig, opts GenOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return cfg.Temperature
}

func resolveTopP(cfg config.LLMConfig, opts GenOptions) float64 {
	if opts.TopP != nil {
		return *opts.TopP
	}
	return cfg.TopP
}

func resolveMaxTokens(cfg config.LLMConfig, opts GenOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return cfg.MaxTokens
}

func resolveStop(cfg config.LLMConfig, opts GenOptions) []string {
	if len(opts.Stop) > 0 {
		return opts.Stop
	}
	return cfg.Stop
}
