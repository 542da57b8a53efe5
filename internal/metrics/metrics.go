package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors are package-level so any layer can record without plumbing a
// registry through every constructor. Register wires them onto the registry
// the telemetry bootstrap serves at /metrics.
var (
	SearchRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delver",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Search calls per provider and outcome.",
	}, []string{"provider", "outcome"})

	SearchFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "delver",
		Subsystem: "search",
		Name:      "fallbacks_total",
		Help:      "Times the preferred provider changed after a fallback success.",
	})

	SearchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "delver",
		Subsystem: "search",
		Name:      "latency_seconds",
		Help:      "Wall time of one provider call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	ResearchRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delver",
		Subsystem: "research",
		Name:      "runs_total",
		Help:      "Completed research runs per terminal outcome.",
	}, []string{"outcome"})

	ResearchAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "delver",
		Subsystem: "research",
		Name:      "attempts_per_run",
		Help:      "Search attempts consumed before a run terminated.",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	Generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delver",
		Subsystem: "llm",
		Name:      "generations_total",
		Help:      "Generation calls per backend and outcome.",
	}, []string{"backend", "outcome"})

	FetchPages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "delver",
		Subsystem: "fetch",
		Name:      "pages_total",
		Help:      "Page fetches per outcome.",
	}, []string{"outcome"})
)

// Register adds every collector to reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SearchRequests,
		SearchFallbacks,
		SearchLatency,
		ResearchRuns,
		ResearchAttempts,
		Generations,
		FetchPages,
	)
}
