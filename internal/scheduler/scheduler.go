package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/store"
)

// Engine runs one research question to completion.
type Engine interface {
	Run(ctx context.Context, userQuery string) (research.RunResult, error)
}

// Scheduler re-runs saved topics on their cron cadence. Topics come from
// config plus whatever the topics API registered in the store. A Redis SetNX
// lock keeps multiple instances from firing the same topic.
type Scheduler struct {
	cfg    config.SchedulerConfig
	engine Engine
	store  store.RunStore
	rdb    *redis.Client
	logger *log.Logger

	interval time.Duration
	stop     chan struct{}
	lastRun  map[string]time.Time
}

// New builds a scheduler. rdb may be nil, which disables distributed locking.
func New(cfg config.SchedulerConfig, eng Engine, st store.RunStore, rdb *redis.Client, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{
		cfg:      cfg,
		engine:   eng,
		store:    st,
		rdb:      rdb,
		logger:   logger,
		interval: time.Minute,
		stop:     make(chan struct{}),
		lastRun:  make(map[string]time.Time),
	}
}

// Start launches the ticking goroutine. Use Stop to halt it.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() { close(s.stop) }

func (s *Scheduler) tick() {
	ctx := context.Background()
	for _, t := range s.topics(ctx) {
		key := topicKey(t)
		var last *time.Time
		if ts, ok := s.lastRun[key]; ok {
			last = &ts
		}
		if !isDue(t.Schedule, last) {
			continue
		}
		s.lastRun[key] = time.Now()
		go s.runTopic(t)
	}
}

// topics merges config-declared topics with store-registered ones.
func (s *Scheduler) topics(ctx context.Context) []store.Topic {
	var out []store.Topic
	for _, t := range s.cfg.Topics {
		out = append(out, store.Topic{Name: t.Name, Question: t.Question, Schedule: t.Schedule})
	}
	if s.store != nil {
		saved, err := s.store.ListTopics(ctx)
		if err != nil {
			s.logger.Printf("list topics: %v", err)
		} else {
			out = append(out, saved...)
		}
	}
	return out
}

var (
	schedMetricsOnce sync.Once
	topicRunCounter  otelmetric.Int64Counter
	lockSkipCounter  otelmetric.Int64Counter
)

func initSchedulerMetrics() {
	meter := otel.Meter("delver/scheduler")
	var err error
	topicRunCounter, err = meter.Int64Counter(
		"scheduler_topic_runs_total",
		otelmetric.WithDescription("Topic runs fired by the scheduler"),
	)
	if err != nil {
		log.Printf("scheduler metrics init: run counter: %v", err)
	}
	lockSkipCounter, err = meter.Int64Counter(
		"scheduler_lock_skips_total",
		otelmetric.WithDescription("Topic runs skipped because another instance held the lock"),
	)
	if err != nil {
		log.Printf("scheduler metrics init: lock skip counter: %v", err)
	}
}

func recordTopicRun(ctx context.Context, t store.Topic, outcome string) {
	schedMetricsOnce.Do(initSchedulerMetrics)
	if topicRunCounter != nil {
		topicRunCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("topic", topicKey(t)),
			attribute.String("outcome", outcome),
		))
	}
}

func recordLockSkip(ctx context.Context, t store.Topic) {
	schedMetricsOnce.Do(initSchedulerMetrics)
	if lockSkipCounter != nil {
		lockSkipCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("topic", topicKey(t))))
	}
}

func (s *Scheduler) runTopic(t store.Topic) {
	ctx := context.Background()

	if s.rdb != nil {
		lockKey := "sched:lock:" + topicKey(t)
		ok, err := s.rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
		if err != nil {
			s.logger.Printf("scheduler lock for %s: %v", topicKey(t), err)
		}
		if !ok {
			recordLockSkip(ctx, t)
			return
		}
		defer s.rdb.Del(ctx, lockKey)
	}

	// jitter to avoid stampedes
	time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)

	runID, err := s.store.SaveRun(ctx, t.Question)
	if err != nil {
		s.logger.Printf("save run for topic %s: %v", topicKey(t), err)
		return
	}
	res, err := s.engine.Run(ctx, t.Question)
	if err != nil {
		msg := err.Error()
		if err := s.store.FinishRun(ctx, runID, store.RunStatusFailed, research.RunResult{}, &msg); err != nil {
			s.logger.Printf("finish run %s: %v", runID, err)
		}
		recordTopicRun(ctx, t, store.RunStatusFailed)
		return
	}
	for _, rec := range res.Records {
		if err := s.store.SaveAttempt(ctx, runID, rec); err != nil {
			s.logger.Printf("save attempt %d for run %s: %v", rec.Index, runID, err)
		}
	}
	if err := s.store.FinishRun(ctx, runID, store.RunStatusSucceeded, res, nil); err != nil {
		s.logger.Printf("finish run %s: %v", runID, err)
	}
	recordTopicRun(ctx, t, store.RunStatusSucceeded)
	s.logger.Printf("topic %s answered in %d attempt(s)", topicKey(t), res.Attempts)
}

// topicKey identifies a topic across ticks. Store topics carry an id;
// config topics fall back to name, then question text.
func topicKey(t store.Topic) string {
	if t.ID != "" {
		return t.ID
	}
	if t.Name != "" {
		return t.Name
	}
	return t.Question
}

// isDue determines if a topic with cronSpec should run now given its last
// run time. Supports "@daily", "@hourly", and standard cron expressions;
// invalid specs fall back to daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
