package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/store"
)

var metricReader *sdkmetric.ManualReader

// TestMain installs a collectable meter provider before any test records, so
// the package's counters bind to it instead of the global no-op.
func TestMain(m *testing.M) {
	metricReader = sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader)))
	os.Exit(m.Run())
}

// topicRunCount sums the cumulative run counter for one outcome.
func topicRunCount(t *testing.T, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "scheduler_topic_runs_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("run counter data is %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("outcome")); ok && v.AsString() == outcome {
					total += dp.Value
				}
			}
		}
	}
	return total
}

type stubEngine struct {
	mu      sync.Mutex
	queries []string
	res     research.RunResult
	err     error
	ran     chan string
}

func (e *stubEngine) Run(ctx context.Context, q string) (research.RunResult, error) {
	e.mu.Lock()
	e.queries = append(e.queries, q)
	e.mu.Unlock()
	if e.ran != nil {
		e.ran <- q
	}
	return e.res, e.err
}

func (e *stubEngine) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queries)
}

type memStore struct {
	mu       sync.Mutex
	saved    []string
	statuses map[string]string
	errMsgs  map[string]string
	attempts map[string][]research.AttemptRecord
	topics   []store.Topic
}

func newMemStore() *memStore {
	return &memStore{
		statuses: make(map[string]string),
		errMsgs:  make(map[string]string),
		attempts: make(map[string][]research.AttemptRecord),
	}
}

func (m *memStore) SaveRun(ctx context.Context, question string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, question)
	return fmt.Sprintf("run-%d", len(m.saved)), nil
}

func (m *memStore) FinishRun(ctx context.Context, runID, status string, result research.RunResult, errMsg *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[runID] = status
	if errMsg != nil {
		m.errMsgs[runID] = *errMsg
	}
	return nil
}

func (m *memStore) SaveAttempt(ctx context.Context, runID string, rec research.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[runID] = append(m.attempts[runID], rec)
	return nil
}

func (m *memStore) GetRun(ctx context.Context, runID string) (store.Run, bool, error) {
	return store.Run{}, false, nil
}

func (m *memStore) ListAttempts(ctx context.Context, runID string) ([]research.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[runID], nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	return nil, nil
}

func (m *memStore) CreateTopic(ctx context.Context, name, question, schedule string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("topic-%d", len(m.topics)+1)
	m.topics = append(m.topics, store.Topic{ID: id, Name: name, Question: question, Schedule: schedule})
	return id, nil
}

func (m *memStore) ListTopics(ctx context.Context) ([]store.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Topic(nil), m.topics...), nil
}

func (m *memStore) DeleteTopic(ctx context.Context, id string) error { return nil }

func (m *memStore) Close() error { return nil }

func (m *memStore) statusOf(runID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[runID]
}

func (m *memStore) attemptCount(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts[runID])
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIsDue(t *testing.T) {
	hourAgo := time.Now().Add(-time.Hour)
	dayAgo := time.Now().Add(-25 * time.Hour)
	justNow := time.Now().Add(-time.Minute)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"daily never ran", "@daily", nil, true},
		{"daily ran an hour ago", "@daily", &hourAgo, false},
		{"daily ran yesterday", "@daily", &dayAgo, true},
		{"hourly ran an hour ago", "@hourly", &hourAgo, true},
		{"hourly ran just now", "@hourly", &justNow, false},
		{"cron every minute", "* * * * *", &justNow, true},
		{"cron yearly not due", "0 0 1 1 *", &justNow, false},
		{"invalid spec never ran", "not-a-cron", nil, true},
		{"invalid spec ran recently", "not-a-cron", &hourAgo, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Fatalf("isDue(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}

func TestTickRunsDueTopicOnce(t *testing.T) {
	eng := &stubEngine{
		res: research.RunResult{Answer: "answer text", Provider: "duckduckgo", Attempts: 1,
			Records: []research.AttemptRecord{{Index: 0, Query: "q", Decision: "answer"}}},
		ran: make(chan string, 1),
	}
	st := newMemStore()
	cfg := config.SchedulerConfig{Enabled: true, Topics: []config.TopicConfig{
		{Name: "daily-news", Question: "what happened today", Schedule: "@daily"},
	}}
	s := New(cfg, eng, st, nil, discardLogger())

	s.tick()

	select {
	case q := <-eng.ran:
		if q != "what happened today" {
			t.Fatalf("unexpected question: %q", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("engine never ran")
	}
	waitFor(t, "run to finish", func() bool { return st.statusOf("run-1") == store.RunStatusSucceeded })
	if n := st.attemptCount("run-1"); n != 1 {
		t.Fatalf("expected 1 saved attempt, got %d", n)
	}

	// topic just fired; the next tick must not relaunch it
	s.tick()
	time.Sleep(100 * time.Millisecond)
	if n := eng.runCount(); n != 1 {
		t.Fatalf("expected 1 engine run, got %d", n)
	}
}

func TestRunTopicRecordsFailure(t *testing.T) {
	eng := &stubEngine{err: errors.New("llm unreachable")}
	st := newMemStore()
	s := New(config.SchedulerConfig{}, eng, st, nil, discardLogger())

	s.runTopic(store.Topic{Name: "t", Question: "q", Schedule: "@daily"})

	if got := st.statusOf("run-1"); got != store.RunStatusFailed {
		t.Fatalf("expected failed status, got %q", got)
	}
	st.mu.Lock()
	msg := st.errMsgs["run-1"]
	st.mu.Unlock()
	if msg != "llm unreachable" {
		t.Fatalf("expected error message recorded, got %q", msg)
	}
}

func TestRunTopicCountsOutcome(t *testing.T) {
	eng := &stubEngine{res: research.RunResult{Answer: "done", Attempts: 1}}
	st := newMemStore()
	s := New(config.SchedulerConfig{}, eng, st, nil, discardLogger())

	before := topicRunCount(t, store.RunStatusSucceeded)
	s.runTopic(store.Topic{Name: "counted", Question: "q", Schedule: "@daily"})
	after := topicRunCount(t, store.RunStatusSucceeded)
	if after-before != 1 {
		t.Fatalf("succeeded run count delta = %d, want 1", after-before)
	}
}

func TestTopicsMergesConfigAndStore(t *testing.T) {
	st := newMemStore()
	if _, err := st.CreateTopic(context.Background(), "saved", "saved question", "@hourly"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	cfg := config.SchedulerConfig{Topics: []config.TopicConfig{
		{Name: "declared", Question: "declared question", Schedule: "@daily"},
	}}
	s := New(cfg, &stubEngine{}, st, nil, discardLogger())

	topics := s.topics(context.Background())
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	if topics[0].Name != "declared" || topics[1].Name != "saved" {
		t.Fatalf("unexpected topics: %+v", topics)
	}
}
