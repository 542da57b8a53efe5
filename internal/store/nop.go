package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/delver/internal/research"
)

// NopStore drops run records. Topics are kept in memory so the scheduler and
// topics API still work for the lifetime of the process.
type NopStore struct {
	mu     sync.Mutex
	topics map[string]Topic
}

func NewNop() *NopStore {
	return &NopStore{topics: make(map[string]Topic)}
}

func (n *NopStore) SaveRun(ctx context.Context, question string) (string, error) {
	return uuid.NewString(), nil
}

func (n *NopStore) FinishRun(ctx context.Context, runID, status string, result research.RunResult, errMsg *string) error {
	return nil
}

func (n *NopStore) SaveAttempt(ctx context.Context, runID string, rec research.AttemptRecord) error {
	return nil
}

func (n *NopStore) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	return Run{}, false, nil
}

func (n *NopStore) ListAttempts(ctx context.Context, runID string) ([]research.AttemptRecord, error) {
	return nil, nil
}

func (n *NopStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return nil, nil
}

func (n *NopStore) CreateTopic(ctx context.Context, name, question, schedule string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := uuid.NewString()
	n.topics[id] = Topic{ID: id, Name: name, Question: question, Schedule: schedule, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (n *NopStore) ListTopics(ctx context.Context) ([]Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Topic, 0, len(n.topics))
	for _, t := range n.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (n *NopStore) DeleteTopic(ctx context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.topics[id]; !ok {
		return ErrNotFound
	}
	delete(n.topics, id)
	return nil
}

func (n *NopStore) Close() error { return nil }
