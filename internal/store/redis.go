package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
)

const (
	runKeyPrefix   = "run:"
	topicKeyPrefix = "topic:"
	recentRunsKey  = "runs:recent"
	topicsKey      = "topics"

	runTTL        = 7 * 24 * time.Hour
	maxRecentRuns = 1000
)

// RedisStore keeps runs as JSON documents with a bounded recency index. It
// serves deployments without Postgres; records expire after runTTL.
type RedisStore struct {
	client *redis.Client
}

// redisRun is the stored document: the run plus its attempt trace.
type redisRun struct {
	Run      runDoc                   `json:"run"`
	Attempts []research.AttemptRecord `json:"attempts,omitempty"`
}

type runDoc struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

type topicDoc struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Question  string    `json:"question"`
	Schedule  string    `json:"schedule"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRedis connects to Redis from config and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr(), Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SaveRun(ctx context.Context, question string) (string, error) {
	id := uuid.NewString()
	doc := redisRun{Run: runDoc{ID: id, Question: question, Status: RunStatusRunning, StartedAt: time.Now().UTC()}}
	if err := s.setRun(ctx, id, doc, runTTL); err != nil {
		return "", err
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, recentRunsKey, id)
	pipe.LTrim(ctx, recentRunsKey, 0, maxRecentRuns-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) FinishRun(ctx context.Context, runID, status string, result research.RunResult, errMsg *string) error {
	doc, ok, err := s.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	doc.Run.Status = status
	doc.Run.Answer = result.Answer
	doc.Run.Provider = string(result.Provider)
	doc.Run.Attempts = result.Attempts
	doc.Run.FinishedAt = &now
	doc.Run.Error = errMsg
	return s.setRun(ctx, runID, doc, redis.KeepTTL)
}

func (s *RedisStore) SaveAttempt(ctx context.Context, runID string, rec research.AttemptRecord) error {
	doc, ok, err := s.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	doc.Attempts = append(doc.Attempts, rec)
	return s.setRun(ctx, runID, doc, redis.KeepTTL)
}

func (s *RedisStore) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	doc, ok, err := s.getRun(ctx, runID)
	if err != nil || !ok {
		return Run{}, false, err
	}
	return docToRun(doc.Run), true, nil
}

func (s *RedisStore) ListAttempts(ctx context.Context, runID string) ([]research.AttemptRecord, error) {
	doc, ok, err := s.getRun(ctx, runID)
	if err != nil || !ok {
		return nil, err
	}
	return doc.Attempts, nil
}

func (s *RedisStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.client.LRange(ctx, recentRunsKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	var out []Run
	for _, id := range ids {
		doc, ok, err := s.getRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// expired but still indexed
			continue
		}
		out = append(out, docToRun(doc.Run))
	}
	return out, nil
}

func (s *RedisStore) CreateTopic(ctx context.Context, name, question, schedule string) (string, error) {
	id := uuid.NewString()
	doc := topicDoc{ID: id, Name: name, Question: question, Schedule: schedule, CreatedAt: time.Now().UTC()}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, topicKeyPrefix+id, raw, 0)
	pipe.SAdd(ctx, topicsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) ListTopics(ctx context.Context) ([]Topic, error) {
	ids, err := s.client.SMembers(ctx, topicsKey).Result()
	if err != nil {
		return nil, err
	}
	var out []Topic
	for _, id := range ids {
		raw, err := s.client.Get(ctx, topicKeyPrefix+id).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var doc topicDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		out = append(out, Topic{ID: doc.ID, Name: doc.Name, Question: doc.Question, Schedule: doc.Schedule, CreatedAt: doc.CreatedAt})
	}
	return out, nil
}

func (s *RedisStore) DeleteTopic(ctx context.Context, id string) error {
	removed, err := s.client.SRem(ctx, topicsKey, id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return s.client.Del(ctx, topicKeyPrefix+id).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) getRun(ctx context.Context, id string) (redisRun, bool, error) {
	raw, err := s.client.Get(ctx, runKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return redisRun{}, false, nil
	}
	if err != nil {
		return redisRun{}, false, err
	}
	var doc redisRun
	if err := json.Unmarshal(raw, &doc); err != nil {
		return redisRun{}, false, err
	}
	return doc, true, nil
}

func (s *RedisStore) setRun(ctx context.Context, id string, doc redisRun, ttl time.Duration) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, runKeyPrefix+id, raw, ttl).Err()
}

func docToRun(d runDoc) Run {
	return Run{
		ID:         d.ID,
		Question:   d.Question,
		Answer:     d.Answer,
		Provider:   d.Provider,
		Status:     d.Status,
		Attempts:   d.Attempts,
		StartedAt:  d.StartedAt,
		FinishedAt: d.FinishedAt,
		Error:      d.Error,
	}
}
