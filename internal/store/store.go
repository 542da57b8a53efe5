package store

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/search"
)

// Run statuses persisted for research runs.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// ErrNotFound reports a missing run or topic. It aliases sql.ErrNoRows so
// database misses pass errors.Is unchanged across backends.
var ErrNotFound = sql.ErrNoRows

// Run is one persisted research run.
type Run struct {
	ID         string
	Question   string
	Answer     string
	Provider   string
	Status     string
	Attempts   int
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      *string
}

// Topic is a saved recurring question with a cron cadence.
type Topic struct {
	ID        string
	Name      string
	Question  string
	Schedule  string
	CreatedAt time.Time
}

// RunStore persists research runs, their attempt traces and saved topics.
// Backends: Postgres, Redis, or a no-op fallback when neither is configured.
type RunStore interface {
	SaveRun(ctx context.Context, question string) (string, error)
	FinishRun(ctx context.Context, runID, status string, result research.RunResult, errMsg *string) error
	SaveAttempt(ctx context.Context, runID string, rec research.AttemptRecord) error
	GetRun(ctx context.Context, runID string) (Run, bool, error)
	ListAttempts(ctx context.Context, runID string) ([]research.AttemptRecord, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	CreateTopic(ctx context.Context, name, question, schedule string) (string, error)
	ListTopics(ctx context.Context) ([]Topic, error)
	DeleteTopic(ctx context.Context, id string) error
	Close() error
}

// Open selects the backend from config: Postgres when connection details are
// present, otherwise Redis, otherwise the no-op store.
func Open(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (RunStore, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	if cfg.Postgres.Configured() {
		logger.Printf("using postgres run store")
		return New(ctx, cfg.Postgres)
	}
	if cfg.Redis.Configured() {
		logger.Printf("using redis run store")
		return NewRedis(ctx, cfg.Redis)
	}
	logger.Printf("no storage configured, runs will not be persisted")
	return NewNop(), nil
}

// Store is the Postgres-backed RunStore. Schema lives in migrations/.
type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection from config and verifies it.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) SaveRun(ctx context.Context, question string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO runs (question, status) VALUES ($1,$2) RETURNING id`, question, RunStatusRunning).Scan(&id)
	return id, err
}

func (s *Store) FinishRun(ctx context.Context, runID, status string, result research.RunResult, errMsg *string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE runs SET status=$1, answer=$2, provider=$3, attempts=$4, finished_at=NOW(), error=$5 WHERE id=$6`,
		status, result.Answer, string(result.Provider), result.Attempts, errMsg, runID)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (s *Store) SaveAttempt(ctx context.Context, runID string, rec research.AttemptRecord) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO run_attempts (run_id, attempt, query, time_range, provider, results, selected, decision, error) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		runID, rec.Index, rec.Query, rec.TimeRange, string(rec.Provider), rec.Results, pq.Array(rec.Selected), rec.Decision, rec.Error)
	return err
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	var r Run
	err := s.DB.QueryRowContext(ctx, `SELECT id, question, answer, provider, status, attempts, started_at, finished_at, error FROM runs WHERE id=$1`, runID).
		Scan(&r.ID, &r.Question, &r.Answer, &r.Provider, &r.Status, &r.Attempts, &r.StartedAt, &r.FinishedAt, &r.Error)
	if err == sql.ErrNoRows {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return r, true, nil
}

func (s *Store) ListAttempts(ctx context.Context, runID string) ([]research.AttemptRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT attempt, query, time_range, provider, results, selected, decision, error FROM run_attempts WHERE run_id=$1 ORDER BY attempt`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []research.AttemptRecord
	for rows.Next() {
		var rec research.AttemptRecord
		var provider string
		var selected pq.StringArray
		if err := rows.Scan(&rec.Index, &rec.Query, &rec.TimeRange, &provider, &rec.Results, &selected, &rec.Decision, &rec.Error); err != nil {
			return nil, err
		}
		rec.Provider = search.Provider(provider)
		rec.Selected = []string(selected)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id, question, answer, provider, status, attempts, started_at, finished_at, error FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Question, &r.Answer, &r.Provider, &r.Status, &r.Attempts, &r.StartedAt, &r.FinishedAt, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateTopic(ctx context.Context, name, question, schedule string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO topics (name, question, schedule) VALUES ($1,$2,$3) RETURNING id`, name, question, schedule).Scan(&id)
	return id, err
}

func (s *Store) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, question, schedule, created_at FROM topics ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Topic
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Question, &t.Schedule, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM topics WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }
