package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/mohammad-safakhou/delver/internal/research"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return &Store{DB: db}, mock, func() { _ = db.Close() }
}

func TestSaveRun(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`INSERT INTO runs (question, status) VALUES ($1,$2) RETURNING id`)
	mock.ExpectQuery(query).
		WithArgs("what is raft", RunStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))

	id, err := st.SaveRun(context.Background(), "what is raft")
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id != "run-1" {
		t.Fatalf("unexpected id: %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRun(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`UPDATE runs SET status=$1, answer=$2, provider=$3, attempts=$4, finished_at=NOW(), error=$5 WHERE id=$6`)
	mock.ExpectExec(query).
		WithArgs(RunStatusSucceeded, "consensus algorithm", "duckduckgo", 2, nil, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := research.RunResult{Answer: "consensus algorithm", Provider: "duckduckgo", Attempts: 2}
	if err := st.FinishRun(context.Background(), "run-1", RunStatusSucceeded, res, nil); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFinishRunMissing(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`UPDATE runs SET status=$1, answer=$2, provider=$3, attempts=$4, finished_at=NOW(), error=$5 WHERE id=$6`)
	mock.ExpectExec(query).
		WithArgs(RunStatusFailed, "", "", 0, sqlmock.AnyArg(), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	msg := "context canceled"
	err := st.FinishRun(context.Background(), "gone", RunStatusFailed, research.RunResult{}, &msg)
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveAttempt(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`INSERT INTO run_attempts (run_id, attempt, query, time_range, provider, results, selected, decision, error) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	mock.ExpectExec(query).
		WithArgs("run-1", 0, "raft consensus", "none", "brave", 5, sqlmock.AnyArg(), "answer", "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := research.AttemptRecord{
		Index:     0,
		Query:     "raft consensus",
		TimeRange: "none",
		Provider:  "brave",
		Results:   5,
		Selected:  []string{"https://a.example/p", "https://b.example/q"},
		Decision:  "answer",
	}
	if err := st.SaveAttempt(context.Background(), "run-1", rec); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRun(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	started := time.Now().Add(-time.Minute)
	finished := time.Now()
	query := regexp.QuoteMeta(`SELECT id, question, answer, provider, status, attempts, started_at, finished_at, error FROM runs WHERE id=$1`)
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "question", "answer", "provider", "status", "attempts", "started_at", "finished_at", "error"}).
			AddRow("run-1", "what is raft", "consensus algorithm", "tavily", RunStatusSucceeded, 1, started, finished, nil))

	run, ok, err := st.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !ok {
		t.Fatalf("expected run")
	}
	if run.Question != "what is raft" || run.Provider != "tavily" || run.Attempts != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinishedAt == nil || run.Error != nil {
		t.Fatalf("unexpected run pointers: %+v", run)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunMissing(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`SELECT id, question, answer, provider, status, attempts, started_at, finished_at, error FROM runs WHERE id=$1`)
	mock.ExpectQuery(query).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, ok, err := st.GetRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if ok {
		t.Fatalf("expected no run")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAttempts(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`SELECT attempt, query, time_range, provider, results, selected, decision, error FROM run_attempts WHERE run_id=$1 ORDER BY attempt`)
	mock.ExpectQuery(query).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempt", "query", "time_range", "provider", "results", "selected", "decision", "error"}).
			AddRow(0, "raft consensus", "none", "brave", 5, pq.StringArray{"https://a.example/p"}, "refine", "").
			AddRow(1, "raft leader election", "w", "brave", 3, pq.StringArray{"https://b.example/q"}, "answer", ""))

	recs, err := st.ListAttempts(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(recs))
	}
	if recs[0].Decision != "refine" || recs[1].TimeRange != "w" {
		t.Fatalf("unexpected attempts: %+v", recs)
	}
	if len(recs[0].Selected) != 1 || recs[0].Selected[0] != "https://a.example/p" {
		t.Fatalf("unexpected selected urls: %+v", recs[0].Selected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListRuns(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	started := time.Now()
	query := regexp.QuoteMeta(`SELECT id, question, answer, provider, status, attempts, started_at, finished_at, error FROM runs ORDER BY started_at DESC LIMIT $1`)
	mock.ExpectQuery(query).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "question", "answer", "provider", "status", "attempts", "started_at", "finished_at", "error"}).
			AddRow("run-2", "newest", "", "", RunStatusRunning, 0, started, nil, nil).
			AddRow("run-1", "oldest", "done", "exa", RunStatusSucceeded, 1, started.Add(-time.Hour), started, nil))

	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" || runs[1].Status != RunStatusSucceeded {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateTopic(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`INSERT INTO topics (name, question, schedule) VALUES ($1,$2,$3) RETURNING id`)
	mock.ExpectQuery(query).
		WithArgs("go releases", "what changed in the latest Go release", "@daily").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("topic-1"))

	id, err := st.CreateTopic(context.Background(), "go releases", "what changed in the latest Go release", "@daily")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if id != "topic-1" {
		t.Fatalf("unexpected id: %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListTopics(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`SELECT id, name, question, schedule, created_at FROM topics ORDER BY created_at DESC`)
	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "question", "schedule", "created_at"}).
			AddRow("topic-1", "go releases", "what changed in the latest Go release", "@daily", time.Now()))

	topics, err := st.ListTopics(context.Background())
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(topics) != 1 || topics[0].Schedule != "@daily" {
		t.Fatalf("unexpected topics: %+v", topics)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteTopicMissing(t *testing.T) {
	st, mock, done := newMockStore(t)
	defer done()

	query := regexp.QuoteMeta(`DELETE FROM topics WHERE id=$1`)
	mock.ExpectExec(query).WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.DeleteTopic(context.Background(), "gone"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
