package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/delver/config"
	"github.com/mohammad-safakhou/delver/internal/research"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *stubStore) {
	t.Helper()
	eng := &stubEngine{res: research.RunResult{Answer: "answer", Provider: "tavily", Attempts: 1}}
	st := newStubStore()
	return New(cfg, eng, st, nil, testLogger()), st
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("expected ok body, got %q", rec.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestResearchRouteOpenWithoutAuth(t *testing.T) {
	s, st := newTestServer(t, config.ServerConfig{})

	req := jsonRequest(http.MethodPost, "/api/research", `{"question":"what is mvcc"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ResearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "answer" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(st.runs) != 1 {
		t.Fatalf("expected 1 persisted run, got %d", len(st.runs))
	}
}

func TestAuthGuardBlocksAnonymous(t *testing.T) {
	cfg := config.ServerConfig{
		AuthEnabled: true,
		JWTSecret:   "test-secret",
		Users:       testUsers(t, "alice", "s3cret"),
	}
	s, _ := newTestServer(t, cfg)

	req := jsonRequest(http.MethodPost, "/api/research", `{"question":"q"}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var envelope HTTPError
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error == "" {
		t.Fatalf("expected error envelope, got %q", rec.Body.String())
	}
}

func TestAuthGuardLoginFlow(t *testing.T) {
	cfg := config.ServerConfig{
		AuthEnabled: true,
		JWTSecret:   "test-secret",
		Users:       testUsers(t, "alice", "s3cret"),
	}
	s, _ := newTestServer(t, cfg)

	login := jsonRequest(http.MethodPost, "/api/auth/login", `{"username":"alice","password":"s3cret"}`)
	loginRec := httptest.NewRecorder()
	s.ServeHTTP(loginRec, login)
	if loginRec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", loginRec.Code, loginRec.Body.String())
	}
	var tok TokenResponse
	if err := json.Unmarshal(loginRec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode token: %v", err)
	}

	req := jsonRequest(http.MethodPost, "/api/research", `{"question":"q"}`)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	s, _ := newTestServer(t, config.ServerConfig{})

	req := jsonRequest(http.MethodPost, "/api/research", `{"question":""}`)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "question required") {
		t.Fatalf("expected error message in envelope, got %q", rec.Body.String())
	}
}
