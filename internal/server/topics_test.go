package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestCreateTopicDefaultsSchedule(t *testing.T) {
	e := echo.New()
	st := newStubStore()
	h := &TopicsHandler{Store: st}

	req := jsonRequest(http.MethodPost, "/api/topics", `{"name":"go releases","question":"what changed in the latest go release"}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp IDResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	saved, ok := st.topics[resp.ID]
	if !ok {
		t.Fatalf("topic %q not saved", resp.ID)
	}
	if saved.Schedule != "@daily" {
		t.Fatalf("expected @daily default, got %q", saved.Schedule)
	}
}

func TestCreateTopicCronSchedule(t *testing.T) {
	e := echo.New()
	st := newStubStore()
	h := &TopicsHandler{Store: st}

	req := jsonRequest(http.MethodPost, "/api/topics", `{"question":"q","schedule":"0 8 * * 1"}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestCreateTopicInvalidSchedule(t *testing.T) {
	e := echo.New()
	h := &TopicsHandler{Store: newStubStore()}

	req := jsonRequest(http.MethodPost, "/api/topics", `{"question":"q","schedule":"whenever"}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := h.create(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestCreateTopicRequiresQuestion(t *testing.T) {
	e := echo.New()
	h := &TopicsHandler{Store: newStubStore()}

	req := jsonRequest(http.MethodPost, "/api/topics", `{"name":"empty"}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := h.create(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestListTopics(t *testing.T) {
	e := echo.New()
	st := newStubStore()
	if _, err := st.CreateTopic(context.Background(), "n", "q", "@hourly"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := &TopicsHandler{Store: st}

	req := httptest.NewRequest(http.MethodGet, "/api/topics", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := h.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp []TopicResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 || resp[0].Schedule != "@hourly" {
		t.Fatalf("unexpected topics: %+v", resp)
	}
}

func TestDeleteTopic(t *testing.T) {
	e := echo.New()
	st := newStubStore()
	id, err := st.CreateTopic(context.Background(), "n", "q", "@daily")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	h := &TopicsHandler{Store: st}

	req := httptest.NewRequest(http.MethodDelete, "/api/topics/"+id, nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues(id)

	if err := h.delete(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestDeleteTopicMissing(t *testing.T) {
	e := echo.New()
	h := &TopicsHandler{Store: newStubStore()}

	req := httptest.NewRequest(http.MethodDelete, "/api/topics/ghost", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("ghost")

	err := h.delete(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 error, got %#v", err)
	}
}
