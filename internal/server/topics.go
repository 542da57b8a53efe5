package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/delver/internal/store"
)

// TopicsHandler manages saved recurring research questions.
type TopicsHandler struct {
	Store store.RunStore
}

func (h *TopicsHandler) Register(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.Use(mw...)
	g.GET("", h.list)
	g.POST("", h.create)
	g.DELETE("/:id", h.delete)
}

func (h *TopicsHandler) create(c echo.Context) error {
	var req CreateTopicRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	schedule := strings.TrimSpace(req.Schedule)
	if schedule == "" {
		schedule = "@daily"
	}
	if !validSchedule(schedule) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid schedule: "+schedule)
	}
	id, err := h.Store.CreateTopic(c.Request().Context(), strings.TrimSpace(req.Name), question, schedule)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *TopicsHandler) list(c echo.Context) error {
	topics, err := h.Store.ListTopics(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TopicResponse, 0, len(topics))
	for _, t := range topics {
		out = append(out, TopicResponse{ID: t.ID, Name: t.Name, Question: t.Question, Schedule: t.Schedule, CreatedAt: t.CreatedAt})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *TopicsHandler) delete(c echo.Context) error {
	err := h.Store.DeleteTopic(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "topic not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func validSchedule(spec string) bool {
	switch spec {
	case "@daily", "@hourly":
		return true
	}
	_, err := cronexpr.Parse(spec)
	return err == nil
}
