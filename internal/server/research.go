package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/delver/internal/research"
	"github.com/mohammad-safakhou/delver/internal/store"
)

// ResearchHandler exposes the retrieval loop over HTTP and records runs.
type ResearchHandler struct {
	Engine ResearchEngine
	Store  store.RunStore
	Logger *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.Use(mw...)
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *ResearchHandler) create(c echo.Context) error {
	var req ResearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	ctx := c.Request().Context()

	// persistence failures must not block answering
	runID, err := h.Store.SaveRun(ctx, question)
	if err != nil {
		h.logf("save run: %v", err)
		runID = ""
	}

	res, err := h.Engine.Run(ctx, question)
	if err != nil {
		if runID != "" {
			msg := err.Error()
			if err := h.Store.FinishRun(ctx, runID, store.RunStatusFailed, research.RunResult{}, &msg); err != nil {
				h.logf("finish run %s: %v", runID, err)
			}
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if runID != "" {
		for _, rec := range res.Records {
			if err := h.Store.SaveAttempt(ctx, runID, rec); err != nil {
				h.logf("save attempt %d for run %s: %v", rec.Index, runID, err)
			}
		}
		if err := h.Store.FinishRun(ctx, runID, store.RunStatusSucceeded, res, nil); err != nil {
			h.logf("finish run %s: %v", runID, err)
		}
	}

	return c.JSON(http.StatusOK, ResearchResponse{
		ID:       runID,
		Answer:   res.Answer,
		Provider: string(res.Provider),
		Attempts: res.Attempts,
	})
}

func (h *ResearchHandler) get(c echo.Context) error {
	id := c.Param("id")
	run, ok, err := h.Store.GetRun(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	records, err := h.Store.ListAttempts(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, RunDetailResponse{RunSummary: runToSummary(run), Records: records})
}

func (h *ResearchHandler) list(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	runs, err := h.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, runToSummary(r))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ResearchHandler) logf(format string, args ...interface{}) {
	if h.Logger != nil {
		h.Logger.Printf(format, args...)
	}
}

func runToSummary(r store.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		Question:   r.Question,
		Answer:     r.Answer,
		Provider:   r.Provider,
		Status:     r.Status,
		Attempts:   r.Attempts,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Error:      r.Error,
	}
}
