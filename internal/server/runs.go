package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/research-assistant/internal/store"
)

// RunsHandler serves persisted run history.
type RunsHandler struct {
	store RunStore
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/:run_id", h.get)
}

func (h *RunsHandler) list(c echo.Context) error {
	limit := 20
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	status := strings.TrimSpace(c.QueryParam("status"))
	switch status {
	case "", store.StatusComplete, store.StatusRefused, store.StatusFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+status)
	}
	runs, err := h.store.ListRuns(c.Request().Context(), limit, status)
	if err != nil {
		return err
	}
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, summarize(r))
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": out})
}

func (h *RunsHandler) get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("run_id")
	rec, err := h.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	detail := RunDetail{RunRecord: rec}
	if c.QueryParam("events") != "false" {
		events, err := h.store.RunEvents(ctx, id)
		if err != nil {
			return err
		}
		for _, ev := range events {
			detail.Events = append(detail.Events, RunEvent{Seq: ev.Seq, Type: ev.Type, Phase: ev.Phase, Payload: json.RawMessage(ev.Payload), At: ev.OccurredAt})
		}
	}
	return c.JSON(http.StatusOK, detail)
}
