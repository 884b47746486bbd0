package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/telemetry"
	"github.com/mohammad-safakhou/research-assistant/internal/queue/streams"
	"github.com/redis/go-redis/v9"
)

// OpsHandler exposes operational summaries.
type OpsHandler struct {
	kb        KnowledgeBase
	telemetry *telemetry.Telemetry
	redis     *redis.Client
	stream    string
}

func (h *OpsHandler) Register(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.GET("/stats", h.stats, m...)
}

// stats reports the knowledge base contents, run counters and, when events
// are published, the event stream's length.
func (h *OpsHandler) stats(c echo.Context) error {
	ctx := c.Request().Context()
	kb, err := h.kb.Stats(ctx)
	if err != nil {
		return err
	}
	out := StatsResponse{Knowledge: kb}
	if h.telemetry != nil {
		out.Pipeline = pipelineStats(h.telemetry.GetMetrics())
	}
	if h.redis != nil && h.stream != "" {
		st, err := streams.Stats(ctx, h.redis, h.stream, "")
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream: "+err.Error())
		}
		out.Events = &st
	}
	return c.JSON(http.StatusOK, out)
}
