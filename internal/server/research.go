package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var researchTracer = otel.Tracer("research-assistant/internal/server/research")

// ResearchHandler serves question answering, synchronous and streamed.
type ResearchHandler struct {
	pipeline Pipeline
	sinks    func(core.Request) []core.Sink
	cfg      config.ServerConfig
	// fastMode applies when a request leaves fast_mode unset.
	fastMode bool
	logger   *zap.Logger
}

func (h *ResearchHandler) Register(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.POST("/ask", h.ask, m...)
	if h.cfg.StreamEnabled {
		g.POST("/stream", h.stream, m...)
	}
}

func (h *ResearchHandler) bind(c echo.Context) (core.Request, error) {
	var body AskRequest
	if err := c.Bind(&body); err != nil {
		return core.Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	body.Question = strings.TrimSpace(body.Question)
	if body.Question == "" {
		return core.Request{}, echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	if body.MaxSources < 0 {
		return core.Request{}, echo.NewHTTPError(http.StatusBadRequest, "max_sources cannot be negative")
	}
	req := core.Request{
		Question:       body.Question,
		Context:        strings.TrimSpace(body.Context),
		MaxSources:     body.MaxSources,
		RequireRecent:  body.RequireRecent,
		AllowedDomains: body.AllowedDomains,
		BlockedDomains: body.BlockedDomains,
		FastMode:       h.fastMode,
	}
	if body.FastMode != nil {
		req.FastMode = *body.FastMode
	}
	return req, nil
}

func (h *ResearchHandler) runContext(c echo.Context) (context.Context, context.CancelFunc) {
	ctx := c.Request().Context()
	if h.cfg.RequestTimeout > 0 {
		return context.WithTimeout(ctx, h.cfg.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *ResearchHandler) runSinks(req core.Request) []core.Sink {
	if h.sinks == nil {
		return nil
	}
	return h.sinks(req)
}

// ask runs the pipeline and replies with the final answer.
func (h *ResearchHandler) ask(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.runContext(c)
	defer cancel()
	ctx, span := researchTracer.Start(ctx, "ResearchHandler.ask")
	defer span.End()
	span.SetAttributes(attribute.Bool("fast_mode", req.FastMode))

	res, err := h.pipeline.Run(ctx, req, h.runSinks(req)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return c.JSON(http.StatusOK, AskResponse{
		RunID:           res.RunID,
		Answer:          res.Answer,
		Citations:       res.Citations,
		Confidence:      res.Confidence,
		Unanswerable:    res.Unanswerable,
		DurationSeconds: res.Duration.Seconds(),
	})
}

// stream runs the pipeline and relays every event as a Server-Sent Event. A
// client disconnect cancels the run; remaining events are drained unsent.
func (h *ResearchHandler) stream(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	ctx, cancel := h.runContext(c)
	defer cancel()
	ctx, span := researchTracer.Start(ctx, "ResearchHandler.stream")
	defer span.End()

	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	writeFailed := false
	for ev := range h.pipeline.RunStreaming(ctx, req, h.runSinks(req)...) {
		if writeFailed {
			continue
		}
		if err := writeEvent(resp, ev); err != nil {
			writeFailed = true
			h.logger.Info("stream client went away", zap.String("run_id", ev.RunID), zap.Error(err))
			cancel()
			continue
		}
		flusher.Flush()
		if ev.Type == core.EventError {
			span.SetStatus(codes.Error, ev.Error.Message)
		}
	}
	return nil
}

func writeEvent(w http.ResponseWriter, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}
