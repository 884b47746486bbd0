package server

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"go.uber.org/zap"
)

// KnowledgeHandler manages the knowledge base behind the retriever tool.
type KnowledgeHandler struct {
	kb        KnowledgeBase
	sampleDir string
	logger    *zap.Logger
}

func (h *KnowledgeHandler) Register(g *echo.Group, m ...echo.MiddlewareFunc) {
	g.POST("/ingest", h.ingest, m...)
	g.POST("/ingest/sample", h.sample, m...)
	g.DELETE("/reset", h.reset, m...)
}

func (h *KnowledgeHandler) ingest(c echo.Context) error {
	var body IngestRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if len(body.Paths) == 0 && len(body.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "paths or documents required")
	}
	ctx := c.Request().Context()
	start := time.Now()

	var total knowledge.IngestReport
	for _, p := range body.Paths {
		rep, err := h.kb.IngestPath(ctx, p)
		if err != nil {
			return ingestError(err)
		}
		addReport(&total, rep)
	}
	if len(body.Documents) > 0 {
		docs := make([]knowledge.Document, 0, len(body.Documents))
		for _, d := range body.Documents {
			docs = append(docs, knowledge.Document{Source: d.Source, Title: d.Title, URL: d.URL, Text: d.Text, PublishedAt: d.PublishedAt})
		}
		rep, err := h.kb.Ingest(ctx, docs)
		if err != nil {
			return ingestError(err)
		}
		addReport(&total, rep)
	}
	h.logger.Info("ingested", zap.Int("documents", total.Documents), zap.Int("chunks", total.Ingested), zap.Int("duplicates", total.Duplicates))
	return c.JSON(http.StatusOK, IngestResponse{IngestReport: total, DurationSeconds: time.Since(start).Seconds()})
}

func (h *KnowledgeHandler) sample(c echo.Context) error {
	start := time.Now()
	rep, err := h.kb.IngestSample(c.Request().Context(), h.sampleDir)
	if err != nil {
		return ingestError(err)
	}
	return c.JSON(http.StatusOK, IngestResponse{IngestReport: rep, DurationSeconds: time.Since(start).Seconds()})
}

func (h *KnowledgeHandler) reset(c echo.Context) error {
	if err := h.kb.Reset(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

func ingestError(err error) error {
	if errors.Is(err, knowledge.ErrNoDocuments) || errors.Is(err, fs.ErrNotExist) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func addReport(total *knowledge.IngestReport, rep knowledge.IngestReport) {
	total.Documents += rep.Documents
	total.Created += rep.Created
	total.Ingested += rep.Ingested
	total.Duplicates += rep.Duplicates
	total.Embedded += rep.Embedded
	total.Skipped = append(total.Skipped, rep.Skipped...)
}
