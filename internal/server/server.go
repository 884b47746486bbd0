package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/research-assistant/config"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/core"
	"github.com/mohammad-safakhou/research-assistant/internal/agent/telemetry"
	"github.com/mohammad-safakhou/research-assistant/internal/knowledge"
	"github.com/mohammad-safakhou/research-assistant/internal/runtime"
	"github.com/mohammad-safakhou/research-assistant/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pipeline runs research questions.
type Pipeline interface {
	Run(ctx context.Context, req core.Request, sinks ...core.Sink) (*core.Result, error)
	RunStreaming(ctx context.Context, req core.Request, sinks ...core.Sink) <-chan core.Event
}

// KnowledgeBase is the part of the knowledge base the API exposes.
type KnowledgeBase interface {
	Ingest(ctx context.Context, docs []knowledge.Document) (knowledge.IngestReport, error)
	IngestPath(ctx context.Context, path string) (knowledge.IngestReport, error)
	IngestSample(ctx context.Context, dir string) (knowledge.IngestReport, error)
	Stats(ctx context.Context) (knowledge.Stats, error)
	Reset(ctx context.Context) error
}

// RunStore reads persisted runs.
type RunStore interface {
	ListRuns(ctx context.Context, limit int, status string) ([]store.RunRecord, error)
	GetRun(ctx context.Context, id string) (store.RunRecord, error)
	RunEvents(ctx context.Context, id string) ([]store.EventRecord, error)
}

// Deps are the components behind the API. Config, Pipeline and Knowledge are
// required; the rest are optional.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	Pipeline  Pipeline
	Knowledge KnowledgeBase
	Runs      RunStore
	// RunSinks returns per-run sinks such as the run store recorder.
	RunSinks func(core.Request) []core.Sink
	// Telemetry feeds the run counters of /api/stats.
	Telemetry      *telemetry.Telemetry
	MetricsHandler http.Handler

	Redis       *redis.Client
	EventStream string
}

// DepsFromApp adapts a wired runtime.App.
func DepsFromApp(app *runtime.App) Deps {
	d := Deps{
		Config:    app.Config,
		Logger:    app.Logger,
		Pipeline:  app.Relay,
		Knowledge: app.Knowledge,
		RunSinks:  app.RunSinks,
		Telemetry: app.Metrics,
		Redis:     app.Redis,
	}
	if app.Store != nil {
		d.Runs = app.Store
	}
	if app.Telemetry != nil {
		d.MetricsHandler = app.Telemetry.Handler()
	}
	if app.Events != nil {
		d.EventStream = app.Events.Stream()
	}
	return d
}

// Server is the HTTP API.
type Server struct {
	deps      Deps
	logger    *zap.Logger
	echo      *echo.Echo
	scheduler *Scheduler
}

// New builds the echo instance and registers every route.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Pipeline == nil || deps.Knowledge == nil {
		return nil, errors.New("server: config, pipeline and knowledge base are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MetricsHandler == nil {
		deps.MetricsHandler = promhttp.Handler()
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("http")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]string{"status": "ok"}) })
	e.GET("/metrics", echo.WrapHandler(deps.MetricsHandler))
	registerDocs(e)

	api := e.Group("/api")
	secret, err := runtime.LoadJWTSecret(deps.Config.Server)
	switch {
	case errors.Is(err, runtime.ErrAuthDisabled):
		s.logger.Warn("api authentication disabled: server.jwt_secret is empty")
	case err != nil:
		return nil, err
	default:
		api.Use(runtime.EchoAuthMiddleware(secret))
	}
	scoped := func(scope string) []echo.MiddlewareFunc {
		if secret == nil {
			return nil
		}
		return []echo.MiddlewareFunc{runtime.RequireScopes(scope)}
	}

	rh := &ResearchHandler{pipeline: deps.Pipeline, sinks: deps.RunSinks, cfg: deps.Config.Server, fastMode: deps.Config.Pipeline.FastMode, logger: s.logger}
	rh.Register(api, scoped(runtime.ScopeAsk)...)

	kh := &KnowledgeHandler{kb: deps.Knowledge, sampleDir: deps.Config.Knowledge.SampleDir, logger: s.logger}
	kh.Register(api, scoped(runtime.ScopeIngest)...)

	oh := &OpsHandler{kb: deps.Knowledge, telemetry: deps.Telemetry, redis: deps.Redis, stream: deps.EventStream}
	oh.Register(api, scoped(runtime.ScopeRead)...)

	if deps.Runs != nil {
		runs := &RunsHandler{store: deps.Runs}
		runs.Register(api.Group("/runs", scoped(runtime.ScopeRead)...))
	}

	if spec := deps.Config.Knowledge.RefreshCron; spec != "" && deps.Config.Knowledge.SourcesDir != "" {
		sched, err := NewScheduler(spec, deps.Config.Knowledge.SourcesDir, deps.Knowledge, deps.Redis, s.logger)
		if err != nil {
			return nil, err
		}
		s.scheduler = sched
	}

	s.echo = e
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.deps.Config.Server.Address
	}
	if addr == "" {
		addr = ":8080"
	}
	if s.scheduler != nil {
		s.scheduler.Start(ctx)
		defer s.scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// errorHandler renders every failure as {"error": {...}} and logs it.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	body := ErrorBody{Kind: "InternalError", Message: err.Error()}

	var he *echo.HTTPError
	var se *core.StageError
	switch {
	case errors.As(err, &se):
		code = statusForStage(se)
		body = ErrorBody{Kind: string(se.Kind), Message: se.Error(), Phase: string(se.Phase)}
	case errors.As(err, &he):
		code = he.Code
		body = ErrorBody{Kind: http.StatusText(he.Code), Message: fmt.Sprint(he.Message)}
	}

	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Info("request rejected", fields...)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, ErrorResponse{Error: body})
	}
}

// StatusClientClosedRequest is the non-standard status for runs cancelled
// because the caller went away.
const StatusClientClosedRequest = 499

func statusForStage(se *core.StageError) int {
	switch se.Kind {
	case core.KindCancellation:
		if errors.Is(se, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return StatusClientClosedRequest
	case core.KindPlanning, core.KindResearch, core.KindSynthesis:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
