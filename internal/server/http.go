// Package server exposes script generation over REST and MCP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apresai/newsdesk/internal/observability"
	"github.com/apresai/newsdesk/internal/quality"
	"github.com/apresai/newsdesk/internal/stage"
	"github.com/apresai/newsdesk/internal/store"
)

// Config holds HTTP server configuration.
type Config struct {
	Port    int
	Version string
}

// Server serves the REST API, the MCP endpoint, and Prometheus metrics.
type Server struct {
	echo    *echo.Echo
	svc     *Service
	store   store.EpisodeStore
	log     *slog.Logger
	cfg     Config
	baseCtx context.Context
}

// New creates the server. baseCtx is cancelled on shutdown; generations
// started by requests derive from it rather than from the request context.
func New(baseCtx context.Context, svc *Service, st store.EpisodeStore, gatherer prometheus.Gatherer, cfg Config, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{v: validator.New()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			logger.InfoContext(c.Request().Context(), "http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start).String(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:    e,
		svc:     svc,
		store:   st,
		log:     logger,
		cfg:     cfg,
		baseCtx: baseCtx,
	}
	s.registerRoutes(gatherer)
	return s
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/generate-script", s.handleGenerate)
	v1.GET("/episodes", s.handleListEpisodes)
	v1.GET("/episodes/:date", s.handleGetEpisode)
	v1.POST("/validate", s.handleValidate)

	mcpHTTP := mcpserver.NewStreamableHTTPServer(NewMCP(s.svc, s.store, s.cfg.Version, s.log),
		mcpserver.WithStateLess(true),
	)
	s.echo.Any("/mcp", echo.WrapHandler(mcpHTTP))
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// GenerateRequest is the body of POST /api/v1/generate-script. Both fields
// are optional.
type GenerateRequest struct {
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Editor *bool  `json:"editor"`
}

// ValidateRequest is the body of POST /api/v1/validate.
type ValidateRequest struct {
	Text            string `json:"text" validate:"required"`
	ExpectedStories int    `json:"expected_stories" validate:"omitempty,min=1,max=100"`
}

// ValidateResponse carries the cleaned text and its validation result.
type ValidateResponse struct {
	Cleaned      string         `json:"cleaned"`
	RemovedLines int            `json:"removed_lines"`
	Result       quality.Result `json:"result"`
}

type listQuery struct {
	Limit  int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Cursor string `query:"cursor"`
}

// ListResponse is the body of GET /api/v1/episodes.
type ListResponse struct {
	Episodes   []store.Record `json:"episodes"`
	Count      int            `json:"count"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.cfg.Version})
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	date, err := parseOptionalDate(req.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	editor := s.svc.DefaultEditor()
	if req.Editor != nil {
		editor = *req.Editor
	}

	ctx := observability.DetachTraceContextFrom(c.Request().Context(), s.baseCtx)
	res, err := s.svc.Generate(ctx, date, editor)
	if errors.Is(err, ErrBusy) {
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}
	if err != nil {
		s.log.ErrorContext(ctx, "Generate script failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store episode")
	}
	return c.JSON(http.StatusCreated, res)
}

// parseOptionalDate returns the zero time for an empty string.
func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return stage.ParseDate(s)
}

func (s *Server) handleGetEpisode(c echo.Context) error {
	date := c.Param("date")
	if _, err := stage.ParseDate(date); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := s.store.Get(c.Request().Context(), date)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no episode for %s", date))
	}
	if err != nil {
		s.log.ErrorContext(c.Request().Context(), "Get episode failed", "date", date, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load episode")
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListEpisodes(c echo.Context) error {
	var q listQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query")
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	records, next, err := s.store.List(c.Request().Context(), q.Limit, q.Cursor)
	if err != nil {
		s.log.ErrorContext(c.Request().Context(), "List episodes failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list episodes")
	}
	return c.JSON(http.StatusOK, ListResponse{Episodes: records, Count: len(records), NextCursor: next})
}

func (s *Server) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	expected := req.ExpectedStories
	if expected == 0 {
		expected = stage.EpisodeStories
	}

	cleaned, removed := quality.CleanCount(req.Text)
	return c.JSON(http.StatusOK, ValidateResponse{
		Cleaned:      cleaned,
		RemovedLines: removed,
		Result:       quality.Validate(cleaned, expected),
	})
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.log.Info("Starting newsdesk server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down newsdesk server")
	return s.echo.Shutdown(ctx)
}
