// Package server exposes devloop's approval surface: a JSON API for starting
// runs, inspecting their state, and posting gate decisions.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HTTP approval surface.
type Server struct {
	echo   *echo.Echo
	runner *Runner
	logger *zap.Logger
}

// New creates a Server around a Runner. registry may be nil to omit the
// /metrics endpoint.
func New(runner *Runner, logger *zap.Logger, registry *prometheus.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, runner: runner, logger: logger}
	s.registerRoutes(registry)
	return s
}

func (s *Server) registerRoutes(registry *prometheus.Registry) {
	s.echo.GET("/health", s.handleHealth)
	if registry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleCreateRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/decision", s.handleDecision)
	v1.GET("/runs/:id/history", s.handleHistory)
}

// CreateRunRequest is the body for POST /api/v1/runs. Model is optional and
// overrides the configured default for this run.
type CreateRunRequest struct {
	Requirements   string `json:"requirements"`
	TargetLanguage string `json:"target_language"`
	Model          string `json:"model,omitempty"`
}

// CreateRunResponse is the 202 body for POST /api/v1/runs.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

// DecisionRequest is the body for POST /api/v1/runs/:id/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleCreateRun(c echo.Context) error {
	var req CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Requirements == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requirements field is required")
	}
	if req.TargetLanguage == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "target_language field is required")
	}

	runID, err := s.runner.Start(req.Requirements, req.TargetLanguage, req.Model)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusAccepted, CreateRunResponse{RunID: runID})
}

func (s *Server) handleListRuns(c echo.Context) error {
	views, err := s.runner.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "list runs failed")
	}
	return c.JSON(http.StatusOK, views)
}

// RunDetail is the body for GET /api/v1/runs/:id.
type RunDetail struct {
	RunView
	State interface{} `json:"state"`
}

func (s *Server) handleGetRun(c echo.Context) error {
	view, state, err := s.runner.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "load run failed")
	}
	return c.JSON(http.StatusOK, RunDetail{RunView: view, State: state})
}

func (s *Server) handleDecision(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.runner.Decide(c.Param("id"), req.Decision, req.Feedback)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, map[string]string{"status": "resumed"})
	case errors.Is(err, ErrRunNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	case errors.Is(err, ErrNotAwaiting):
		return echo.NewHTTPError(http.StatusConflict, "run is not awaiting approval")
	case errors.Is(err, ErrMissingRequest):
		return echo.NewHTTPError(http.StatusBadRequest, "feedback decision requires feedback text")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleHistory(c echo.Context) error {
	records, err := s.runner.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "load history failed")
	}

	type step struct {
		Step   int         `json:"step"`
		NodeID string      `json:"node_id"`
		State  interface{} `json:"state"`
	}
	out := make([]step, 0, len(records))
	for _, rec := range records {
		out = append(out, step{Step: rec.Step, NodeID: rec.NodeID, State: rec.State})
	}
	return c.JSON(http.StatusOK, out)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
