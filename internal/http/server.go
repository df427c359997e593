// Package http provides the control API for the federated daemon.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/federated/internal/apperr"
	"github.com/fyrsmithlabs/federated/internal/logging"
	"github.com/fyrsmithlabs/federated/internal/platform"
	"github.com/fyrsmithlabs/federated/internal/rules"
	"github.com/fyrsmithlabs/federated/internal/search"
	"github.com/fyrsmithlabs/federated/internal/store"
	"github.com/fyrsmithlabs/federated/internal/worker"
)

// Platform is the orchestrator surface the API serves.
type Platform interface {
	Status(ctx context.Context) platform.Status
	Search(ctx context.Context, text string, filters map[string]string) ([]search.Result, error)
	EnforceRules(ctx context.Context, path string) (rules.FixOutcome, error)
	FederatedQuery(ctx context.Context, query string, params map[string]any) ([]store.Row, error)
}

// JobRunner runs external worker jobs.
type JobRunner interface {
	Run(ctx context.Context, input, output string, progress worker.ProgressFunc) (worker.Result, error)
}

// Server provides HTTP endpoints for the daemon.
type Server struct {
	echo     *echo.Echo
	platform Platform
	jobs     JobRunner
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithJobRunner enables POST /jobs.
func WithJobRunner(r JobRunner) Option {
	return func(s *Server) { s.jobs = r }
}

// WithGatherer serves g at /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// NewServer creates a new HTTP server.
func NewServer(p Platform, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("platform cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8989,
		}
	}

	s := &Server{
		platform: p,
		gatherer: prometheus.DefaultGatherer,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(s.logger).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.echo = e
	s.registerRoutes()
	return s, nil
}

// requestLogger carries the request id into the request context and logs
// every request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

		err := next(c)
		if err != nil {
			// Resolve the status before logging; echo writes it after the chain.
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/search", s.handleSearch)
	s.echo.POST("/enforce", s.handleEnforce)
	s.echo.POST("/query", s.handleQuery)
	s.echo.POST("/jobs", s.handleJob)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.platform.Status(c.Request().Context()))
}

// searchFilterPrefix lets a metadata filter use a reserved parameter name,
// e.g. filter.limit=3.
const searchFilterPrefix = "filter."

func (s *Server) handleSearch(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	filters := make(map[string]string)
	for k, v := range c.QueryParams() {
		if len(v) == 0 {
			continue
		}
		switch {
		case strings.HasPrefix(k, searchFilterPrefix):
			if key := strings.TrimPrefix(k, searchFilterPrefix); key != "" {
				filters[key] = v[0]
			}
		case k == "q" || k == "limit":
		default:
			filters[k] = v[0]
		}
	}
	results, err := s.platform.Search(c.Request().Context(), q, filters)
	if err != nil {
		return s.fail(c, "search", err)
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleEnforce(c echo.Context) error {
	var req EnforceRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid enforce request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	outcome, err := s.platform.EnforceRules(c.Request().Context(), req.FilePath)
	if err != nil {
		return s.fail(c, "enforce", err)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	query := req.SQL
	if query == "" {
		query = req.Query
	}
	if strings.TrimSpace(query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sql or query field is required")
	}
	rows, err := s.platform.FederatedQuery(c.Request().Context(), query, req.Params)
	if err != nil {
		return s.fail(c, "query", err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (s *Server) handleJob(c echo.Context) error {
	if s.jobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "worker is not configured")
	}
	var req JobRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Input) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "input field is required")
	}
	res, err := s.jobs.Run(c.Request().Context(), req.Input, req.Output, nil)
	if err != nil {
		return s.fail(c, "job", err)
	}
	return c.JSON(http.StatusOK, res)
}

// fail maps err to an HTTP error. Malformed input is the caller's fault;
// everything else, including a platform that is not running, is ours.
func (s *Server) fail(c echo.Context, op string, err error) error {
	status := http.StatusInternalServerError
	if errors.Is(apperr.KindOf(err), apperr.ErrInvalidInput) {
		status = http.StatusBadRequest
	} else {
		s.logger.Error(c.Request().Context(), op+" failed", zap.Error(err))
	}
	return echo.NewHTTPError(status, err.Error())
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
