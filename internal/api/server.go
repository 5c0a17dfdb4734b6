package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/taskflow/internal/activity"
	"github.com/p-blackswan/taskflow/internal/authz"
	"github.com/p-blackswan/taskflow/internal/health"
	"github.com/p-blackswan/taskflow/internal/metrics"
	"github.com/p-blackswan/taskflow/internal/requestid"
	"github.com/p-blackswan/taskflow/internal/store"
	"github.com/p-blackswan/taskflow/internal/timer"
	"github.com/p-blackswan/taskflow/internal/timesheet"
)

// ServerConfig holds configuration for the HTTP API server.
type ServerConfig struct {
	ListenAddr  string
	AuthConfig  AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins string
	TLSEnabled  bool
	TLSCert     string
	TLSKey      string
}

// Deps are the components the handlers serve.
type Deps struct {
	Store      *store.Store
	Engine     *authz.Engine
	Timers     *timer.Manager
	Timesheets *timesheet.Aggregator
	Activity   *activity.SQLRecorder
	Checker    *health.Checker
	Metrics    *metrics.Metrics // optional
}

// Server is the taskflow API Fiber application.
type Server struct {
	app    *fiber.App
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, deps.Metrics)
	s.setupRoutes(NewHandlers(deps, logger), deps)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	// Recovery middleware
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	// CORS middleware
	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	// Access log wraps the limiter so rejected requests are logged and counted.
	s.app.Use(s.accessLog(m))

	// Rate limiter
	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit, m))
	}

	// Auth middleware
	s.app.Use(NewAuthMiddleware(cfg.AuthConfig, s.logger))
}

// accessLog logs and measures every request once the error handler has
// written the final status.
func (s *Server) accessLog(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		if err := c.Next(); err != nil {
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		elapsed := time.Since(start)
		route := c.Route().Path
		if m != nil {
			m.RecordRequest(c.Method(), route, strconv.Itoa(status), elapsed.Seconds())
		}

		// Skip noisy health and metrics logging
		if isInfraPath(c.Path()) {
			return nil
		}

		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("route", route).
			Int("status", status).
			Dur("latency", elapsed).
			Str("ip", c.IP()).
			Str("actor", actorFrom(c).ID).
			Str("request_id", requestid.FromFiber(c)).
			Msg("api request")

		return nil
	}
}

func (s *Server) setupRoutes(h *Handlers, deps Deps) {
	// Health and metrics endpoints (no auth required, handled in auth middleware)
	s.app.Get("/healthz", health.LivenessHandler())
	if deps.Checker != nil {
		s.app.Get("/readyz", deps.Checker.ReadinessHandler())
	}

	// Prometheus metrics
	if deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := s.app.Group("/api/v1")

	v1.Get("/me", h.Me)
	if deps.Checker != nil {
		v1.Get("/health", h.HealthDetail)
	}

	// Project endpoints
	v1.Post("/projects", h.CreateProject)
	v1.Get("/projects", h.ListProjects)
	v1.Get("/projects/:id", h.GetProject)
	v1.Patch("/projects/:id", h.UpdateProject)
	v1.Put("/projects/:id/members", h.SetProjectMembers)

	// Task endpoints
	v1.Post("/tasks", h.CreateTask)
	v1.Get("/tasks", h.ListTasks)
	v1.Get("/tasks/:id", h.GetTask)
	v1.Patch("/tasks/:id", h.UpdateTask)
	v1.Delete("/tasks/:id", h.DeleteTask)
	v1.Post("/tasks/:id/comments", h.AddComment)
	v1.Get("/tasks/:id/comments", h.ListComments)

	// Timer endpoints
	v1.Post("/tasks/:id/timer/start", h.StartTimer)
	v1.Post("/tasks/:id/timer/stop", h.StopTaskTimer)
	v1.Get("/tasks/:id/timer", h.TaskTimer)
	v1.Post("/timers/stop", h.StopTimer)
	v1.Get("/timers/active", h.ActiveTimer)
	v1.Get("/timers/:id", h.GetTimer)

	// Timesheet endpoints
	v1.Get("/timesheets/daily", h.DailyTimesheet)
	v1.Get("/timesheets/weekly", h.WeeklyTimesheet)
	v1.Get("/timesheets/summary", h.TimesheetSummary)

	v1.Get("/activity", h.ListActivity)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.config.TLSEnabled).Msg("API server starting")

	if s.config.TLSEnabled {
		return s.app.ListenTLS(addr, s.config.TLSCert, s.config.TLSKey)
	}
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
