// Package server exposes the RSVP ledger over HTTP. Volunteer-facing routes
// authenticate with session tokens; administrative routes authenticate with a
// shared admin token.
package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shorelinestewards/rsvp-ledger/internal/config"
	"github.com/shorelinestewards/rsvp-ledger/internal/sessions"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/ledger"
	"github.com/shorelinestewards/rsvp-ledger/pkg/core/lifecycle"
	"github.com/shorelinestewards/rsvp-ledger/pkg/store"
)

// Server wires the ledger services behind a fiber application.
type Server struct {
	app       *fiber.App
	store     store.Store
	logger    *zap.Logger
	cfg       *config.Config
	ledger    *ledger.Ledger
	lifecycle *lifecycle.Machine
	sessions  *sessions.Manager
}

// New builds the server and registers all routes.
func New(st store.Store, logger *zap.Logger, cfg *config.Config) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:      "rsvp-ledger",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			ErrorHandler: errorHandler(logger),
		}),
		store:  st,
		logger: logger,
		cfg:    cfg,
		ledger: ledger.New(st, logger, ledger.Options{
			MaxAttempts:        cfg.Retry.MaxAttempts,
			RetryBackoff:       cfg.RetryBackoff(),
			CancellationWindow: cfg.WindowDuration(),
			WindowMode:         ledger.WindowMode(cfg.CancellationWindow.Mode),
		}),
		lifecycle: lifecycle.New(st, logger, lifecycle.Options{
			CompletionPolicy: lifecycle.CompletionPolicy(cfg.CompletionRSVPPolicy),
		}),
		sessions: sessions.NewManager(st, cfg.SessionTTL()),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api")

	api.Get("/events", s.listEvents)
	api.Get("/events/:event_id", s.getEvent)

	authed := api.Group("", s.requireSession)
	authed.Post("/rsvp", s.submitRSVP)
	authed.Post("/rsvp/cancel", s.cancelRSVP)
	authed.Get("/volunteers/me/metrics", s.myMetrics)
	authed.Post("/auth/logout", s.logout)

	admin := api.Group("/admin", s.requireAdmin)
	admin.Post("/sessions", s.issueSession)
	admin.Post("/events", s.createEvent)
	admin.Patch("/events/:event_id", s.updateEvent)
	admin.Post("/events/:event_id/cancel", s.cancelEvent)
	admin.Post("/events/:event_id/attendance", s.markAttendance)
	admin.Get("/events/:event_id/rsvps", s.listEventRSVPs)
	admin.Get("/volunteers/:email/metrics", s.volunteerMetrics)
	admin.Post("/lifecycle/sweep", s.sweep)
	admin.Post("/lifecycle/archive", s.archive)
	admin.Post("/reconcile", s.reconcile)
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("HTTP server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber application for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("Unhandled request error",
				zap.String("path", c.Path()),
				zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
}
