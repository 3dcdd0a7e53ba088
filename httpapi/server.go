// Package httpapi is the downstream HTTP+WebSocket surface §6.2
// describes: session lifecycle, single/batch generation, iteration
// feedback, node inventory, and preference introspection, fronted by a
// fiber app the way this codebase's teacher stack fronts its own
// render/master/export routes.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/pixelgrid/forge-orchestrator/aggregator"
	"github.com/pixelgrid/forge-orchestrator/executor"
	"github.com/pixelgrid/forge-orchestrator/iteration"
	"github.com/pixelgrid/forge-orchestrator/preference"
	"github.com/pixelgrid/forge-orchestrator/registry"
	"github.com/pixelgrid/forge-orchestrator/store"
)

// Deps bundles every component the downstream API fronts. Nothing here
// owns its dependencies' lifecycle (starting pollers, probers, watchers)
// — that's cmd/orchestrator's job; this package only wires HTTP requests
// through to them.
type Deps struct {
	Executor    *executor.Executor
	Iteration   *iteration.Controller
	Registry    *registry.Registry
	Preferences *preference.Engine
	Aggregator  *aggregator.Aggregator
	Sessions    store.SnapshotStore

	JWTSecret       string
	NodesConfigPath string
	Log             *logrus.Logger
}

// Server wraps the fiber app built from Deps.
type Server struct {
	App  *fiber.App
	deps Deps
}

// New builds the fiber app and registers every route in §6.2's table
// plus the supplemented POST /nodes/reload.
func New(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	s := &Server{App: app, deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	app := s.App
	auth := newAuthMiddleware(s.deps.JWTSecret)

	app.Get("/health", s.handleHealth)

	api := app.Group("", auth.Authenticate())

	api.Post("/sessions", s.handleCreateSession)
	api.Get("/sessions/:id", s.handleGetSession)
	api.Get("/sessions/:id/generations", s.handleListGenerations)
	api.Delete("/sessions/:id", s.handleDeleteSession)

	api.Post("/generate", s.handleGenerate)
	api.Post("/generate/batch", s.handleGenerateBatch)
	api.Get("/generate/:id", s.handleGetGeneration)

	api.Post("/iterate", s.handleIterate)
	api.Post("/iterate/reject-all", s.handleRejectAll)

	api.Get("/nodes", s.handleListNodes)
	api.Post("/nodes/reload", s.handleReloadNodes)

	api.Get("/preferences/stats", s.handlePreferenceStats)
	api.Get("/preferences/recommend/model", s.handleRecommendModel)
	api.Get("/preferences/export", s.handleExportPreferences)
	api.Post("/preferences/import", s.handleImportPreferences)

	s.registerWebsocket(app, auth)
}

// Listen starts the server, blocking until it stops or fails.
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown gracefully drains in-flight requests within timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.App.ShutdownWithTimeout(timeout)
}
