// Package httpapi is the thin HTTP surface: it maps gofiber routes
// onto the core components and adds no memory-subsystem logic of its
// own.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nimlabs/memoria/config"
	"github.com/nimlabs/memoria/embedding"
	"github.com/nimlabs/memoria/errs"
	"github.com/nimlabs/memoria/identity"
	"github.com/nimlabs/memoria/orchestrator"
	"github.com/nimlabs/memoria/role"
	"github.com/nimlabs/memoria/store"
)

// Server holds the collaborators the HTTP surface dispatches to.
type Server struct {
	cfg          *config.Config
	orchestrator *orchestrator.Orchestrator
	identity     *identity.Store
	roles        *role.Registry
	store        store.Store
	embedder     embedding.Embedder

	app *fiber.App
}

// New builds a Server and registers all routes on a fresh fiber.App.
func New(cfg *config.Config, orch *orchestrator.Orchestrator, ident *identity.Store, roles *role.Registry, st store.Store, embedder embedding.Embedder) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		identity:     ident,
		roles:        roles,
		store:        st,
		embedder:     embedder,
	}

	app := fiber.New(fiber.Config{
		AppName:               "memoriad",
		DisableStartupMessage: true,
		ErrorHandler:          s.globalErrorHandler,
	})

	app.Get("/health", s.handleHealth)

	v1 := app.Group("/v1", apiKeyAuth(cfg))
	v1.Post("/chat", s.handleChat)
	v1.Post("/chat/completions", s.handleChatCompletions)
	v1.Get("/memories", s.handleListMemories)
	v1.Post("/users", s.handleCreateUser)
	v1.Get("/users/:id", s.handleGetUser)
	v1.Get("/users/:id/sessions", s.handleListUserSessions)
	v1.Post("/sessions", s.handleCreateSession)
	v1.Get("/sessions/:id", s.handleGetSession)

	s.app = app
	return s
}

// Listen starts the HTTP server on addr, blocking until it stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// ShutdownWithTimeout gracefully drains in-flight requests.
func (s *Server) ShutdownWithTimeout(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

func (s *Server) globalErrorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return errs.HandleFiber(c, err)
}
