// Package gateway exposes the daemon's local HTTP and WebSocket API. UI
// clients talk to it on the loopback address; all state lives behind it in
// the view store, tracker, and outbox.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/crmoreira/beacon/internal/auth"
	"github.com/crmoreira/beacon/internal/backend"
	"github.com/crmoreira/beacon/internal/bus"
	"github.com/crmoreira/beacon/internal/outbox"
	"github.com/crmoreira/beacon/internal/presence"
	"github.com/crmoreira/beacon/internal/status"
	"github.com/crmoreira/beacon/internal/typing"
	"github.com/crmoreira/beacon/internal/view"
)

// Server is the daemon's API surface.
type Server struct {
	app       *fiber.App
	addr      string
	started   time.Time
	logger    *zap.Logger
	bus       *bus.Bus
	machine   *status.Machine
	auth      auth.Provider
	credsPath string
	db        *backend.DB
	views     *view.Store
	sender    *outbox.Sender
	tracker   *presence.Tracker
	typist    *typing.Publisher
}

// Params collects the server's dependencies.
type Params struct {
	Addr      string
	Logger    *zap.Logger
	Bus       *bus.Bus
	Machine   *status.Machine
	Auth      auth.Provider
	CredsPath string
	DB        *backend.DB
	Views     *view.Store
	Sender    *outbox.Sender
	Tracker   *presence.Tracker
	Typist    *typing.Publisher
}

// NewServer builds the fiber app and wires all routes.
func NewServer(p Params) *Server {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:      p.Addr,
		started:   time.Now(),
		logger:    logger,
		bus:       p.Bus,
		machine:   p.Machine,
		auth:      p.Auth,
		credsPath: p.CredsPath,
		db:        p.DB,
		views:     p.Views,
		sender:    p.Sender,
		tracker:   p.Tracker,
		typist:    p.Typist,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "beacond",
		DisableStartupMessage: true,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.app.Group("/v1")
	v1.Get("/status", s.handleStatus)
	v1.Post("/auth/login", s.handleLogin)
	v1.Post("/auth/logout", s.handleLogout)
	v1.Get("/chats", s.handleChats)
	v1.Get("/chats/:peer/messages", s.handleConversation)
	v1.Post("/chats/:peer/messages", s.handleSend)
	v1.Post("/chats/:peer/read", s.handleMarkRead)
	v1.Get("/groups", s.handleGroups)
	v1.Post("/groups", s.handleCreateGroup)
	v1.Post("/groups/:id/members", s.handleJoinGroup)
	v1.Get("/presence", s.handlePresence)
	v1.Post("/typing", s.handleTyping)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws/events", websocket.New(s.handleEvents))
}

// Listen serves the API on the configured address. Blocks until Shutdown.
func (s *Server) Listen() error {
	s.logger.Info("api listening", zap.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying fiber app. Used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) currentUser(c *fiber.Ctx) (*auth.User, error) {
	u, err := s.auth.CurrentUser(c.Context())
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "not logged in")
		}
		return nil, err
	}
	return u, nil
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"state":     s.machine.Current(),
		"uptime_ms": time.Since(s.started).Milliseconds(),
		"chats":     len(s.views.Chats()),
		"groups":    len(s.views.Groups()),
	}
	if u, err := s.auth.CurrentUser(c.Context()); err == nil {
		resp["user_id"] = u.ID
		resp["display_name"] = u.DisplayName
	}
	return c.JSON(resp)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id required")
	}

	if err := auth.Save(s.credsPath, &auth.User{ID: req.UserID, DisplayName: req.DisplayName}); err != nil {
		return err
	}
	if s.machine.Current() == status.AuthRequired {
		if err := s.machine.Transition(status.Connecting); err == nil {
			_ = s.machine.Transition(status.Ready)
		}
	}
	s.logger.Info("user logged in", zap.String("user", req.UserID))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	if err := auth.Clear(s.credsPath); err != nil {
		return err
	}
	if err := s.machine.Transition(status.AuthRequired); err != nil {
		s.logger.Warn("logout transition rejected", zap.Error(err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
