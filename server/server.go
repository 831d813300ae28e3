// Package server exposes the translation pipeline over HTTP and WebSocket.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/sulaiman-shamasna/instant-translator/config"
	"github.com/sulaiman-shamasna/instant-translator/metrics"
	"github.com/sulaiman-shamasna/instant-translator/session"
)

const healthStatus = "Translation service running"

// Server accepts audio clients on /audio and runs one session per connection.
type Server struct {
	app    *fiber.App
	deps   session.Deps
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func New(deps session.Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:     deps,
		logger:   deps.Logger.With("component", "server"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session.Session),
	}

	app := fiber.New(fiber.Config{
		AppName:               "instant-translator",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": healthStatus})
	})
	app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))

	// Middleware to require WebSocket upgrade on /audio
	app.Use(config.DefaultAudioPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(config.DefaultAudioPath, websocket.New(s.handleAudio))

	s.app = app
	return s
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) handleAudio(ws *websocket.Conn) {
	sess, err := session.New(s.ctx, ws, s.deps)
	if err != nil {
		s.logger.Error("session setup failed", "remote", ws.RemoteAddr().String(), "error", err)
		return
	}
	s.track(sess)
	defer s.untrack(sess)

	s.logger.Info("client connected", "session_id", sess.ID, "remote", ws.RemoteAddr().String())
	if err := sess.Run(); err != nil {
		s.logger.Warn("client connection lost", "session_id", sess.ID, "error", err)
		return
	}
	s.logger.Info("client disconnected", "session_id", sess.ID)
}

func (s *Server) track(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID)
}

// ActiveSessions is the number of connected clients.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr, "audio_path", config.DefaultAudioPath)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String(), "audio_path", config.DefaultAudioPath)
	return s.app.Listener(ln)
}

// Shutdown closes every live session and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	live := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Close()
	}
	return s.app.ShutdownWithContext(ctx)
}
