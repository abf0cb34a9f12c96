// Package web serves the check-in dashboard: a JSON API over the scan
// controller, a websocket stream of state changes and prometheus metrics.
package web

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-checkin/internal/log"
	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/hub"
	"github.com/teslashibe/go-checkin/pkg/payload"
	"github.com/teslashibe/go-checkin/pkg/scan"
)

//go:embed static/index.html
var static embed.FS

// ErrNoDashboard is returned by the dashboard visitor when nobody is connected.
var ErrNoDashboard = errors.New("web: no dashboard connected")

// Scanner is the controller surface the server drives.
type Scanner interface {
	State() scan.State
	Result() (scan.Result, bool)
	Start(ctx context.Context, con capture.Constraints) error
	Rescan(ctx context.Context) error
	Dispose()
	Watch(ctx context.Context, fn func(scan.State))
}

// Config holds server settings.
type Config struct {
	Listen string
	Facing capture.Facing // used when a start request names none
}

// StateEvent is streamed on /ws/state for every state change.
type StateEvent struct {
	Type  string     `json:"type"` // "state"
	State scan.State `json:"state"`
}

// VisitEvent asks dashboard clients to open a link in a new, isolated
// browsing context.
type VisitEvent struct {
	Type     string `json:"type"` // "visit"
	URL      string `json:"url"`
	Target   string `json:"target"`
	Features string `json:"features"`
}

// Server is the web dashboard server
type Server struct {
	app     *fiber.App
	config  Config
	scanner Scanner
	visitor payload.Visitor
	logger  *slog.Logger

	// Broadcast hub for /ws/state
	stateHub *hub.Hub
}

// NewServer creates a server. A nil visitor hands links to connected
// dashboards.
func NewServer(cfg Config, scanner Scanner, visitor payload.Visitor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = log.With("component", "web")
	}
	if cfg.Facing == "" {
		cfg.Facing = capture.FacingEnvironment
	}

	s := &Server{
		config:   cfg,
		scanner:  scanner,
		logger:   logger,
		stateHub: hub.New("state", logger),
	}
	s.visitor = visitor
	if s.visitor == nil {
		s.visitor = s.DashboardVisitor()
	}

	app := fiber.New(fiber.Config{
		AppName:               "Check-in Scanner",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(helmet.New(helmet.Config{
		ReferrerPolicy:          "no-referrer",
		CrossOriginOpenerPolicy: "same-origin",
	}))
	// CORS for local development
	app.Use(cors.New())

	app.Get("/", s.handleIndex)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Post("/scan/start", s.handleStart)
	api.Post("/scan/rescan", s.handleRescan)
	api.Post("/scan/dispose", s.handleDispose)
	api.Get("/result", s.handleResult)
	api.Post("/result/visit", s.handleVisit)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))

	s.app = app
	return s
}

// App returns the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the state hub.
func (s *Server) Hub() *hub.Hub {
	return s.stateHub
}

// Start listens on the configured address until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub, streams controller state and serves HTTP on ln until
// ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("web dashboard listening", "url", "http://"+ln.Addr().String())

	go s.stateHub.Run(ctx)
	go s.scanner.Watch(ctx, func(st scan.State) {
		if err := s.stateHub.PublishJSON(StateEvent{Type: "state", State: st}); err != nil {
			s.logger.Warn("state encode failed", "error", err)
		}
	})
	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("web shutdown", "error", err)
		}
	}()

	return s.app.Listener(ln)
}

// DashboardVisitor broadcasts links to connected dashboards, which open
// them with window.open(url, "_blank", "noopener,noreferrer").
func (s *Server) DashboardVisitor() payload.Visitor {
	return payload.VisitorFunc(func(ctx context.Context, u *url.URL) error {
		if s.stateHub.ClientCount() == 0 {
			return ErrNoDashboard
		}
		s.logger.Info("visit requested", "host", u.Host)
		return s.stateHub.BroadcastJSON(VisitEvent{
			Type:     "visit",
			URL:      u.String(),
			Target:   "_blank",
			Features: "noopener,noreferrer",
		})
	})
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	data, err := static.ReadFile("static/index.html")
	if err != nil {
		return err
	}
	c.Type("html")
	return c.Send(data)
}

func (s *Server) handleStateWS(conn *websocket.Conn) {
	client, err := hub.NewClient(s.stateHub, conn)
	if err != nil {
		conn.Close()
		return
	}
	client.Run()
}
