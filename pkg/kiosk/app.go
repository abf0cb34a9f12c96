// Package kiosk runs an unattended check-in station: it owns the scan
// controller and web dashboard, hands each detection to a callback and
// returns to scanning for the next attendee.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-checkin/internal/config"
	"github.com/teslashibe/go-checkin/internal/log"
	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/decode"
	"github.com/teslashibe/go-checkin/pkg/payload"
	"github.com/teslashibe/go-checkin/pkg/scan"
	"github.com/teslashibe/go-checkin/pkg/web"
)

// Handoff receives every detected result once.
type Handoff func(ctx context.Context, r scan.Result)

// ConfigError lists configuration problems found by New.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// App is the kiosk orchestrator.
// It manages all components and their lifecycle.
type App struct {
	config config.Config
	logger *slog.Logger

	// Scanner
	source     capture.Source
	engine     decode.Engine
	controller *scan.Controller

	// Links
	visitor payload.Visitor
	handoff Handoff

	// Web dashboard
	webServer *web.Server
	noWeb     bool

	mu       sync.Mutex
	lastID   string
	rescans  sync.WaitGroup
	shutdown bool
}

// Option configures an App.
type Option func(*App)

// WithSource replaces the camera source.
func WithSource(s capture.Source) Option {
	return func(a *App) { a.source = s }
}

// WithEngine replaces the decoder.
func WithEngine(e decode.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithHandoff sets the per-detection callback.
func WithHandoff(h Handoff) Option {
	return func(a *App) { a.handoff = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithoutWeb runs the kiosk headless.
func WithoutWeb() Option {
	return func(a *App) { a.noWeb = true }
}

// New creates a kiosk with the given configuration.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}

	a := &App{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.With("component", "kiosk")
	}
	if a.handoff == nil {
		a.handoff = a.logHandoff
	}
	return a, nil
}

// Init builds all components.
// Call this after New() and before Run().
func (a *App) Init() error {
	if a.source == nil {
		a.source = capture.NewGocvSource(a.config.Camera, a.logger.With("component", "capture"))
	}
	if a.engine == nil {
		a.engine = decode.NewQR(a.config.Scan.Decode)
	}

	a.controller = scan.NewController(a.source, a.engine,
		scan.WithLogger(a.logger.With("component", "scan")),
		scan.WithInterval(a.config.Scan.TickInterval),
	)

	switch a.config.Visit {
	case config.VisitBrowser:
		a.visitor = payload.NewBrowserVisitor(a.logger.With("component", "visit"))
	case config.VisitNone:
		a.visitor = payload.Disabled
	case config.VisitDashboard:
		if a.noWeb {
			return errors.New("kiosk: dashboard visits need the web server")
		}
	default:
		return fmt.Errorf("kiosk: unknown visit mode %q", a.config.Visit)
	}

	if !a.noWeb {
		a.webServer = web.NewServer(web.Config{
			Listen: a.config.Listen,
			Facing: a.config.Scan.Facing,
		}, a.controller, a.visitor, a.logger.With("component", "web"))
	}

	a.logger.Info("kiosk initialised",
		"facing", a.config.Scan.Facing,
		"visit", a.config.Visit,
		"rescan_after", a.config.Kiosk.RescanAfter,
		"web", !a.noWeb,
	)
	return nil
}

// Controller returns the scan controller. Valid after Init.
func (a *App) Controller() *scan.Controller {
	return a.controller
}

// Run starts scanning and serving.
// Blocks until context is cancelled or the web server fails.
func (a *App) Run(ctx context.Context) error {
	if a.controller == nil {
		return errors.New("kiosk: Run before Init")
	}

	errCh := make(chan error, 1)
	if a.webServer != nil {
		go func() { errCh <- a.webServer.Start(ctx) }()
	}

	go a.controller.Watch(ctx, func(st scan.State) { a.onState(ctx, st) })

	if a.config.Kiosk.AutoStart {
		go func() {
			err := a.controller.Start(ctx, a.constraints())
			if err != nil && ctx.Err() == nil && !errors.Is(err, scan.ErrDisposed) {
				a.logger.Warn("auto start failed", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("web: %w", err)
		}
		<-ctx.Done()
		return nil
	}
}

// Shutdown releases the camera and waits for pending rescans.
func (a *App) Shutdown() {
	a.mu.Lock()
	a.shutdown = true
	a.mu.Unlock()

	if a.controller != nil {
		a.controller.Dispose()
	}
	a.rescans.Wait()
	a.logger.Info("kiosk stopped")
}

func (a *App) constraints() capture.Constraints {
	return capture.Constraints{Facing: a.config.Scan.Facing}
}

// onState hands off new results and schedules the next scan.
func (a *App) onState(ctx context.Context, st scan.State) {
	if st.Status != scan.StatusDetected || st.Result == nil {
		return
	}

	a.mu.Lock()
	if st.Result.ID == a.lastID || a.shutdown {
		a.mu.Unlock()
		return
	}
	a.lastID = st.Result.ID
	hold := a.config.Kiosk.RescanAfter
	if hold > 0 {
		a.rescans.Add(1)
	}
	a.mu.Unlock()

	a.handoff(ctx, *st.Result)

	if hold > 0 {
		go a.rescanAfter(ctx, st.Result.ID, hold)
	}
}

// rescanAfter resumes scanning once the hold expires, unless someone
// already moved the controller on.
func (a *App) rescanAfter(ctx context.Context, id string, hold time.Duration) {
	defer a.rescans.Done()

	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	a.mu.Lock()
	stopped := a.shutdown
	a.mu.Unlock()
	if stopped {
		return
	}

	if r, ok := a.controller.Result(); !ok || r.ID != id {
		return
	}
	if err := a.controller.Rescan(ctx); err != nil {
		a.logger.Debug("auto rescan skipped", "error", err)
	}
}

func (a *App) logHandoff(ctx context.Context, r scan.Result) {
	class := payload.Classify(r.Payload)
	a.logger.Info("attendee checked in",
		"result", r.ID,
		"kind", class.Kind,
		"link", class.Link(),
		"bytes", len(r.Payload),
	)
}
