// Command checkin runs a QR check-in station: a kiosk with a web
// dashboard, one-shot scans from the terminal and payload classification.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/teslashibe/go-checkin/internal/config"
	"github.com/teslashibe/go-checkin/internal/log"
	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/decode"
	"github.com/teslashibe/go-checkin/pkg/kiosk"
	"github.com/teslashibe/go-checkin/pkg/payload"
	"github.com/teslashibe/go-checkin/pkg/scan"
)

var version = "dev"

// Globals are flags shared by every subcommand.
type Globals struct {
	Config    string  `short:"c" type:"path" help:"YAML configuration file."`
	EnvFile   string  `default:".env" help:"Dotenv file loaded before CHECKIN_* variables are read."`
	LogLevel  *string `short:"l" help:"Log level (debug, info, warn, error)."`
	LogFormat *string `help:"Log format (json, text, auto)."`
	Preset    string  `short:"p" help:"Camera resolution preset (default, 480p, 720p, 1080p)."`

	// Camera-less demo
	Fake        bool   `help:"Use a synthetic camera that shows a QR code."`
	FakePayload string `default:"https://gatherly.app/e/42" help:"Payload shown by the synthetic camera."`
	FakeBlank   int    `default:"15" help:"Blank frames before the synthetic code appears."`
}

// CLI defines the command-line interface with subcommands.
type CLI struct {
	Globals

	Serve    ServeCmd    `cmd:"" default:"1" help:"Run the kiosk and web dashboard."`
	Scan     ScanCmd     `cmd:"" help:"Scan one code and print it."`
	Classify ClassifyCmd `cmd:"" help:"Classify a payload as link or text."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// ServeCmd runs the kiosk.
type ServeCmd struct {
	Listen      *string        `help:"Web dashboard address (host:port)."`
	Visit       *string        `help:"How links are opened (browser, dashboard, none)."`
	RescanAfter *time.Duration `help:"Hold a detection this long before scanning again (0 waits for a manual rescan)."`
	NoAutoStart bool           `help:"Wait for a start request instead of scanning immediately."`
}

// ScanCmd performs a single scoped scan.
type ScanCmd struct {
	Facing  capture.Facing `help:"Camera facing (environment or user)."`
	Device  *int           `help:"Explicit device index, overrides facing."`
	Timeout time.Duration  `default:"0s" help:"Give up after this long (0 waits forever)."`
	Open    bool           `help:"Open the payload in the system browser if it is a link."`
	JSON    bool           `help:"Print the result as JSON."`
}

// ClassifyCmd classifies a payload without scanning.
type ClassifyCmd struct {
	Payload string `arg:"" help:"Payload to classify."`
	JSON    bool   `help:"Print the classification as JSON."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func main() {
	cli := CLI{}

	ctx := kong.Parse(&cli,
		kong.Name("checkin"),
		kong.Description("QR check-in scanner."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// Run executes the serve command.
func (cmd *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load(os.Stdout)
	if err != nil {
		return err
	}
	if cmd.Listen != nil {
		cfg.Listen = *cmd.Listen
	}
	if cmd.Visit != nil {
		cfg.Visit = config.VisitMode(*cmd.Visit)
	}
	if cmd.RescanAfter != nil {
		cfg.Kiosk.RescanAfter = *cmd.RescanAfter
	}
	if cmd.NoAutoStart {
		cfg.Kiosk.AutoStart = false
	}

	var opts []kiosk.Option
	if g.Fake {
		opts = append(opts, kiosk.WithSource(g.fakeSource()))
	}

	app, err := kiosk.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := app.Init(); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer app.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx)
}

// Run executes the scan command.
func (cmd *ScanCmd) Run(g *Globals) error {
	cfg, err := g.load(os.Stderr)
	if err != nil {
		return err
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return &kiosk.ConfigError{Problems: problems}
	}

	var source capture.Source = capture.NewGocvSource(cfg.Camera, nil)
	if g.Fake {
		source = g.fakeSource()
	}
	ctrl := scan.NewController(source, decode.NewQR(cfg.Scan.Decode),
		scan.WithInterval(cfg.Scan.TickInterval),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cmd.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, cmd.Timeout)
		defer tcancel()
	}

	con := capture.Constraints{Facing: cmd.Facing, Device: cmd.Device}
	if con.Facing == "" {
		con.Facing = cfg.Scan.Facing
	}
	if !con.Facing.Valid() {
		return fmt.Errorf("unknown facing %q", con.Facing)
	}

	r, err := ctrl.ScanOnce(ctx, con)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("no code found within %s", cmd.Timeout)
	case capture.IsAcquireFailure(err):
		return fmt.Errorf("%s: %w", scan.MessageCameraUnavailable, err)
	case err != nil:
		return err
	}

	class := payload.Classify(r.Payload)
	if err := printResult(os.Stdout, r, class, cmd.JSON); err != nil {
		return err
	}

	if cmd.Open {
		if _, err := payload.VisitLink(ctx, payload.NewBrowserVisitor(nil), r.Payload); err != nil {
			if errors.Is(err, payload.ErrNotLink) {
				fmt.Fprintln(os.Stderr, "not a link, nothing to open")
				return nil
			}
			return fmt.Errorf("open: %w", err)
		}
	}
	return nil
}

// Run executes the classify command.
func (cmd *ClassifyCmd) Run(g *Globals) error {
	class := payload.Classify(cmd.Payload)
	if cmd.JSON {
		return json.NewEncoder(os.Stdout).Encode(classificationJSON(class))
	}
	fmt.Println(class)
	return nil
}

// Run prints the version.
func (cmd *VersionCmd) Run() error {
	fmt.Printf("checkin %s\n", version)
	return nil
}

// load reads .env, the config file and the environment, applies global
// flag overrides and initialises logging on w.
func (g *Globals) load(w io.Writer) (config.Config, error) {
	if g.EnvFile != "" {
		if err := godotenv.Load(g.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", g.EnvFile, err)
		}
	}

	cfg, err := config.Load(g.Config)
	if err != nil {
		return cfg, err
	}
	if g.LogLevel != nil {
		cfg.LogLevel = *g.LogLevel
	}
	if g.LogFormat != nil {
		cfg.LogFormat = *g.LogFormat
	}
	if g.Preset != "" {
		if err := cfg.Camera.ApplyPreset(g.Preset); err != nil {
			return cfg, err
		}
	}

	log.InitTo(w, cfg.LogLevel, cfg.LogFormat)
	log.Debug("configuration loaded", "file", g.Config, "listen", cfg.Listen, "visit", cfg.Visit)
	return cfg, nil
}

func (g *Globals) fakeSource() *capture.Fake {
	f := capture.NewFake()
	f.Rate = 30
	f.FrameFunc = decode.Painter(g.FakePayload, g.FakeBlank)
	return f
}

type resultOutput struct {
	scan.Result
	Kind string `json:"kind"`
	Link string `json:"link,omitempty"`
}

func classificationJSON(c payload.Classification) map[string]string {
	out := map[string]string{"kind": c.Kind.String(), "payload": c.Payload}
	if link := c.Link(); link != "" {
		out["link"] = link
	}
	return out
}

func printResult(w io.Writer, r scan.Result, class payload.Classification, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(resultOutput{Result: r, Kind: class.Kind.String(), Link: class.Link()})
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", r.Payload, class)
	return err
}
