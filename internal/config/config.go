// Package config loads go-checkin settings from defaults, an optional YAML
// file and CHECKIN_* environment variables, in that order.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/decode"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CHECKIN_"

// VisitMode selects what happens when a detected link is visited.
type VisitMode string

const (
	VisitBrowser   VisitMode = "browser"   // System browser on the kiosk host
	VisitDashboard VisitMode = "dashboard" // Connected dashboard clients open it
	VisitNone      VisitMode = "none"      // Links are shown, never opened
)

// Config holds all configuration for go-checkin.
// Flag parsing is done in cmd/checkin; this struct is data only.
type Config struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"` // json, text or auto

	// Listen is the web server address.
	Listen string `yaml:"listen" env:"LISTEN"`

	Camera capture.Config `yaml:"camera" envPrefix:"CAMERA_"`
	Scan   ScanConfig     `yaml:"scan" envPrefix:"SCAN_"`
	Kiosk  KioskConfig    `yaml:"kiosk" envPrefix:"KIOSK_"`

	Visit VisitMode `yaml:"visit" env:"VISIT"`
}

// ScanConfig tunes the scan loop and decoder.
type ScanConfig struct {
	// Facing is the camera requested when the caller names none.
	Facing capture.Facing `yaml:"facing" env:"FACING"`

	// TickInterval is used when the stream reports no frame rate.
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`

	Decode decode.QRConfig `yaml:"decode" envPrefix:"DECODE_"`
}

// KioskConfig controls the unattended host.
type KioskConfig struct {
	// AutoStart begins scanning as soon as the kiosk runs.
	AutoStart bool `yaml:"auto_start" env:"AUTO_START"`

	// RescanAfter holds a detection on screen this long before scanning
	// for the next attendee. Zero waits for an explicit rescan.
	RescanAfter time.Duration `yaml:"rescan_after" env:"RESCAN_AFTER"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "auto",
		Listen:    "127.0.0.1:8080",
		Camera:    capture.DefaultConfig(),
		Scan: ScanConfig{
			Facing:       capture.FacingEnvironment,
			TickInterval: 33 * time.Millisecond,
			Decode:       decode.DefaultQRConfig(),
		},
		Kiosk: KioskConfig{
			AutoStart:   true,
			RescanAfter: 5 * time.Second,
		},
		Visit: VisitDashboard,
	}
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Load builds the configuration: defaults, then path if non-empty, then
// the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with CHECKIN_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("log_level: unknown level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "text", "auto":
	default:
		errors = append(errors, fmt.Sprintf("log_format: unknown format %q", c.LogFormat))
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errors = append(errors, fmt.Sprintf("listen: %v", err))
	}

	for _, e := range c.Camera.Validate() {
		errors = append(errors, "camera."+e)
	}

	if !c.Scan.Facing.Valid() {
		errors = append(errors, fmt.Sprintf("scan.facing: unknown facing %q", c.Scan.Facing))
	} else if _, ok := c.Camera.FacingDevices[string(c.Scan.Facing)]; !ok {
		errors = append(errors, fmt.Sprintf("scan.facing: no camera.facing_devices entry for %q", c.Scan.Facing))
	}
	if c.Scan.TickInterval < time.Millisecond {
		errors = append(errors, "scan.tick_interval must be at least 1ms")
	}
	if c.Scan.Decode.MaxDimension < 0 {
		errors = append(errors, "scan.decode.max_dimension must be >= 0")
	}

	if c.Kiosk.RescanAfter < 0 {
		errors = append(errors, "kiosk.rescan_after must be >= 0")
	}

	switch c.Visit {
	case VisitBrowser, VisitDashboard, VisitNone:
	default:
		errors = append(errors, fmt.Sprintf("visit: unknown mode %q", c.Visit))
	}

	return errors
}
