// Package capture owns the camera: acquiring and releasing device streams
// and sampling their frames into pixel buffers.
package capture

import (
	"fmt"
	"runtime"
	"time"
)

// Facing selects a physical camera by the direction it points.
type Facing string

const (
	// FacingEnvironment is the rear camera, pointing away from the attendee's screen.
	FacingEnvironment Facing = "environment"
	// FacingUser is the front camera.
	FacingUser Facing = "user"
)

// Valid reports whether f is a known facing.
func (f Facing) Valid() bool {
	return f == FacingEnvironment || f == FacingUser
}

// Config holds device settings shared by every acquisition.
type Config struct {
	// FacingDevices maps a facing to a device index.
	FacingDevices map[string]int `json:"facing_devices" yaml:"facing_devices" env:"FACING_DEVICES" envKeyValSeparator:":"`

	// DevicePath is a printf pattern for the device node, used to tell a
	// permission problem apart from a missing device. Empty skips the check.
	DevicePath string `json:"device_path" yaml:"device_path" env:"DEVICE_PATH"`

	// === Resolution ===
	Width     int `json:"width" yaml:"width" env:"WIDTH"`             // Frame width in pixels
	Height    int `json:"height" yaml:"height" env:"HEIGHT"`          // Frame height in pixels
	Framerate int `json:"framerate" yaml:"framerate" env:"FRAMERATE"` // Target FPS

	// WarmupPoll is how often a fresh stream is polled for its first frame.
	WarmupPoll time.Duration `json:"warmup_poll" yaml:"warmup_poll" env:"WARMUP_POLL"`

	// MaxMisses is the number of consecutive failed reads after which a
	// ready stream is considered lost.
	MaxMisses int `json:"max_misses" yaml:"max_misses" env:"MAX_MISSES"`
}

// DefaultConfig returns a 720p configuration with the rear camera on device 0.
func DefaultConfig() Config {
	cfg := Config{
		FacingDevices: map[string]int{
			string(FacingEnvironment): 0,
			string(FacingUser):        1,
		},
		Width:      1280,
		Height:     720,
		Framerate:  30,
		WarmupPoll: 20 * time.Millisecond,
		MaxMisses:  30,
	}
	if runtime.GOOS == "linux" {
		cfg.DevicePath = "/dev/video%d"
	}
	return cfg
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if len(c.FacingDevices) == 0 {
		errors = append(errors, "facing_devices must map at least one facing")
	}
	for facing, dev := range c.FacingDevices {
		if !Facing(facing).Valid() {
			errors = append(errors, fmt.Sprintf("facing_devices: unknown facing %q", facing))
		}
		if dev < 0 {
			errors = append(errors, fmt.Sprintf("facing_devices: device for %q must be >= 0", facing))
		}
	}

	if c.Width < 160 || c.Width > 4096 {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > 2160 {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.WarmupPoll <= 0 {
		errors = append(errors, "warmup_poll must be positive")
	}
	if c.MaxMisses < 1 {
		errors = append(errors, "max_misses must be at least 1")
	}

	return errors
}

// ResolveDevice picks the device index for a set of constraints.
// An explicit device wins; otherwise the facing is looked up. There is no
// fallback to another facing.
func (c *Config) ResolveDevice(con Constraints) (int, error) {
	if con.Device != nil {
		if *con.Device < 0 {
			return 0, fmt.Errorf("%w: invalid device index %d", ErrDeviceUnavailable, *con.Device)
		}
		return *con.Device, nil
	}
	facing := con.Facing
	if facing == "" {
		facing = FacingEnvironment
	}
	dev, ok := c.FacingDevices[string(facing)]
	if !ok {
		return 0, fmt.Errorf("%w: no camera facing %q", ErrDeviceUnavailable, facing)
	}
	return dev, nil
}

// DeviceNode returns the device node path for an index, or "" when probing is disabled.
func (c *Config) DeviceNode(device int) string {
	if c.DevicePath == "" {
		return ""
	}
	return fmt.Sprintf(c.DevicePath, device)
}
