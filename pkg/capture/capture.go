package capture

import (
	"context"
	"image"
	"time"
)

// Constraints describe which camera to open and how.
type Constraints struct {
	Facing Facing `json:"facing"`
	// Device forces a device index; nil selects by Facing.
	Device *int `json:"device,omitempty"`
	// Zero values fall back to the source Config.
	Width     int `json:"width,omitempty"`
	Height    int `json:"height,omitempty"`
	Framerate int `json:"framerate,omitempty"`
}

// DefaultConstraints prefers the rear camera.
func DefaultConstraints() Constraints {
	return Constraints{Facing: FacingEnvironment}
}

// Stream is one open hardware capture session.
type Stream interface {
	// ID identifies the session in logs and state.
	ID() string

	// Ready is closed once the stream knows its frame dimensions.
	Ready() <-chan struct{}

	// Size returns the native frame size. Zero until Ready.
	Size() (width, height int)

	// FrameRate returns the device frame rate, or 0 if unknown.
	FrameRate() float64

	// Active is false once the stream was released or the device was lost.
	Active() bool

	// ReadFrame copies the current frame into dst.
	// Returns ErrNotReady when no frame is available right now.
	ReadFrame(dst *image.RGBA) error
}

// Source acquires and releases streams.
type Source interface {
	// Acquire opens a stream matching c. It may block for an unbounded
	// time and returns ctx.Err() if ctx ends first.
	Acquire(ctx context.Context, c Constraints) (Stream, error)

	// Release stops the stream. Safe to call with nil or an already
	// released stream.
	Release(s Stream)
}

// Frame is one pixel snapshot. Never reused across ticks.
type Frame struct {
	Image      *image.RGBA
	Width      int
	Height     int
	CapturedAt time.Time
}
