package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Fake implements Source for tests and camera-less demos.
// All behavior can be customized via function fields.
type Fake struct {
	// AcquireFunc is called before a stream is handed out.
	// If it returns an error, acquisition fails with it.
	AcquireFunc func(ctx context.Context, c Constraints) error

	// FrameFunc paints frame number n (starting at 1) into dst.
	// If nil, frames are uniform gray.
	FrameFunc func(n int, dst *image.RGBA) error

	// Width and Height are the native size of fake streams.
	Width, Height int

	// Rate is the reported frame rate. Zero means unknown.
	Rate float64

	// HoldReady leaves new streams not ready until MarkReady is called.
	HoldReady bool

	mu       sync.Mutex
	streams  []*FakeStream
	acquires int
	releases int
}

// NewFake creates a fake 640x480 source.
func NewFake() *Fake {
	return &Fake{Width: 640, Height: 480}
}

// Acquire returns a new FakeStream unless AcquireFunc fails. ctx is only
// observed through AcquireFunc, so a fake can model a driver that resolves
// after its caller gave up.
func (f *Fake) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	f.mu.Lock()
	f.acquires++
	f.mu.Unlock()

	if f.AcquireFunc != nil {
		if err := f.AcquireFunc(ctx, c); err != nil {
			return nil, err
		}
	}

	st := &FakeStream{
		id:     uuid.NewString(),
		width:  f.Width,
		height: f.Height,
		rate:   f.Rate,
		frame:  f.FrameFunc,
		ready:  make(chan struct{}),
	}
	if !f.HoldReady {
		st.MarkReady()
	}

	f.mu.Lock()
	f.streams = append(f.streams, st)
	f.mu.Unlock()
	return st, nil
}

// Release marks the stream released and counts the call.
func (f *Fake) Release(s Stream) {
	f.mu.Lock()
	f.releases++
	f.mu.Unlock()

	if st, ok := s.(*FakeStream); ok && st != nil {
		st.released.Store(true)
	}
}

// Acquires returns the number of Acquire calls.
func (f *Fake) Acquires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires
}

// Releases returns the number of Release calls, redundant ones included.
func (f *Fake) Releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

// Streams returns every stream handed out so far.
func (f *Fake) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeStream, len(f.streams))
	copy(out, f.streams)
	return out
}

// LiveStreams returns the number of streams not yet released.
func (f *Fake) LiveStreams() int {
	n := 0
	for _, st := range f.Streams() {
		if !st.Released() {
			n++
		}
	}
	return n
}

// FakeStream is the Stream handed out by Fake.
type FakeStream struct {
	id     string
	width  int
	height int
	rate   float64
	frame  func(n int, dst *image.RGBA) error

	ready     chan struct{}
	readyOnce sync.Once
	reads     atomic.Int64

	released    atomic.Bool
	invalidated atomic.Bool
}

func (s *FakeStream) ID() string             { return s.id }
func (s *FakeStream) Ready() <-chan struct{} { return s.ready }
func (s *FakeStream) Size() (int, int)       { return s.width, s.height }
func (s *FakeStream) FrameRate() float64     { return s.rate }

// Active is false after Release or Invalidate.
func (s *FakeStream) Active() bool {
	return !s.released.Load() && !s.invalidated.Load()
}

// ReadFrame paints the next frame.
func (s *FakeStream) ReadFrame(dst *image.RGBA) error {
	if s.released.Load() {
		return ErrReleased
	}
	n := int(s.reads.Add(1))
	if s.frame != nil {
		return s.frame(n, dst)
	}
	fill(dst, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	return nil
}

// MarkReady signals that stream metadata is available.
func (s *FakeStream) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Invalidate simulates the device going away underneath the stream.
func (s *FakeStream) Invalidate() {
	s.invalidated.Store(true)
}

// Released reports whether the stream was released.
func (s *FakeStream) Released() bool {
	return s.released.Load()
}

// Reads returns the number of ReadFrame calls.
func (s *FakeStream) Reads() int {
	return int(s.reads.Load())
}

func fill(dst *image.RGBA, c color.RGBA) {
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = c.R, c.G, c.B, c.A
	}
}

// Verify implementations at compile time.
var (
	_ Source = (*Fake)(nil)
	_ Source = (*GocvSource)(nil)
	_ Stream = (*FakeStream)(nil)
	_ Stream = (*gocvStream)(nil)
)
