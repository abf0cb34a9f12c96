package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"

	"github.com/teslashibe/go-checkin/internal/log"
)

// GocvSource opens local cameras through OpenCV.
type GocvSource struct {
	config Config
	logger *slog.Logger
}

// NewGocvSource creates a source for local video devices.
func NewGocvSource(cfg Config, logger *slog.Logger) *GocvSource {
	if logger == nil {
		logger = log.With("component", "capture")
	}
	return &GocvSource{config: cfg, logger: logger}
}

type openResult struct {
	capture *gocv.VideoCapture
	err     error
}

// Acquire opens the device selected by c. Opening runs on its own goroutine
// so a cancelled ctx never leaves the caller waiting on the driver; a device
// that opens after cancellation is closed immediately.
func (s *GocvSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	device, err := s.config.ResolveDevice(c)
	if err != nil {
		return nil, err
	}

	if node := s.config.DeviceNode(device); node != "" {
		if err := checkDeviceNode(node); err != nil {
			return nil, &DeviceError{Device: device, Op: "access", Err: err}
		}
	}

	ch := make(chan openResult, 1)
	go func() {
		vc, err := gocv.OpenVideoCapture(device)
		ch <- openResult{capture: vc, err: err}
	}()

	var res openResult
	select {
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.capture != nil {
				late.capture.Close()
			}
		}()
		return nil, ctx.Err()
	case res = <-ch:
	}

	if res.err != nil {
		return nil, &DeviceError{Device: device, Op: "open", Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, res.err)}
	}
	if !res.capture.IsOpened() {
		res.capture.Close()
		return nil, &DeviceError{Device: device, Op: "open", Err: ErrDeviceUnavailable}
	}

	width, height, fps := s.config.Width, s.config.Height, s.config.Framerate
	if c.Width > 0 {
		width = c.Width
	}
	if c.Height > 0 {
		height = c.Height
	}
	if c.Framerate > 0 {
		fps = c.Framerate
	}
	res.capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	res.capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	res.capture.Set(gocv.VideoCaptureFPS, float64(fps))

	st := &gocvStream{
		id:        uuid.NewString(),
		device:    device,
		capture:   res.capture,
		mat:       gocv.NewMat(),
		fps:       res.capture.Get(gocv.VideoCaptureFPS),
		maxMisses: s.config.MaxMisses,
		ready:     make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go st.warmup(s.config.WarmupPoll)

	s.logger.Info("camera acquired", "stream", st.id, "device", device, "facing", c.Facing)
	return st, nil
}

// Release closes the device. Redundant calls are no-ops.
func (s *GocvSource) Release(stream Stream) {
	st, ok := stream.(*gocvStream)
	if !ok || st == nil {
		return
	}
	if st.release() {
		s.logger.Info("camera released", "stream", st.id, "device", st.device)
	}
}

// checkDeviceNode opens the device node to classify access failures.
func checkDeviceNode(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		switch {
		case os.IsPermission(err):
			return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		case os.IsNotExist(err):
			return fmt.Errorf("%w: %s does not exist", ErrDeviceUnavailable, path)
		default:
			return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}
	return f.Close()
}

// gocvStream is a VideoCapture plus its reusable read buffer.
type gocvStream struct {
	id     string
	device int

	mu        sync.Mutex // Protects capture, mat, size and misses
	capture   *gocv.VideoCapture
	mat       gocv.Mat
	width     int
	height    int
	misses    int
	maxMisses int
	fps       float64

	ready     chan struct{}
	readyOnce sync.Once
	stop      chan struct{}

	released atomic.Bool
	lost     atomic.Bool
}

func (st *gocvStream) ID() string             { return st.id }
func (st *gocvStream) Ready() <-chan struct{} { return st.ready }
func (st *gocvStream) FrameRate() float64     { return st.fps }

func (st *gocvStream) Active() bool {
	return !st.released.Load() && !st.lost.Load()
}

func (st *gocvStream) Size() (int, int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.width, st.height
}

// warmup polls the device until the first non-empty frame tells us its size.
func (st *gocvStream) warmup(poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
		}
		if st.warm() {
			return
		}
	}
}

func (st *gocvStream) warm() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.released.Load() {
		return true
	}
	if !st.capture.Read(&st.mat) || st.mat.Empty() {
		return false
	}
	st.width, st.height = st.mat.Cols(), st.mat.Rows()
	st.readyOnce.Do(func() { close(st.ready) })
	return true
}

// ReadFrame grabs the next frame and converts it to RGBA in dst.
func (st *gocvStream) ReadFrame(dst *image.RGBA) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.released.Load() {
		return ErrReleased
	}

	if !st.capture.Read(&st.mat) || st.mat.Empty() {
		st.misses++
		if st.misses >= st.maxMisses {
			st.lost.Store(true)
			return &DeviceError{Device: st.device, Op: "read", Err: ErrDeviceLost}
		}
		return ErrNotReady
	}
	st.misses = 0
	st.width, st.height = st.mat.Cols(), st.mat.Rows()

	img, err := st.mat.ToImage()
	if err != nil {
		return &DeviceError{Device: st.device, Op: "convert", Err: err}
	}
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return nil
}

// release reports whether this call performed the release.
func (st *gocvStream) release() bool {
	if !st.released.CompareAndSwap(false, true) {
		return false
	}
	close(st.stop)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.capture.Close(); err != nil {
		log.Warn("camera close failed", "stream", st.id, "error", err)
	}
	st.mat.Close()
	return true
}
