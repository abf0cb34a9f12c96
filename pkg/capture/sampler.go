package capture

import (
	"errors"
	"image"
	"time"
)

// Sampler snapshots the current frame of a stream.
type Sampler struct {
	now func() time.Time
}

// NewSampler creates a sampler using the wall clock.
func NewSampler() *Sampler {
	return &Sampler{now: time.Now}
}

// Capture copies the current frame into a fresh buffer sized to the
// stream's native resolution. It returns nil, nil while the stream is not
// ready; callers skip the tick.
func (s *Sampler) Capture(st Stream) (*Frame, error) {
	if st == nil {
		return nil, ErrReleased
	}

	select {
	case <-st.Ready():
	default:
		return nil, nil
	}

	w, h := st.Size()
	if w <= 0 || h <= 0 {
		return nil, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := st.ReadFrame(img); err != nil {
		if errors.Is(err, ErrNotReady) {
			return nil, nil
		}
		return nil, err
	}

	return &Frame{
		Image:      img,
		Width:      w,
		Height:     h,
		CapturedAt: s.now(),
	}, nil
}
