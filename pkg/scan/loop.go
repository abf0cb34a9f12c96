package scan

import (
	"context"
	"sync"
	"time"
)

// Signal is returned by a tick to say whether the loop should go on.
type Signal int

const (
	Continue Signal = iota
	Done
)

// TickFunc is one iteration of the loop.
type TickFunc func() Signal

// maxFrameRate caps the frame-synchronized tick rate.
const maxFrameRate = 240

// IntervalFor derives the tick interval from the stream frame rate, falling
// back to a fixed timer interval when the rate is unknown.
func IntervalFor(fps float64, fallback time.Duration) (time.Duration, error) {
	if fps > 0 && fps <= maxFrameRate {
		return time.Duration(float64(time.Second) / fps), nil
	}
	if fallback > 0 {
		return fallback, nil
	}
	return 0, ErrSchedulingUnavailable
}

// Loop runs a TickFunc on a single goroutine. The timer is re-armed only
// after a tick returns, so ticks never overlap, and each run waits for the
// previous run's goroutine before its first tick.
type Loop struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates an idle loop.
func NewLoop() *Loop {
	return &Loop{}
}

// Start begins ticking every interval, replacing any current run.
func (l *Loop) Start(interval time.Duration, fn TickFunc) error {
	if interval <= 0 || fn == nil {
		return ErrSchedulingUnavailable
	}

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.gen++
	gen := l.gen
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	prev := l.done
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	go l.run(ctx, gen, prev, done, interval, fn)
	return nil
}

// Stop cancels the pending tick. Once Stop returns no new tick begins; a
// tick already executing runs to completion.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.gen++
}

// Running reports whether a run is scheduled.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Done is closed when the latest run's goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return l.done
}

func (l *Loop) run(ctx context.Context, gen uint64, prev, done chan struct{}, interval time.Duration, fn TickFunc) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !l.current(gen) {
			return
		}
		if fn() == Done {
			l.finish(gen)
			return
		}
		timer.Reset(interval)
	}
}

func (l *Loop) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == gen
}

// finish clears the run when the tick itself ended it.
func (l *Loop) finish(gen uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen == gen && l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}
