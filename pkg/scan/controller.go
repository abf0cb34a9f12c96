// Package scan drives the acquire-sample-decode cycle: a Loop that ticks
// on one goroutine and a Controller state machine on top of it.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-checkin/internal/log"
	"github.com/teslashibe/go-checkin/internal/metrics"
	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/decode"
)

// DefaultInterval is the tick interval used when the stream reports no frame rate.
const DefaultInterval = 33 * time.Millisecond

// Controller is the scanner state machine. It owns at most one stream.
//
// Every transition bumps epoch when it invalidates work in flight; a tick
// or acquisition captures the epoch when it begins and commits only if it
// is unchanged.
type Controller struct {
	source   capture.Source
	sampler  *capture.Sampler
	engine   decode.Engine
	loop     *Loop
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	state         State
	seq           uint64
	changed       chan struct{}
	stream        capture.Stream
	constraints   capture.Constraints
	epoch         uint64
	cancelAcquire context.CancelFunc
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithInterval sets the fallback tick interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.interval = d
	}
}

// WithSampler replaces the frame sampler.
func WithSampler(s *capture.Sampler) Option {
	return func(c *Controller) {
		c.sampler = s
	}
}

// NewController creates an Idle controller.
func NewController(source capture.Source, engine decode.Engine, opts ...Option) *Controller {
	c := &Controller{
		source:   source,
		sampler:  capture.NewSampler(),
		engine:   engine,
		loop:     NewLoop(),
		interval: DefaultInterval,
		now:      time.Now,
		state:    idle(),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.With("component", "scan")
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Result returns the current result, if Detected.
func (c *Controller) Result() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusDetected || c.state.Result == nil {
		return Result{}, false
	}
	return *c.state.Result, true
}

// Start acquires a camera and begins scanning. Valid from Idle and Error.
// It blocks until acquisition resolves and returns ErrDisposed if Dispose
// ran meanwhile.
func (c *Controller) Start(ctx context.Context, con capture.Constraints) error {
	c.mu.Lock()
	if s := c.state.Status; s != StatusIdle && s != StatusError {
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, s)
	}
	acqCtx, token := c.beginLocked(ctx, con)
	c.mu.Unlock()

	return c.acquire(acqCtx, token, con)
}

// Rescan clears the result and resumes scanning on the same stream.
// Valid only from Detected. If the stream was lost, it re-acquires.
func (c *Controller) Rescan(ctx context.Context) error {
	c.mu.Lock()
	if s := c.state.Status; s != StatusDetected {
		c.mu.Unlock()
		return fmt.Errorf("%w: rescan while %s", ErrInvalidTransition, s)
	}

	if c.stream == nil || !c.stream.Active() {
		c.logger.Info("stream invalidated, reacquiring")
		c.releaseLocked()
		con := c.constraints
		acqCtx, token := c.beginLocked(ctx, con)
		c.mu.Unlock()
		return c.acquire(acqCtx, token, con)
	}

	c.epoch++
	err := c.startLoopLocked(c.epoch)
	c.mu.Unlock()
	return err
}

// Dispose stops everything and returns to Idle. Safe from any state and
// any goroutine, including while a tick or an acquisition is in flight.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}
	c.loop.Stop()
	stream := c.stream
	c.stream = nil
	c.source.Release(stream)
	if stream != nil {
		metrics.ActiveStreams.Dec()
		c.logger.Info("scanner disposed", "stream", stream.ID())
	}
	c.setLocked(idle())
}

// Wait blocks until pred accepts the state or ctx ends.
func (c *Controller) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		c.mu.Lock()
		st := c.state.clone()
		ch := c.changed
		c.mu.Unlock()

		if pred(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Watch calls fn with the current state and then after every change until
// ctx ends. Bursts of changes coalesce; fn always sees the latest state.
// fn runs on the caller's goroutine and may call back into the controller.
func (c *Controller) Watch(ctx context.Context, fn func(State)) {
	var last uint64
	first := true
	for {
		c.mu.Lock()
		st := c.state.clone()
		seq := c.seq
		ch := c.changed
		c.mu.Unlock()

		if first || seq != last {
			first, last = false, seq
			fn(st)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

// ScanOnce runs one scoped scan: start, wait for a result or failure, and
// always dispose on the way out.
func (c *Controller) ScanOnce(ctx context.Context, con capture.Constraints) (Result, error) {
	defer c.Dispose()

	if err := c.Start(ctx, con); err != nil {
		return Result{}, err
	}

	st, err := c.Wait(ctx, func(s State) bool {
		return s.Status != StatusScanning && s.Status != StatusAcquiring
	})
	if err != nil {
		return Result{}, err
	}

	switch st.Status {
	case StatusDetected:
		return *st.Result, nil
	case StatusError:
		if st.Cause != nil {
			return Result{}, st.Cause
		}
		return Result{}, errors.New(st.Message)
	default:
		return Result{}, ErrDisposed
	}
}

// beginLocked moves to Acquiring and returns the acquisition context and token.
func (c *Controller) beginLocked(ctx context.Context, con capture.Constraints) (context.Context, uint64) {
	c.releaseLocked()
	c.epoch++
	c.constraints = con
	acqCtx, cancel := context.WithCancel(ctx)
	c.cancelAcquire = cancel
	c.setLocked(acquiring())
	return acqCtx, c.epoch
}

func (c *Controller) acquire(ctx context.Context, token uint64, con capture.Constraints) error {
	stream, err := c.source.Acquire(ctx, con)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != token {
		// Disposed or restarted while the device was opening.
		c.source.Release(stream)
		metrics.AcquisitionsTotal.WithLabelValues("abandoned").Inc()
		c.logger.Info("acquisition abandoned")
		return ErrDisposed
	}
	if c.cancelAcquire != nil {
		c.cancelAcquire()
		c.cancelAcquire = nil
	}

	if err != nil {
		c.source.Release(stream)
		if ctx.Err() != nil && !capture.IsAcquireFailure(err) {
			metrics.AcquisitionsTotal.WithLabelValues("cancelled").Inc()
			c.setLocked(idle())
			return err
		}
		metrics.AcquisitionsTotal.WithLabelValues("failed").Inc()
		c.logger.Warn("camera acquisition failed", "error", err)
		c.setLocked(failed(MessageCameraUnavailable, err))
		return err
	}

	metrics.AcquisitionsTotal.WithLabelValues("ok").Inc()
	metrics.ActiveStreams.Inc()
	c.stream = stream
	return c.startLoopLocked(token)
}

func (c *Controller) startLoopLocked(token uint64) error {
	interval, err := IntervalFor(c.stream.FrameRate(), c.interval)
	if err == nil {
		err = c.loop.Start(interval, func() Signal { return c.tick(token) })
	}
	if err != nil {
		c.failLocked(err)
		return err
	}

	c.logger.Debug("scanning", "stream", c.stream.ID(), "interval", interval)
	c.setLocked(scanning())
	return nil
}

// tick samples one frame and tries to decode it.
func (c *Controller) tick(token uint64) Signal {
	c.mu.Lock()
	if c.epoch != token || c.state.Status != StatusScanning {
		c.mu.Unlock()
		metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeStale).Inc()
		return Done
	}
	stream := c.stream
	c.mu.Unlock()

	frame, err := c.sampler.Capture(stream)
	if err != nil {
		return c.abort(token, fmt.Errorf("sample: %w", err))
	}
	if frame == nil {
		metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeNotReady).Inc()
		return Continue
	}

	start := time.Now()
	sym, err := c.engine.Decode(frame.Image)
	metrics.DecodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return c.abort(token, fmt.Errorf("decode: %w", err))
	}
	if sym == nil {
		metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeMiss).Inc()
		return Continue
	}

	return c.commit(token, sym)
}

func (c *Controller) commit(token uint64, sym *decode.Symbol) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != token || c.state.Status != StatusScanning {
		metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeStale).Inc()
		return Done
	}

	r := Result{
		ID:        uuid.NewString(),
		Payload:   sym.Text,
		Format:    sym.Format,
		Timestamp: c.now(),
	}
	c.setLocked(detected(r))
	metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeDetected).Inc()
	metrics.DetectionsTotal.Inc()
	c.logger.Info("code detected", "result", r.ID, "format", r.Format, "bytes", len(r.Payload))
	return Done
}

func (c *Controller) abort(token uint64, err error) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != token {
		metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeStale).Inc()
		return Done
	}
	metrics.ScanTicksTotal.WithLabelValues(metrics.OutcomeError).Inc()
	c.failLocked(err)
	return Done
}

// failLocked moves to Error, stops the loop and releases the stream.
func (c *Controller) failLocked(err error) {
	c.epoch++
	c.loop.Stop()
	c.releaseLocked()
	c.logger.Error("scanner stopped", "error", err)
	c.setLocked(failed("scanner stopped: "+err.Error(), err))
}

func (c *Controller) releaseLocked() {
	if c.stream == nil {
		return
	}
	c.source.Release(c.stream)
	c.stream = nil
	metrics.ActiveStreams.Dec()
}

func (c *Controller) setLocked(s State) {
	c.state = s
	c.seq++
	close(c.changed)
	c.changed = make(chan struct{})
}
