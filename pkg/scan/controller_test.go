package scan

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-checkin/internal/log"
	"github.com/teslashibe/go-checkin/pkg/capture"
	"github.com/teslashibe/go-checkin/pkg/decode"
	"github.com/teslashibe/go-checkin/pkg/payload"
)

const eventURL = "https://gatherly.app/e/42"

func newTestController(src capture.Source, eng decode.Engine) *Controller {
	return NewController(src, eng,
		WithLogger(log.Discard()),
		WithInterval(time.Millisecond),
	)
}

func waitStatus(t *testing.T, c *Controller, want Status) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Wait(ctx, func(s State) bool { return s.Status == want })
	require.NoError(t, err, "waiting for %s, last state %s", want, st.Status)
	return st
}

func environment() capture.Constraints {
	return capture.Constraints{Facing: capture.FacingEnvironment}
}

func TestController_ScenarioA(t *testing.T) {
	src := capture.NewFake()
	eng := decode.MissThen(10, eventURL)
	c := newTestController(src, eng)
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	st := waitStatus(t, c, StatusDetected)

	require.NotNil(t, st.Result)
	assert.Equal(t, eventURL, st.Result.Payload)
	assert.Equal(t, "QR_CODE", st.Result.Format)
	assert.NotEmpty(t, st.Result.ID)
	assert.Equal(t, 11, eng.Calls())
	assert.Equal(t, payload.KindLink, payload.Classify(st.Result.Payload).Kind)

	r, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, *st.Result, r)
}

func TestController_ScenarioB(t *testing.T) {
	src := capture.NewFake()
	src.AcquireFunc = func(ctx context.Context, con capture.Constraints) error {
		return &capture.DeviceError{Device: 0, Op: "access", Err: capture.ErrPermissionDenied}
	}
	eng := decode.MissThen(0, eventURL)
	c := newTestController(src, eng)

	err := c.Start(context.Background(), environment())
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)

	st := c.State()
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, MessageCameraUnavailable, st.Message)
	assert.Nil(t, st.Result)

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, eng.Calls())
	assert.Zero(t, src.LiveStreams())
}

func TestController_ScenarioC(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.MissThen(0, "booth-42"))
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	st := waitStatus(t, c, StatusDetected)

	class := payload.Classify(st.Result.Payload)
	assert.Equal(t, payload.KindText, class.Kind)

	visits := 0
	v := payload.VisitorFunc(func(ctx context.Context, u *url.URL) error {
		visits++
		return nil
	})
	_, err := payload.VisitLink(context.Background(), v, st.Result.Payload)
	assert.ErrorIs(t, err, payload.ErrNotLink)
	assert.Zero(t, visits)
}

func TestController_NoDecodeAfterDetected(t *testing.T) {
	src := capture.NewFake()
	eng := decode.MissThen(2, eventURL)
	c := newTestController(src, eng)
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	waitStatus(t, c, StatusDetected)
	calls := eng.Calls()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, eng.Calls())
	assert.False(t, c.loop.Running())
	assert.Equal(t, 1, src.LiveStreams(), "stream stays alive while Detected")
}

func TestController_Rescan(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.MissThen(0, eventURL))
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	first := waitStatus(t, c, StatusDetected)

	require.NoError(t, c.Rescan(context.Background()))
	_, ok := c.Result()
	if st := c.State(); st.Status == StatusScanning {
		assert.Nil(t, st.Result)
		assert.False(t, ok)
	}

	second := waitStatus(t, c, StatusDetected)
	assert.NotEqual(t, first.Result.ID, second.Result.ID)
	assert.Equal(t, 1, src.Acquires(), "rescan reuses the stream")
	assert.Equal(t, 1, src.LiveStreams())
}

func TestController_RescanInvalidStates(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.NewMock())
	defer c.Dispose()

	assert.ErrorIs(t, c.Rescan(context.Background()), ErrInvalidTransition)

	require.NoError(t, c.Start(context.Background(), environment()))
	assert.ErrorIs(t, c.Rescan(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, c.Start(context.Background(), environment()), ErrInvalidTransition)
	assert.Equal(t, StatusScanning, c.State().Status)
}

func TestController_RescanReacquiresLostStream(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.MissThen(0, eventURL))
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	waitStatus(t, c, StatusDetected)

	old := src.Streams()[0]
	old.Invalidate()

	require.NoError(t, c.Rescan(context.Background()))
	waitStatus(t, c, StatusDetected)

	assert.Equal(t, 2, src.Acquires())
	assert.True(t, old.Released())
	assert.Equal(t, 1, src.LiveStreams())
}

func TestController_DisposeDuringAcquire(t *testing.T) {
	gate := make(chan struct{})
	src := capture.NewFake()
	// The driver ignores ctx and resolves whenever it likes.
	src.AcquireFunc = func(ctx context.Context, con capture.Constraints) error {
		<-gate
		return nil
	}
	eng := decode.MissThen(0, eventURL)
	c := newTestController(src, eng)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(context.Background(), environment()) }()
	waitStatus(t, c, StatusAcquiring)

	c.Dispose()
	assert.Equal(t, StatusIdle, c.State().Status)
	close(gate)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisposed)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}

	assert.Equal(t, StatusIdle, c.State().Status)
	streams := src.Streams()
	require.Len(t, streams, 1)
	assert.True(t, streams[0].Released(), "late stream must be released")

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, eng.Calls())
}

func TestController_DisposeDuringDecode(t *testing.T) {
	entered := make(chan struct{}, 1)
	proceed := make(chan struct{})
	eng := &decode.Mock{
		DecodeFunc: func(n int, img image.Image) (*decode.Symbol, error) {
			entered <- struct{}{}
			<-proceed
			return &decode.Symbol{Text: eventURL, Format: "QR_CODE"}, nil
		},
	}
	src := capture.NewFake()
	c := newTestController(src, eng)

	require.NoError(t, c.Start(context.Background(), environment()))
	<-entered

	c.Dispose()
	close(proceed)
	waitClosed(t, c.loop.Done())

	assert.Equal(t, StatusIdle, c.State().Status)
	_, ok := c.Result()
	assert.False(t, ok, "result from a disposed tick must be discarded")
	assert.Equal(t, 1, eng.Calls())
	assert.Zero(t, src.LiveStreams())
}

func TestController_DisposeIdempotent(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.NewMock())

	c.Dispose()
	require.NoError(t, c.Start(context.Background(), environment()))
	c.Dispose()
	c.Dispose()

	assert.Equal(t, StatusIdle, c.State().Status)
	assert.True(t, src.Streams()[0].Released())
	assert.Zero(t, src.LiveStreams())
}

func TestController_FatalErrors(t *testing.T) {
	errUSB := errors.New("usb reset")

	tests := []struct {
		name   string
		source func() *capture.Fake
		engine decode.Engine
		prefix string
	}{
		{
			name: "sampler",
			source: func() *capture.Fake {
				f := capture.NewFake()
				f.FrameFunc = func(n int, dst *image.RGBA) error { return errUSB }
				return f
			},
			engine: decode.NewMock(),
			prefix: "scanner stopped: sample: ",
		},
		{
			name:   "decoder",
			source: capture.NewFake,
			engine: decode.WithError(errUSB),
			prefix: "scanner stopped: decode: ",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src := tc.source()
			c := newTestController(src, tc.engine)

			require.NoError(t, c.Start(context.Background(), environment()))
			st := waitStatus(t, c, StatusError)

			assert.Equal(t, tc.prefix+"usb reset", st.Message)
			assert.ErrorIs(t, st.Cause, errUSB)
			assert.Nil(t, st.Result)
			assert.Zero(t, src.LiveStreams(), "stream released on error")
			waitClosed(t, c.loop.Done())
		})
	}
}

func TestController_TransientFramesAreSkipped(t *testing.T) {
	src := capture.NewFake()
	src.FrameFunc = func(n int, dst *image.RGBA) error {
		if n <= 3 {
			return capture.ErrNotReady
		}
		return nil
	}
	eng := decode.MissThen(0, eventURL)
	c := newTestController(src, eng)
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	waitStatus(t, c, StatusDetected)
	assert.Equal(t, 1, eng.Calls())
	assert.Equal(t, 4, src.Streams()[0].Reads())
}

func TestController_StartRecoversFromError(t *testing.T) {
	src := capture.NewFake()
	src.AcquireFunc = func(ctx context.Context, con capture.Constraints) error {
		return capture.ErrDeviceUnavailable
	}
	c := newTestController(src, decode.MissThen(0, eventURL))
	defer c.Dispose()

	require.Error(t, c.Start(context.Background(), environment()))
	assert.Equal(t, StatusError, c.State().Status)

	src.AcquireFunc = nil
	require.NoError(t, c.Start(context.Background(), environment()))
	st := waitStatus(t, c, StatusDetected)
	assert.Empty(t, st.Message)
}

func TestController_StartCancelled(t *testing.T) {
	src := capture.NewFake()
	src.AcquireFunc = func(ctx context.Context, con capture.Constraints) error {
		<-ctx.Done()
		return ctx.Err()
	}
	c := newTestController(src, decode.NewMock())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.Start(ctx, environment())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusIdle, c.State().Status)
}

func TestController_WaitsForReadyStream(t *testing.T) {
	src := capture.NewFake()
	src.HoldReady = true
	eng := decode.MissThen(0, eventURL)
	c := newTestController(src, eng)
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StatusScanning, c.State().Status)
	assert.Zero(t, eng.Calls())

	src.Streams()[0].MarkReady()
	waitStatus(t, c, StatusDetected)
	assert.Equal(t, 1, eng.Calls())
}

func TestController_NoOverlappingDecodes(t *testing.T) {
	src := capture.NewFake()
	eng := &decode.Mock{
		DecodeFunc: func(n int, img image.Image) (*decode.Symbol, error) {
			time.Sleep(2 * time.Millisecond)
			if n%5 == 0 {
				return &decode.Symbol{Text: "booth-42", Format: "QR_CODE"}, nil
			}
			return nil, nil
		},
	}
	c := newTestController(src, eng)
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	for i := 0; i < 5; i++ {
		waitStatus(t, c, StatusDetected)
		require.NoError(t, c.Rescan(context.Background()))
	}
	assert.False(t, eng.Overlapped())
}

func TestController_ScanOnce(t *testing.T) {
	t.Run("detects and releases", func(t *testing.T) {
		src := capture.NewFake()
		c := newTestController(src, decode.MissThen(2, eventURL))

		r, err := c.ScanOnce(context.Background(), environment())
		require.NoError(t, err)
		assert.Equal(t, eventURL, r.Payload)
		assert.Equal(t, StatusIdle, c.State().Status)
		assert.Zero(t, src.LiveStreams())
	})

	t.Run("deadline releases", func(t *testing.T) {
		src := capture.NewFake()
		c := newTestController(src, decode.NewMock())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := c.ScanOnce(ctx, environment())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, StatusIdle, c.State().Status)
		assert.Zero(t, src.LiveStreams())
	})

	t.Run("acquire failure", func(t *testing.T) {
		src := capture.NewFake()
		src.AcquireFunc = func(ctx context.Context, con capture.Constraints) error {
			return capture.ErrPermissionDenied
		}
		c := newTestController(src, decode.NewMock())

		_, err := c.ScanOnce(context.Background(), environment())
		assert.ErrorIs(t, err, capture.ErrPermissionDenied)
		assert.Equal(t, StatusIdle, c.State().Status)
	})
}

func TestController_Watch(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.MissThen(3, eventURL))
	defer c.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []Status
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Watch(ctx, func(s State) {
			mu.Lock()
			seen = append(seen, s.Status)
			mu.Unlock()
			if s.Status == StatusDetected {
				// Calling back into the controller from fn must not deadlock.
				_, _ = c.Result()
				cancel()
			}
		})
	}()

	require.NoError(t, c.Start(context.Background(), environment()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch never saw Detected")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, StatusDetected, seen[len(seen)-1])
}

func TestState_JSON(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"idle", idle(), `{"status":"idle"}`},
		{"scanning", scanning(), `{"status":"scanning"}`},
		{
			"detected",
			detected(Result{ID: "r1", Payload: "booth-42", Format: "QR_CODE", Timestamp: ts}),
			`{"status":"detected","result":{"id":"r1","payload":"booth-42","format":"QR_CODE","timestamp":"2026-03-14T09:30:00Z"}}`,
		},
		{
			"error",
			failed(MessageCameraUnavailable, capture.ErrPermissionDenied),
			`{"status":"error","error":"camera access denied or not available"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.state)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestStatus_UnmarshalText(t *testing.T) {
	var s Status
	require.NoError(t, s.UnmarshalText([]byte("detected")))
	assert.Equal(t, StatusDetected, s)
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}

func TestState_CloneIsolatesResult(t *testing.T) {
	src := capture.NewFake()
	c := newTestController(src, decode.MissThen(0, eventURL))
	defer c.Dispose()

	require.NoError(t, c.Start(context.Background(), environment()))
	st := waitStatus(t, c, StatusDetected)
	st.Result.Payload = "tampered"

	r, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, eventURL, r.Payload)
}
