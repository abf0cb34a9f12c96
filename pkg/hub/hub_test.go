package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-checkin/internal/log"
)

// fakeConn blocks reads until closed and records writes.
type fakeConn struct {
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{writes: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) SetReadLimit(int64)                        {}
func (f *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetPongHandler(func(appData string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("closed")
	default:
	}
	if mt == websocket.TextMessage {
		f.writes <- data
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case data := <-f.writes:
		return string(data)
	case <-time.After(time.Second):
		t.Fatal("no message written")
		return ""
	}
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Stopped()
	})
	return h, cancel
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	h, _ := startHub(t)

	a, b := newFakeConn(), newFakeConn()
	for _, conn := range []*fakeConn{a, b} {
		c, err := NewClient(h, conn)
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		go c.Run()
	}
	waitClients(t, h, 2)

	if err := h.BroadcastJSON(map[string]string{"type": "visit"}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	for _, conn := range []*fakeConn{a, b} {
		if got := conn.next(t); got != `{"type":"visit"}` {
			t.Errorf("got %s", got)
		}
	}

	a.Close()
	waitClients(t, h, 1)
}

func TestHub_SnapshotReplayedToNewClients(t *testing.T) {
	h, _ := startHub(t)

	if err := h.PublishJSON(map[string]string{"status": "scanning"}); err != nil {
		t.Fatal(err)
	}
	h.BroadcastJSON(map[string]string{"type": "not retained"})

	// Let the hub drain both messages before anyone connects.
	deadline := time.Now().Add(time.Second)
	for len(h.broadcast) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)

	conn := newFakeConn()
	c, err := NewClient(h, conn)
	if err != nil {
		t.Fatal(err)
	}
	go c.Run()

	if got := conn.next(t); got != `{"status":"scanning"}` {
		t.Errorf("first message = %s, want snapshot", got)
	}
	select {
	case extra := <-conn.writes:
		t.Errorf("unexpected message %s", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	h, cancel := startHub(t)

	conn := newFakeConn()
	c, err := NewClient(h, conn)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	waitClients(t, h, 1)

	cancel()
	<-h.Stopped()

	select {
	case <-conn.closed:
	case <-time.After(time.Second):
		t.Fatal("connection not closed after hub stopped")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("client pumps still running")
	}

	if h.IsRunning() {
		t.Error("hub still running")
	}
	if _, err := NewClient(h, newFakeConn()); !errors.Is(err, ErrStopped) {
		t.Errorf("NewClient after stop: err = %v, want ErrStopped", err)
	}
}
