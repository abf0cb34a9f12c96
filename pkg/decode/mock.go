package decode

import (
	"image"
	"sync"
)

// Mock implements Engine for testing.
type Mock struct {
	// DecodeFunc is called with the 1-based call number.
	// If nil, every call is a miss.
	DecodeFunc func(n int, img image.Image) (*Symbol, error)

	mu       sync.Mutex
	calls    int
	inFlight int
	overlap  bool
}

// NewMock creates a mock that never finds a code.
func NewMock() *Mock {
	return &Mock{}
}

// MissThen returns a mock that misses the first misses calls and then
// decodes text on every later call.
func MissThen(misses int, text string) *Mock {
	return &Mock{
		DecodeFunc: func(n int, img image.Image) (*Symbol, error) {
			if n <= misses {
				return nil, nil
			}
			return &Symbol{Text: text, Format: "QR_CODE"}, nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		DecodeFunc: func(n int, img image.Image) (*Symbol, error) {
			return nil, err
		},
	}
}

// Decode calls DecodeFunc and records the call.
func (m *Mock) Decode(img image.Image) (*Symbol, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.inFlight++
	if m.inFlight > 1 {
		m.overlap = true
	}
	fn := m.DecodeFunc
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if fn == nil {
		return nil, nil
	}
	return fn(n, img)
}

// Calls returns the number of Decode calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Overlapped reports whether two Decode calls ever ran at the same time.
func (m *Mock) Overlapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlap
}

// Verify Mock implements Engine at compile time.
var _ Engine = (*Mock)(nil)
