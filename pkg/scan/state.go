package scan

import (
	"fmt"
	"time"
)

// Status is the variant tag of State.
type Status int

const (
	StatusIdle Status = iota
	StatusAcquiring
	StatusScanning
	StatusDetected
	StatusError
)

var statusNames = map[Status]string{
	StatusIdle:      "idle",
	StatusAcquiring: "acquiring",
	StatusScanning:  "scanning",
	StatusDetected:  "detected",
	StatusError:     "error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for k, v := range statusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("scan: unknown status %q", text)
}

// Result is the first successful decode after Start or Rescan.
type Result struct {
	ID        string    `json:"id"`
	Payload   string    `json:"payload"`
	Format    string    `json:"format"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a tagged union: Result is set only when Detected, Message and
// Cause only when Error.
type State struct {
	Status  Status  `json:"status"`
	Result  *Result `json:"result,omitempty"`
	Message string  `json:"error,omitempty"`
	Cause   error   `json:"-"`
}

func idle() State      { return State{Status: StatusIdle} }
func acquiring() State { return State{Status: StatusAcquiring} }
func scanning() State  { return State{Status: StatusScanning} }

func detected(r Result) State {
	return State{Status: StatusDetected, Result: &r}
}

func failed(msg string, cause error) State {
	return State{Status: StatusError, Message: msg, Cause: cause}
}

// clone copies the result so callers can't reach the controller's copy.
func (s State) clone() State {
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}
