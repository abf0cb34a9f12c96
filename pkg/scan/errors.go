package scan

import "errors"

// Sentinel errors for scan control.
var (
	// ErrSchedulingUnavailable is returned when no tick interval can be derived.
	ErrSchedulingUnavailable = errors.New("scan: scheduling unavailable")

	// ErrInvalidTransition is returned when an operation is not valid in the current state.
	ErrInvalidTransition = errors.New("scan: invalid transition")

	// ErrDisposed is returned by an acquisition that lost a race with Dispose.
	ErrDisposed = errors.New("scan: disposed")
)

// MessageCameraUnavailable is the user-facing text for acquisition failures.
const MessageCameraUnavailable = "camera access denied or not available"
