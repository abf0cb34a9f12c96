package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for capture failures.
var (
	// ErrPermissionDenied is returned when the user or OS refuses access to the device.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrDeviceUnavailable is returned when no matching device exists or it is busy.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrNotReady is returned by a stream that has no frame to hand out yet.
	// It is transient and never fatal.
	ErrNotReady = errors.New("capture: stream not ready")

	// ErrReleased is returned when reading from a released stream.
	ErrReleased = errors.New("capture: stream released")

	// ErrDeviceLost is returned when an open device stops producing frames.
	ErrDeviceLost = errors.New("capture: device lost")
)

// DeviceError wraps a failure with the device it happened on.
type DeviceError struct {
	Device int
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture: device %d: %s: %v", e.Device, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsAcquireFailure reports whether err is one of the acquisition sentinels.
func IsAcquireFailure(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable)
}
