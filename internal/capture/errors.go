package capture

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPermissionDenied means the OS refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNoDevice means no capture device could be opened
	ErrNoDevice = errors.New("no capture device available")
)

// Error is returned when the capture device cannot be acquired. It is never
// retried automatically.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps backend error text onto the package sentinels. Unknown errors
// are returned unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNoDevice) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "not authorized"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device"),
		strings.Contains(msg, "device not found"),
		strings.Contains(msg, "no backend"),
		strings.Contains(msg, "does not exist"):
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return err
}
