package transcription

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionUsed is returned when Connect is called twice on one session
	ErrSessionUsed = errors.New("session already started")
	// ErrDisconnected is returned by a Connect interrupted by Disconnect
	ErrDisconnected = errors.New("session disconnected")
	// ErrMalformedResponse means the model reply carried neither JSON nor a
	// recognizable transcript field
	ErrMalformedResponse = errors.New("malformed model response")
)

// TransportError is a fatal failure of the streaming connection. The session
// is over and must be restarted by the caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RequestError is a failed buffered-turn request. It only affects its turn.
type RequestError struct {
	Status int    // HTTP status, 0 for network failures
	Body   string // response body, if any
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		if e.Body != "" {
			return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
		}
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the session
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
