package domain

import (
	"errors"
	"fmt"
)

// ErrCaptureUnavailable reports a missing microphone or camera.
var ErrCaptureUnavailable = errors.New("capture device unavailable")

// TransportError is a network or non-2xx HTTP failure. StatusCode is 0 when
// no response was received.
type TransportError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transport error: %s", e.Message)
	}
	return fmt.Sprintf("transport error (status %d): %s", e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resending the same request may succeed.
func (e *TransportError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// ResponseDecodeError is a 2xx response whose body could not be parsed.
type ResponseDecodeError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *ResponseDecodeError) Error() string {
	return fmt.Sprintf("response decode error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ResponseDecodeError) Unwrap() error {
	return e.Err
}

// PersistenceCorruptError is a persisted value that failed to deserialize.
type PersistenceCorruptError struct {
	Key string
	Err error
}

func (e *PersistenceCorruptError) Error() string {
	return fmt.Sprintf("persisted %s is corrupt: %v", e.Key, e.Err)
}

func (e *PersistenceCorruptError) Unwrap() error {
	return e.Err
}
