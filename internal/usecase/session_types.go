package usecase

import (
	"context"
	"time"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

// activeCapture is a running device capture owned by the controller.
type activeCapture struct {
	session   ports.CaptureSession
	media     domain.MediaKind
	startedAt time.Time
}

// pendingAttempt is a stopped capture waiting for its verdict.
type pendingAttempt struct {
	gen     uint64
	capture activeCapture
	elapsed time.Duration
	request domain.SubmissionRequest
	ctx     context.Context
	cancel  context.CancelFunc
}

// captureStopError reports a capture that produced no usable media.
type captureStopError struct {
	err error
}

func (e *captureStopError) Error() string {
	return "capture stop failed: " + e.err.Error()
}

func (e *captureStopError) Unwrap() error {
	return e.err
}

type realClock struct{}

// RealClock schedules callbacks with time.AfterFunc.
func RealClock() ports.Clock {
	return realClock{}
}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	return time.AfterFunc(d, fn)
}

type noopTelemetry struct{}

func (noopTelemetry) CaptureStarted(domain.MediaKind) {}
func (noopTelemetry) SubmissionFinished(string, time.Duration) {}
func (noopTelemetry) StageAdvanced(domain.SessionStateReason) {}
