package ports

import (
	"context"
	"time"

	"rehabstage/internal/domain"
)

// CaptureConfig describes how a device should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	MaxDuration time.Duration
	InputFormat string
	InputDevice string
}

// CaptureSession is a live capture. Stop ends it and returns what was
// captured; it must be safe to call more than once.
type CaptureSession interface {
	Stop() (domain.CaptureArtifact, error)
}

// CaptureDevice creates capture sessions. Start returns an error wrapping
// domain.ErrCaptureUnavailable when no device is present.
type CaptureDevice interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// Submitter performs one assessment submission.
type Submitter interface {
	Submit(ctx context.Context, req domain.SubmissionRequest) (domain.Verdict, error)
}

// SessionService starts and ends server-tracked sessions.
type SessionService interface {
	StartSession(ctx context.Context, levelID string, isCustom bool) (domain.SessionStart, error)
	EndSession(ctx context.Context, sessionID string) (domain.SessionSummary, error)
}

// KeyValueStore is a persisted string store surviving restarts.
type KeyValueStore interface {
	Get(key string) (string, bool, error)
	Set(key string, value string) error
	Delete(key string) error
}

// Timer is a scheduled callback handle.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks and reads time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Telemetry records controller outcomes.
type Telemetry interface {
	CaptureStarted(kind domain.MediaKind)
	SubmissionFinished(outcome string, elapsed time.Duration)
	StageAdvanced(reason domain.SessionStateReason)
}

// EventSink emits controller state/events to the UI. Implementations must
// not call back into the controller.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	StageLoaded(stage domain.Stage, progress domain.SessionProgress)
	FeedbackShown(feedback domain.Feedback)
	SkipAvailable(stageNumber int)
	SessionCompleted(progress domain.SessionProgress)
	SessionEnded(summary domain.SessionSummary)
	SessionError(code domain.ErrorCode, detail string)
}
