package domain

import "time"

// SessionState models the exercise stage lifecycle.
type SessionState string

const (
	SessionStateAwaitingInput  SessionState = "awaiting_input"
	SessionStateRecording      SessionState = "recording"
	SessionStateSubmitting     SessionState = "submitting"
	SessionStateFeedbackPassed SessionState = "feedback_passed"
	SessionStateFeedbackRetry  SessionState = "feedback_retry"
	SessionStateComplete       SessionState = "session_complete"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonStageLoaded        SessionStateReason = "stage_loaded"
	SessionReasonNoStages           SessionStateReason = "no_stages"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonSubmitting         SessionStateReason = "submitting"
	SessionReasonPassed             SessionStateReason = "passed"
	SessionReasonFailed             SessionStateReason = "failed"
	SessionReasonSubmissionFailed   SessionStateReason = "submission_failed"
	SessionReasonFeedbackHidden     SessionStateReason = "feedback_hidden"
	SessionReasonCaptureUnavailable SessionStateReason = "capture_unavailable"
	SessionReasonAdvanced           SessionStateReason = "advanced"
	SessionReasonSkipped            SessionStateReason = "skipped"
	SessionReasonCompleted          SessionStateReason = "completed"
)

// ErrorCode identifies recoverable backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup            ErrorCode = "startup"
	ErrorCodeCaptureUnavailable ErrorCode = "capture_unavailable"
	ErrorCodeCaptureStop        ErrorCode = "capture_stop"
	ErrorCodeTransport          ErrorCode = "transport"
	ErrorCodeResponseDecode     ErrorCode = "response_decode"
	ErrorCodePersistence        ErrorCode = "persistence"
)

// MediaKind selects the capture path of an exercise.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaFrame MediaKind = "frame"
)

// ContentType returns the multipart content type of an encoded payload.
func (k MediaKind) ContentType() string {
	if k == MediaFrame {
		return "image/jpeg"
	}
	return "audio/wav"
}

// Extension returns the synthetic filename extension of an encoded payload.
func (k MediaKind) Extension() string {
	if k == MediaFrame {
		return "jpg"
	}
	return "wav"
}

// Choice is one selectable answer of a multiple-choice stage.
type Choice struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Stage is one exercise step. Number is its stable identity and need not
// match its position in the list.
type Stage struct {
	Number      int      `json:"number"`
	Target      string   `json:"target"`
	Description string   `json:"description"`
	MediaURL    string   `json:"image"`
	Choices     []Choice `json:"choices,omitempty"`
}

// StageList is the ordered play order of a session.
type StageList []Stage

// IndexOf returns the position of the stage with the given number or -1.
func (l StageList) IndexOf(number int) int {
	for i, stage := range l {
		if stage.Number == number {
			return i
		}
	}
	return -1
}

// SessionProgress is the mutable cursor over a StageList.
type SessionProgress struct {
	SessionID          string  `json:"sessionId"`
	CurrentStageNumber int     `json:"stageNumber"`
	Difficulty         float64 `json:"difficulty"`
}

// SessionStart is the bootstrap service response.
type SessionStart struct {
	SessionID string    `json:"sessionId"`
	Stages    StageList `json:"stage"`
}

// SessionSummary is the session end response.
type SessionSummary struct {
	Message string `json:"message"`
	Score   int    `json:"score"`
}

// Level is one playable level of a game type.
type Level struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Subtype     string `json:"subtype"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CaptureArtifact is the raw output of one capture. Samples may be longer
// than what was actually recorded.
type CaptureArtifact struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Frame      []byte
	Elapsed    time.Duration
}

// Verdict is the assessment service's judgment of one attempt.
type Verdict struct {
	IsPassed   bool   `json:"isPassed"`
	InputValue string `json:"inputValue"`
	Feedback   string `json:"feedback"`
}

// SubmissionRequest is one outbound multipart submission.
type SubmissionRequest struct {
	SessionID   string
	StageNumber int
	Threshold   float64
	Media       []byte
	MediaKind   MediaKind
	FieldName   string
	ExtraFields map[string]string
	Headers     map[string]string
}

// Feedback is the user-facing result of one attempt.
type Feedback struct {
	Passed bool   `json:"passed"`
	Text   string `json:"text"`
}

// Status summarizes the current controller state for the UI.
type Status struct {
	State          SessionState    `json:"state"`
	Stage          *Stage          `json:"stage,omitempty"`
	Progress       SessionProgress `json:"progress"`
	SkipAvailable  bool            `json:"skipAvailable"`
	FeedbackText   string          `json:"feedbackText,omitempty"`
	GradedAttempts int             `json:"gradedAttempts"`
	SelectedChoice string          `json:"selectedChoice,omitempty"`
}
