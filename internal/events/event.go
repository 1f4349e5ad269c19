package events

import (
	"time"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

// Event types published for every EventSink call.
const (
	TypeState     = "state"
	TypeStage     = "stage"
	TypeFeedback  = "feedback"
	TypeSkip      = "skip"
	TypeCompleted = "completed"
	TypeEnded     = "ended"
	TypeError     = "error"
)

// Event is the JSON envelope of one controller notification.
type Event struct {
	Type        string                    `json:"type"`
	At          time.Time                 `json:"at"`
	State       domain.SessionState       `json:"state,omitempty"`
	Reason      domain.SessionStateReason `json:"reason,omitempty"`
	Stage       *domain.Stage             `json:"stage,omitempty"`
	Progress    *domain.SessionProgress   `json:"progress,omitempty"`
	Feedback    *domain.Feedback          `json:"feedback,omitempty"`
	StageNumber *int                      `json:"stageNumber,omitempty"`
	Summary     *domain.SessionSummary    `json:"summary,omitempty"`
	Code        domain.ErrorCode          `json:"code,omitempty"`
	Detail      string                    `json:"detail,omitempty"`
}

// Emitter turns EventSink calls into Events handed to publish.
type Emitter struct {
	publish func(Event)
	now     func() time.Time
}

var _ ports.EventSink = (*Emitter)(nil)

func NewEmitter(publish func(Event)) *Emitter {
	return &Emitter{publish: publish, now: time.Now}
}

func (e *Emitter) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	e.emit(Event{Type: TypeState, State: state, Reason: reason})
}

func (e *Emitter) StageLoaded(stage domain.Stage, progress domain.SessionProgress) {
	e.emit(Event{Type: TypeStage, Stage: &stage, Progress: &progress})
}

func (e *Emitter) FeedbackShown(feedback domain.Feedback) {
	e.emit(Event{Type: TypeFeedback, Feedback: &feedback})
}

func (e *Emitter) SkipAvailable(stageNumber int) {
	e.emit(Event{Type: TypeSkip, StageNumber: &stageNumber})
}

func (e *Emitter) SessionCompleted(progress domain.SessionProgress) {
	e.emit(Event{Type: TypeCompleted, Progress: &progress})
}

func (e *Emitter) SessionEnded(summary domain.SessionSummary) {
	e.emit(Event{Type: TypeEnded, Summary: &summary})
}

func (e *Emitter) SessionError(code domain.ErrorCode, detail string) {
	e.emit(Event{Type: TypeError, Code: code, Detail: detail})
}

func (e *Emitter) emit(event Event) {
	event.At = e.now().UTC()
	e.publish(event)
}

type fanout []ports.EventSink

// Fanout forwards every call to each non-nil sink in order.
func Fanout(sinks ...ports.EventSink) ports.EventSink {
	out := make(fanout, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

func (f fanout) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	for _, sink := range f {
		sink.SessionStateChanged(state, reason)
	}
}

func (f fanout) StageLoaded(stage domain.Stage, progress domain.SessionProgress) {
	for _, sink := range f {
		sink.StageLoaded(stage, progress)
	}
}

func (f fanout) FeedbackShown(feedback domain.Feedback) {
	for _, sink := range f {
		sink.FeedbackShown(feedback)
	}
}

func (f fanout) SkipAvailable(stageNumber int) {
	for _, sink := range f {
		sink.SkipAvailable(stageNumber)
	}
}

func (f fanout) SessionCompleted(progress domain.SessionProgress) {
	for _, sink := range f {
		sink.SessionCompleted(progress)
	}
}

func (f fanout) SessionEnded(summary domain.SessionSummary) {
	for _, sink := range f {
		sink.SessionEnded(summary)
	}
}

func (f fanout) SessionError(code domain.ErrorCode, detail string) {
	for _, sink := range f {
		sink.SessionError(code, detail)
	}
}
