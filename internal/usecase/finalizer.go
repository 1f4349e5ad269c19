package usecase

import (
	"errors"
	"strings"

	"rehabstage/internal/domain"
)

// attemptOutcome is the controller-facing result of one finished attempt.
type attemptOutcome struct {
	feedback domain.Feedback
	state    domain.SessionState
	reason   domain.SessionStateReason
	graded   bool
	errCode  domain.ErrorCode
	metric   string
}

type verdictFinalizer struct {
	exercise Exercise
}

func newVerdictFinalizer(exercise Exercise) verdictFinalizer {
	return verdictFinalizer{exercise: exercise}
}

// Finalize maps a verdict or submission failure onto the next state and the
// text shown to the user. Server feedback is shown verbatim.
func (f verdictFinalizer) Finalize(verdict domain.Verdict, err error) attemptOutcome {
	if err != nil {
		outcome := attemptOutcome{
			feedback: domain.Feedback{Passed: false, Text: f.exercise.ErrorMessage},
			state:    domain.SessionStateFeedbackRetry,
			reason:   domain.SessionReasonSubmissionFailed,
			errCode:  errorCodeFor(err),
		}
		outcome.metric = string(outcome.errCode)
		return outcome
	}

	if verdict.IsPassed {
		text := f.exercise.PassMessage
		if f.exercise.EchoInput {
			text = appendEcho(text, verdict.InputValue)
		}
		return attemptOutcome{
			feedback: domain.Feedback{Passed: true, Text: text},
			state:    domain.SessionStateFeedbackPassed,
			reason:   domain.SessionReasonPassed,
			graded:   true,
			metric:   "passed",
		}
	}

	text := f.exercise.RetryPrefix + verdict.Feedback
	if f.exercise.EchoInput {
		text = appendEcho(text, verdict.InputValue)
	}
	outcome := attemptOutcome{
		feedback: domain.Feedback{Passed: false, Text: text},
		state:    domain.SessionStateFeedbackRetry,
		reason:   domain.SessionReasonFailed,
		graded:   true,
		metric:   "failed",
	}
	if f.exercise.SilentRetry {
		outcome.feedback.Text = ""
		outcome.state = domain.SessionStateAwaitingInput
	}
	return outcome
}

func appendEcho(text string, input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return text
	}
	return text + "\n" + echoPrefix + input + "!"
}

func errorCodeFor(err error) domain.ErrorCode {
	var decodeErr *domain.ResponseDecodeError
	if errors.As(err, &decodeErr) {
		return domain.ErrorCodeResponseDecode
	}
	var stopErr *captureStopError
	if errors.As(err, &stopErr) {
		return domain.ErrorCodeCaptureStop
	}
	return domain.ErrorCodeTransport
}
