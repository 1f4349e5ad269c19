package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rehabstage/internal/audio"
	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
	"rehabstage/internal/stagestore"
)

var (
	ErrNotRecording      = errors.New("no active capture")
	ErrInvalidTransition = errors.New("action not allowed in the current state")
	ErrSkipUnavailable   = errors.New("skip is not available yet")
	ErrChoiceRequired    = errors.New("select an answer before recording")
	ErrUnknownChoice     = errors.New("choice is not offered by this stage")
	ErrControllerClosed  = errors.New("controller is closed")
	ErrSessionComplete   = errors.New("session is complete")
)

// Config controls capture and timing behavior of a controller.
type Config struct {
	AudioCapture  ports.CaptureConfig
	FrameCapture  ports.CaptureConfig
	SkipReveal    time.Duration
	FeedbackHide  time.Duration
	SubmitRetries int
	RetryBackoff  time.Duration
	// EndOnComplete closes the server session once the last stage is done.
	EndOnComplete bool
	// EndTimeout bounds the end-session call, which outlives Close.
	EndTimeout    time.Duration
	Headers       map[string]string
}

// Dependencies are the collaborators of an ExerciseController. Camera,
// Sessions and Telemetry are optional.
type Dependencies struct {
	Audio     ports.CaptureDevice
	Camera    ports.CaptureDevice
	Submitter ports.Submitter
	Sessions  ports.SessionService
	Store     *stagestore.Store
	Events    ports.EventSink
	Clock     ports.Clock
	Telemetry ports.Telemetry
	Logger    *slog.Logger
}

// ExerciseController drives one exercise screen through its stages:
// capture, submission, verdict feedback, skip and advance.
type ExerciseController struct {
	exercise  Exercise
	finalizer verdictFinalizer
	deps      Dependencies
	cfg       Config

	lifetime context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	stages   domain.StageList
	progress domain.SessionProgress
	stage    *domain.Stage
	state    domain.SessionState

	stageGen   uint64
	attemptGen uint64

	capture *activeCapture
	pending *pendingAttempt

	skipArmed     bool
	skipAvailable bool
	skipTimer     ports.Timer
	hideTimer     ports.Timer

	feedbackText string
	graded       int
	choice       string
}

func NewExerciseController(exercise Exercise, deps Dependencies, cfg Config) *ExerciseController {
	if cfg.SkipReveal <= 0 {
		cfg.SkipReveal = 10 * time.Second
	}
	if cfg.FeedbackHide <= 0 {
		cfg.FeedbackHide = 3 * time.Second
	}
	if cfg.SubmitRetries < 0 {
		cfg.SubmitRetries = 0
	}
	if cfg.EndTimeout <= 0 {
		cfg.EndTimeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = noopTelemetry{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	exercise = exercise.normalized()
	lifetime, cancel := context.WithCancel(context.Background())
	return &ExerciseController{
		exercise:  exercise,
		finalizer: newVerdictFinalizer(exercise),
		deps:      deps,
		cfg:       cfg,
		lifetime:  lifetime,
		cancel:    cancel,
		state:     domain.SessionStateAwaitingInput,
	}
}

// Open loads the persisted session and positions the controller on the
// current stage.
func (c *ExerciseController) Open(ctx context.Context) (domain.SessionProgress, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionProgress{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.progress, ErrControllerClosed
	}

	stages, err := c.deps.Store.Load()
	if err != nil {
		c.deps.Events.SessionError(domain.ErrorCodePersistence, err.Error())
	}
	c.stages = stages
	c.progress = c.deps.Store.LoadProgress()
	c.state = domain.SessionStateAwaitingInput

	if c.deps.Store.IsComplete(c.stages, c.progress) {
		c.stage = nil
		c.state = domain.SessionStateComplete
		c.deps.Logger.Info("session already complete", "session_id", c.progress.SessionID)
		c.deps.Events.SessionStateChanged(domain.SessionStateComplete, domain.SessionReasonCompleted)
		return c.progress, nil
	}

	stage, ok := c.deps.Store.CurrentStage(c.stages, c.progress)
	if !ok {
		c.stage = nil
		c.deps.Logger.Warn("no stages to play", "session_id", c.progress.SessionID)
		c.deps.Events.SessionStateChanged(domain.SessionStateAwaitingInput, domain.SessionReasonNoStages)
		return c.progress, nil
	}

	c.loadStageLocked(stage, domain.SessionReasonStageLoaded)
	return c.progress, nil
}

// StartCapture begins recording an attempt on the current stage.
func (c *ExerciseController) StartCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ready, err := c.readyLocked(); !ready {
		return err
	}
	if c.state != domain.SessionStateAwaitingInput && c.state != domain.SessionStateFeedbackRetry {
		return fmt.Errorf("%w: cannot start capture while %s", ErrInvalidTransition, c.state)
	}
	if c.exercise.RequireChoice && c.choice == "" {
		return ErrChoiceRequired
	}

	device, captureCfg := c.deviceFor(c.exercise.Media)
	if device == nil {
		err := fmt.Errorf("%w: no %s device configured", domain.ErrCaptureUnavailable, c.exercise.Media)
		c.captureFailedLocked(err)
		return err
	}

	session, err := device.Start(c.lifetime, captureCfg)
	if err != nil {
		c.captureFailedLocked(err)
		return err
	}

	c.stopTimer(&c.hideTimer)
	c.feedbackText = ""
	c.capture = &activeCapture{
		session:   session,
		media:     c.exercise.Media,
		startedAt: c.deps.Clock.Now(),
	}
	if !c.skipArmed {
		c.skipArmed = true
		gen := c.stageGen
		c.skipTimer = c.deps.Clock.AfterFunc(c.cfg.SkipReveal, func() { c.onSkipReveal(gen) })
	}

	c.state = domain.SessionStateRecording
	c.deps.Telemetry.CaptureStarted(c.exercise.Media)
	c.deps.Events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingStarted)
	return nil
}

// StopCapture ends the recording and submits it in the background.
func (c *ExerciseController) StopCapture(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ready, err := c.readyLocked(); !ready {
		return err
	}
	if c.state != domain.SessionStateRecording || c.capture == nil {
		return ErrNotRecording
	}

	capture := *c.capture
	c.capture = nil
	c.attemptGen++

	submitCtx, cancel := context.WithCancel(c.lifetime)
	attempt := &pendingAttempt{
		gen:     c.attemptGen,
		capture: capture,
		elapsed: c.deps.Clock.Now().Sub(capture.startedAt),
		request: c.requestLocked(),
		ctx:     submitCtx,
		cancel:  cancel,
	}
	c.pending = attempt

	c.state = domain.SessionStateSubmitting
	c.deps.Events.SessionStateChanged(domain.SessionStateSubmitting, domain.SessionReasonSubmitting)

	c.inflight.Add(1)
	go c.runAttempt(attempt)
	return nil
}

// Next advances past a passed stage.
func (c *ExerciseController) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ready, err := c.readyLocked(); !ready {
		return err
	}
	if c.state != domain.SessionStateFeedbackPassed {
		return fmt.Errorf("%w: next requires a passed attempt", ErrInvalidTransition)
	}
	c.advanceLocked(domain.SessionReasonAdvanced)
	return nil
}

// Skip bypasses the current stage once the skip affordance is revealed.
func (c *ExerciseController) Skip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ready, err := c.readyLocked(); !ready {
		return err
	}
	if !c.skipAvailable {
		return ErrSkipUnavailable
	}
	if c.state != domain.SessionStateAwaitingInput && c.state != domain.SessionStateFeedbackRetry {
		return fmt.Errorf("%w: cannot skip while %s", ErrInvalidTransition, c.state)
	}
	c.advanceLocked(domain.SessionReasonSkipped)
	return nil
}

// SelectChoice records the answer of a multiple-choice stage.
func (c *ExerciseController) SelectChoice(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ready, err := c.readyLocked(); !ready {
		return err
	}
	if c.state != domain.SessionStateAwaitingInput && c.state != domain.SessionStateFeedbackRetry {
		return fmt.Errorf("%w: cannot change answer while %s", ErrInvalidTransition, c.state)
	}
	if len(c.stage.Choices) > 0 && !hasChoice(c.stage.Choices, value) {
		return fmt.Errorf("%w: %q", ErrUnknownChoice, value)
	}
	c.choice = value
	return nil
}

// Close persists progress and tears down capture, timers and any in-flight
// submission. Late responses and timer firings become no-ops. Progress is
// not written when another session has been persisted since Open.
func (c *ExerciseController) Close() domain.SessionProgress {
	c.mu.Lock()
	if c.closed {
		progress := c.progress
		c.mu.Unlock()
		return progress
	}
	c.closed = true
	c.stopTimer(&c.skipTimer)
	c.stopTimer(&c.hideTimer)

	var sessions []ports.CaptureSession
	if c.capture != nil {
		sessions = append(sessions, c.capture.session)
		c.capture = nil
	}
	if c.pending != nil {
		c.pending.cancel()
		sessions = append(sessions, c.pending.capture.session)
		c.pending = nil
	}
	c.cancel()

	progress := c.progress
	if c.stage != nil || c.state == domain.SessionStateComplete {
		if stored := c.deps.Store.LoadProgress().SessionID; stored != progress.SessionID {
			c.deps.Logger.Debug("session replaced, not saving progress", "session_id", progress.SessionID, "stored", stored)
		} else if err := c.deps.Store.SaveProgress(progress); err != nil {
			c.deps.Logger.Error("failed to save progress on close", "error", err)
		}
	}
	c.mu.Unlock()

	for _, session := range sessions {
		if _, err := session.Stop(); err != nil {
			c.deps.Logger.Debug("capture stop on close", "error", err)
		}
	}
	return progress
}

// Wait blocks until background submissions and the end-session call return.
func (c *ExerciseController) Wait() {
	c.inflight.Wait()
}

// Status summarizes the controller for the UI.
func (c *ExerciseController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := domain.Status{
		State:          c.state,
		Progress:       c.progress,
		SkipAvailable:  c.skipAvailable,
		FeedbackText:   c.feedbackText,
		GradedAttempts: c.graded,
		SelectedChoice: c.choice,
	}
	if c.stage != nil {
		stage := *c.stage
		status.Stage = &stage
	}
	return status
}

// Progress returns the in-memory session cursor.
func (c *ExerciseController) Progress() domain.SessionProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Exercise returns the capability record the controller runs with.
func (c *ExerciseController) Exercise() Exercise {
	return c.exercise
}

func (c *ExerciseController) runAttempt(attempt *pendingAttempt) {
	defer c.inflight.Done()
	defer attempt.cancel()

	started := c.deps.Clock.Now()
	media, err := c.collectMedia(attempt)
	if err != nil {
		c.finishAttempt(attempt.gen, domain.Verdict{}, err, c.deps.Clock.Now().Sub(started))
		return
	}

	req := attempt.request
	req.Media = media
	verdict, err := c.submitWithRetry(attempt.ctx, req)
	c.finishAttempt(attempt.gen, verdict, err, c.deps.Clock.Now().Sub(started))
}

// collectMedia stops the device and produces the wire payload: a WAV of the
// spoken prefix for audio, the captured JPEG for frames.
func (c *ExerciseController) collectMedia(attempt *pendingAttempt) ([]byte, error) {
	artifact, stopErr := attempt.capture.session.Stop()

	if attempt.capture.media == domain.MediaFrame {
		if len(artifact.Frame) == 0 {
			if stopErr == nil {
				stopErr = errors.New("camera returned an empty frame")
			}
			return nil, &captureStopError{err: stopErr}
		}
		return artifact.Frame, nil
	}

	if stopErr != nil {
		if len(artifact.Samples) == 0 {
			return nil, &captureStopError{err: stopErr}
		}
		c.deps.Logger.Warn("capture stopped uncleanly, submitting what was recorded", "error", stopErr)
	}

	elapsed := attempt.elapsed
	if artifact.Elapsed > 0 && artifact.Elapsed < elapsed {
		elapsed = artifact.Elapsed
	}
	samples := audio.Trim(artifact.Samples, elapsed.Seconds(), artifact.SampleRate*artifact.Channels)
	return audio.EncodeWAV(samples, artifact.SampleRate, artifact.Channels), nil
}

// submitWithRetry resends retryable transport failures with a linear
// backoff. Decode errors are returned immediately.
func (c *ExerciseController) submitWithRetry(ctx context.Context, req domain.SubmissionRequest) (domain.Verdict, error) {
	for attempt := 0; ; attempt++ {
		verdict, err := c.deps.Submitter.Submit(ctx, req)
		if err == nil {
			return verdict, nil
		}

		var transportErr *domain.TransportError
		if !errors.As(err, &transportErr) || !transportErr.Retryable() || attempt >= c.cfg.SubmitRetries {
			return domain.Verdict{}, err
		}
		c.deps.Logger.Warn("submission transport failed, retrying",
			"status", transportErr.StatusCode,
			"attempt", attempt+1,
			"error", err,
		)

		if c.cfg.RetryBackoff > 0 {
			timer := time.NewTimer(time.Duration(attempt+1) * c.cfg.RetryBackoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return domain.Verdict{}, err
			}
		}
		if ctx.Err() != nil {
			return domain.Verdict{}, err
		}
	}
}

func (c *ExerciseController) finishAttempt(gen uint64, verdict domain.Verdict, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.attemptGen || c.state != domain.SessionStateSubmitting {
		c.deps.Logger.Debug("discarding stale submission result", "attempt", gen)
		return
	}
	c.pending = nil

	c.logAttemptErr(err)
	outcome := c.finalizer.Finalize(verdict, err)
	c.deps.Telemetry.SubmissionFinished(outcome.metric, elapsed)

	if outcome.graded {
		c.graded++
	}
	if outcome.errCode != "" {
		c.deps.Events.SessionError(outcome.errCode, err.Error())
	}

	c.state = outcome.state
	c.feedbackText = outcome.feedback.Text
	if outcome.feedback.Text != "" {
		c.deps.Events.FeedbackShown(outcome.feedback)
	}

	switch outcome.state {
	case domain.SessionStateFeedbackPassed:
		c.stopTimer(&c.skipTimer)
		c.skipAvailable = false
		c.deps.Events.SessionStateChanged(outcome.state, outcome.reason)
		if c.exercise.AutoAdvance {
			c.advanceLocked(domain.SessionReasonAdvanced)
		}
	case domain.SessionStateFeedbackRetry:
		c.deps.Events.SessionStateChanged(outcome.state, outcome.reason)
		hideGen := c.attemptGen
		c.hideTimer = c.deps.Clock.AfterFunc(c.cfg.FeedbackHide, func() { c.onFeedbackHidden(hideGen) })
	default:
		c.deps.Events.SessionStateChanged(outcome.state, outcome.reason)
	}
}

func (c *ExerciseController) logAttemptErr(err error) {
	if err == nil {
		return
	}
	var transportErr *domain.TransportError
	var decodeErr *domain.ResponseDecodeError
	switch {
	case errors.As(err, &transportErr):
		c.deps.Logger.Warn("submission transport failed", "status", transportErr.StatusCode, "error", err)
	case errors.As(err, &decodeErr):
		c.deps.Logger.Error("submission response undecodable", "status", decodeErr.StatusCode, "error", err)
	default:
		c.deps.Logger.Warn("submission failed", "error", err)
	}
}

func (c *ExerciseController) onSkipReveal(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.stageGen || c.stage == nil {
		return
	}
	if c.state == domain.SessionStateFeedbackPassed || c.state == domain.SessionStateComplete {
		return
	}
	c.skipTimer = nil
	c.skipAvailable = true
	c.deps.Events.SkipAvailable(c.stage.Number)
}

func (c *ExerciseController) onFeedbackHidden(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.attemptGen || c.state != domain.SessionStateFeedbackRetry {
		return
	}
	c.hideTimer = nil
	c.feedbackText = ""
	c.state = domain.SessionStateAwaitingInput
	c.deps.Events.SessionStateChanged(domain.SessionStateAwaitingInput, domain.SessionReasonFeedbackHidden)
}

// advanceLocked moves to the next stage or completes the session.
func (c *ExerciseController) advanceLocked(reason domain.SessionStateReason) {
	next, done, err := c.deps.Store.Advance(c.stages, c.progress)
	if err != nil {
		c.deps.Logger.Error("failed to persist stage advance", "error", err)
		c.deps.Events.SessionError(domain.ErrorCodePersistence, err.Error())
	}
	c.progress = next
	c.deps.Telemetry.StageAdvanced(reason)

	if done {
		c.completeLocked()
		return
	}

	stage, _ := c.deps.Store.CurrentStage(c.stages, c.progress)
	c.loadStageLocked(stage, reason)
}

// loadStageLocked resets per-stage state and announces the stage.
func (c *ExerciseController) loadStageLocked(stage domain.Stage, reason domain.SessionStateReason) {
	c.stageGen++
	c.attemptGen++
	c.stopTimer(&c.skipTimer)
	c.stopTimer(&c.hideTimer)
	c.skipArmed = false
	c.skipAvailable = false
	c.feedbackText = ""
	c.graded = 0
	c.choice = ""

	c.stage = &stage
	c.progress.CurrentStageNumber = stage.Number
	c.state = domain.SessionStateAwaitingInput

	c.deps.Events.StageLoaded(stage, c.progress)
	c.deps.Events.SessionStateChanged(domain.SessionStateAwaitingInput, reason)
}

func (c *ExerciseController) completeLocked() {
	c.stageGen++
	c.attemptGen++
	c.stopTimer(&c.skipTimer)
	c.stopTimer(&c.hideTimer)
	c.skipArmed = false
	c.skipAvailable = false
	c.feedbackText = ""
	c.choice = ""
	c.stage = nil
	c.state = domain.SessionStateComplete

	c.deps.Events.SessionStateChanged(domain.SessionStateComplete, domain.SessionReasonCompleted)
	c.deps.Events.SessionCompleted(c.progress)

	if c.cfg.EndOnComplete && c.deps.Sessions != nil && c.progress.SessionID != "" {
		c.inflight.Add(1)
		go c.endSession(c.progress.SessionID)
	}
}

func (c *ExerciseController) endSession(sessionID string) {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.lifetime), c.cfg.EndTimeout)
	defer cancel()
	summary, err := c.deps.Sessions.EndSession(ctx, sessionID)

	if err != nil {
		c.deps.Logger.Warn("failed to end session", "session_id", sessionID, "error", err)
	} else {
		c.deps.Logger.Info("session ended", "session_id", sessionID, "score", summary.Score)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.deps.Events.SessionError(errorCodeFor(err), err.Error())
		return
	}
	c.deps.Events.SessionEnded(summary)
}

func (c *ExerciseController) captureFailedLocked(err error) {
	if errors.Is(err, domain.ErrCaptureUnavailable) {
		c.deps.Logger.Warn("capture device unavailable", "media", c.exercise.Media, "error", err)
	} else {
		c.deps.Logger.Error("failed to start capture", "media", c.exercise.Media, "error", err)
	}
	c.stopTimer(&c.hideTimer)
	c.feedbackText = ""
	c.state = domain.SessionStateAwaitingInput
	c.deps.Events.SessionError(domain.ErrorCodeCaptureUnavailable, err.Error())
	c.deps.Events.SessionStateChanged(domain.SessionStateAwaitingInput, domain.SessionReasonCaptureUnavailable)
}

func (c *ExerciseController) requestLocked() domain.SubmissionRequest {
	req := domain.SubmissionRequest{
		SessionID:   c.progress.SessionID,
		StageNumber: c.stage.Number,
		Threshold:   c.exercise.threshold(c.progress),
		MediaKind:   c.exercise.Media,
		FieldName:   c.exercise.FieldName,
		Headers:     c.cfg.Headers,
	}
	if c.choice != "" {
		req.ExtraFields = map[string]string{"selectedChoice": c.choice}
	}
	return req
}

// readyLocked reports whether a stage action may run. An empty stage list
// makes every stage action a silent no-op.
func (c *ExerciseController) readyLocked() (bool, error) {
	switch {
	case c.closed:
		return false, ErrControllerClosed
	case c.state == domain.SessionStateComplete:
		return false, ErrSessionComplete
	case c.stage == nil:
		return false, nil
	default:
		return true, nil
	}
}

func (c *ExerciseController) deviceFor(media domain.MediaKind) (ports.CaptureDevice, ports.CaptureConfig) {
	if media == domain.MediaFrame {
		return c.deps.Camera, c.cfg.FrameCapture
	}
	return c.deps.Audio, c.cfg.AudioCapture
}

func (c *ExerciseController) stopTimer(timer *ports.Timer) {
	if *timer != nil {
		(*timer).Stop()
		*timer = nil
	}
}

func hasChoice(choices []domain.Choice, value string) bool {
	for _, choice := range choices {
		if choice.Value == value {
			return true
		}
	}
	return false
}
