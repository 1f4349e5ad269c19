package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"rehabstage/internal/domain"
	"rehabstage/internal/logging"
	"rehabstage/internal/ports"
	"rehabstage/internal/prefs"
	"rehabstage/internal/stagestore"
)

type harness struct {
	controller *ExerciseController
	clock      *fakeClock
	audio      *fakeCaptureDevice
	camera     *fakeCaptureDevice
	submitter  *fakeSubmitter
	sessions   *fakeSessions
	events     *fakeEventSink
	kv         *prefs.MemoryStore
	store      *stagestore.Store
	telemetry  *fakeTelemetry
}

func newHarness(t *testing.T, exercise Exercise, stages domain.StageList, cfg Config) *harness {
	t.Helper()

	kv := prefs.NewMemoryStore()
	store := stagestore.New(kv, logging.Discard())
	if stages != nil {
		if _, err := store.BeginSession(domain.SessionStart{SessionID: "session-1", Stages: stages}, 0.6); err != nil {
			t.Fatalf("seed session failed: %v", err)
		}
	}

	h := &harness{
		clock:     newFakeClock(),
		audio:     &fakeCaptureDevice{},
		camera:    &fakeCaptureDevice{},
		submitter: &fakeSubmitter{},
		sessions:  &fakeSessions{},
		events:    &fakeEventSink{},
		kv:        kv,
		store:     store,
		telemetry: &fakeTelemetry{},
	}
	h.controller = NewExerciseController(exercise, Dependencies{
		Audio:     h.audio,
		Camera:    h.camera,
		Submitter: h.submitter,
		Sessions:  h.sessions,
		Store:     store,
		Events:    h.events,
		Clock:     h.clock,
		Telemetry: h.telemetry,
		Logger:    logging.Discard(),
	}, cfg)
	t.Cleanup(func() {
		h.controller.Close()
		h.submitter.releaseAll()
		h.controller.inflight.Wait()
	})
	return h
}

// sibling builds another controller over the same store and fakes, like a
// host replacing its screen.
func (h *harness) sibling(t *testing.T, exercise Exercise, cfg Config) *ExerciseController {
	t.Helper()
	controller := NewExerciseController(exercise, Dependencies{
		Audio:     h.audio,
		Camera:    h.camera,
		Submitter: h.submitter,
		Sessions:  h.sessions,
		Store:     h.store,
		Events:    h.events,
		Clock:     h.clock,
		Telemetry: h.telemetry,
		Logger:    logging.Discard(),
	}, cfg)
	t.Cleanup(func() {
		controller.Close()
		controller.Wait()
	})
	return controller
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	if _, err := h.controller.Open(context.Background()); err != nil {
		t.Fatalf("open failed: %v", err)
	}
}

// attempt records for d, stops and waits for the verdict to be applied.
func (h *harness) attempt(t *testing.T, d time.Duration) {
	t.Helper()
	if err := h.controller.StartCapture(context.Background()); err != nil {
		t.Fatalf("start capture failed: %v", err)
	}
	h.clock.Advance(d)
	if err := h.controller.StopCapture(context.Background()); err != nil {
		t.Fatalf("stop capture failed: %v", err)
	}
	h.controller.inflight.Wait()
}

func speechExercise() Exercise {
	exercise, _ := LookupExercise(KindPhonemePractice)
	return exercise
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves time forward, firing due timers in order outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].when.Before(c.timers[j].when) })
		var due *fakeTimer
		if len(c.timers) > 0 && !c.timers[0].when.After(target) {
			due = c.timers[0]
			c.timers = c.timers[1:]
			c.now = due.when
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		due.fn()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeTimer struct {
	clock *fakeClock
	when  time.Time
	fn    func()
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, timer := range t.clock.timers {
		if timer == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeCaptureDevice struct {
	mu       sync.Mutex
	err      error
	artifact *domain.CaptureArtifact
	stopErr  error
	starts   int
	sessions []*fakeCaptureSession
	configs  []ports.CaptureConfig
}

func (f *fakeCaptureDevice) Start(_ context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	artifact := domain.CaptureArtifact{
		Samples:    make([]float32, 16000*8),
		SampleRate: 16000,
		Channels:   1,
	}
	if f.artifact != nil {
		artifact = *f.artifact
	}
	session := &fakeCaptureSession{artifact: artifact, err: f.stopErr}
	f.sessions = append(f.sessions, session)
	return session, nil
}

func (f *fakeCaptureDevice) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeCaptureDevice) lastSession() *fakeCaptureSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

type fakeCaptureSession struct {
	mu        sync.Mutex
	artifact  domain.CaptureArtifact
	err       error
	stopCalls int
}

func (f *fakeCaptureSession) Stop() (domain.CaptureArtifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.artifact, f.err
}

func (f *fakeCaptureSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type submitResult struct {
	verdict domain.Verdict
	err     error
}

// fakeSubmitter replays results in order, repeating the last one. When
// block is set, each call waits for releaseAll and ignores cancellation.
type fakeSubmitter struct {
	mu       sync.Mutex
	results  []submitResult
	requests []domain.SubmissionRequest
	block    chan struct{}
	once     sync.Once
}

func (f *fakeSubmitter) queue(results ...submitResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, results...)
}

func (f *fakeSubmitter) Submit(_ context.Context, req domain.SubmissionRequest) (domain.Verdict, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block := f.block
	var result submitResult
	switch len(f.results) {
	case 0:
		result = submitResult{err: errors.New("no result queued")}
	case 1:
		result = f.results[0]
	default:
		result = f.results[0]
		f.results = f.results[1:]
	}
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return result.verdict, result.err
}

func (f *fakeSubmitter) releaseAll() {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		f.once.Do(func() { close(block) })
	}
}

func (f *fakeSubmitter) calls() []domain.SubmissionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SubmissionRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// fakeSessions records end calls. When block is set, EndSession waits for
// it to close before recording the context state.
type fakeSessions struct {
	mu      sync.Mutex
	ended   []string
	ctxErrs []error
	summary domain.SessionSummary
	err     error
	block   chan struct{}
}

func (f *fakeSessions) StartSession(_ context.Context, levelID string, _ bool) (domain.SessionStart, error) {
	return domain.SessionStart{SessionID: "started-" + levelID}, nil
}

func (f *fakeSessions) EndSession(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.summary, f.err
}

type fakeTelemetry struct {
	mu       sync.Mutex
	captures int
	outcomes []string
	advances []domain.SessionStateReason
}

func (f *fakeTelemetry) CaptureStarted(domain.MediaKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures++
}

func (f *fakeTelemetry) SubmissionFinished(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeTelemetry) StageAdvanced(reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances = append(f.advances, reason)
}

type fakeEventSink struct {
	mu sync.Mutex

	states    []stateEvent
	stages    []domain.Stage
	feedback  []domain.Feedback
	skips     []int
	completed []domain.SessionProgress
	ended     []domain.SessionSummary
	errors    []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) StageLoaded(stage domain.Stage, _ domain.SessionProgress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

func (f *fakeEventSink) FeedbackShown(feedback domain.Feedback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, feedback)
}

func (f *fakeEventSink) SkipAvailable(stageNumber int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips = append(f.skips, stageNumber)
}

func (f *fakeEventSink) SessionCompleted(progress domain.SessionProgress) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, progress)
}

func (f *fakeEventSink) SessionEnded(summary domain.SessionSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, summary)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) lastState() stateEvent {
	states := f.snapshotStates()
	if len(states) == 0 {
		return stateEvent{}
	}
	return states[len(states)-1]
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) counts() (stages int, feedback int, skips int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stages), len(f.feedback), len(f.skips)
}
