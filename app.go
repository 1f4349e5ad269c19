package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"rehabstage/internal/bootstrap"
	"rehabstage/internal/domain"
	"rehabstage/internal/events"
	"rehabstage/internal/usecase"
)

const eventPrefix = "rehabstage:"

// App is the Wails application root.
type App struct {
	ctx context.Context

	levelMu    sync.Mutex
	mu         sync.Mutex
	services   *bootstrap.Services
	controller *usecase.ExerciseController
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	emitter := events.NewEmitter(a.emit)

	services, err := bootstrap.Build(emitter, bootstrap.Options{})
	if err != nil {
		a.bootErr = err
		emitter.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services

	if _, err := a.openController(services.GameType()); err != nil {
		services.Logger.Warn("no session restored", "error", err)
	}
}

func (a *App) shutdown(_ context.Context) {
	a.closeController()
	if a.services != nil {
		if err := a.services.Close(); err != nil {
			a.services.Logger.Error("shutdown failed", "error", err)
		}
	}
}

// StartLevel begins a new server session for a level and opens it. The
// difficulty is a preset (easy, normal, hard), a number, or empty for the
// configured default.
func (a *App) StartLevel(levelID string, gameType string, isCustom bool, difficulty string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	threshold, err := a.services.ResolveDifficulty(difficulty)
	if err != nil {
		return domain.Status{}, err
	}

	a.levelMu.Lock()
	defer a.levelMu.Unlock()

	a.closeController()
	if _, err := a.services.StartLevel(a.ctx, levelID, gameType, isCustom, threshold); err != nil {
		if _, reopenErr := a.openController(a.services.GameType()); reopenErr != nil {
			a.services.Logger.Warn("previous session not restored", "error", reopenErr)
		}
		return domain.Status{}, err
	}
	return a.openController(gameType)
}

// StartCapture starts recording an attempt.
func (a *App) StartCapture() (domain.Status, error) {
	return a.act(func(c *usecase.ExerciseController) error { return c.StartCapture(a.ctx) })
}

// StopCapture stops recording and submits the attempt.
func (a *App) StopCapture() (domain.Status, error) {
	return a.act(func(c *usecase.ExerciseController) error { return c.StopCapture(a.ctx) })
}

// Next moves on after a passed attempt.
func (a *App) Next() (domain.Status, error) {
	return a.act(func(c *usecase.ExerciseController) error { return c.Next(a.ctx) })
}

// Skip moves on once the skip control has been revealed.
func (a *App) Skip() (domain.Status, error) {
	return a.act(func(c *usecase.ExerciseController) error { return c.Skip(a.ctx) })
}

// SelectChoice records the answer picked on a multiple-choice stage.
func (a *App) SelectChoice(value string) (domain.Status, error) {
	return a.act(func(c *usecase.ExerciseController) error { return c.SelectChoice(value) })
}

// GetStatus returns the current controller status.
func (a *App) GetStatus() domain.Status {
	controller := a.current()
	if controller == nil {
		return domain.Status{State: domain.SessionStateAwaitingInput}
	}
	return controller.Status()
}

// ListLevels returns the playable levels of a game type.
func (a *App) ListLevels(gameType string) ([]domain.Level, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Client.ListLevels(a.ctx, gameType)
}

// SetToken stores the bearer token used for API calls.
func (a *App) SetToken(token string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Store.SetToken(token)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	levelID, _ := a.services.Store.Level()
	difficulty := cfg.Session.Difficulty
	if progress := a.services.Store.LoadProgress(); progress.SessionID != "" {
		difficulty = progress.Difficulty
	}
	return map[string]string{
		"apiBase":          cfg.API.BaseURL,
		"gameType":         a.services.GameType(),
		"levelId":          levelID,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"camera":           cfg.Camera.InputDevice,
		"difficulty":       strconv.FormatFloat(difficulty, 'f', 2, 64),
		"authenticated":    strconv.FormatBool(a.services.Store.Token() != ""),
	}
}

func (a *App) openController(gameType string) (domain.Status, error) {
	controller, err := a.services.NewController(gameType)
	if err != nil {
		return domain.Status{}, err
	}

	a.mu.Lock()
	previous := a.controller
	a.controller = controller
	a.mu.Unlock()
	if previous != nil {
		previous.Close()
	}

	if _, err := controller.Open(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return controller.Status(), nil
}

func (a *App) closeController() {
	a.mu.Lock()
	controller := a.controller
	a.controller = nil
	a.mu.Unlock()

	if controller != nil {
		controller.Close()
	}
}

func (a *App) act(fn func(*usecase.ExerciseController) error) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	controller := a.current()
	if controller == nil {
		return domain.Status{}, errNoLevel
	}
	if err := fn(controller); err != nil {
		return controller.Status(), err
	}
	return controller.Status(), nil
}

var errNoLevel = errors.New("no level has been started")

func (a *App) current() *usecase.ExerciseController {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controller
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// emit forwards controller events to the frontend.
func (a *App) emit(event events.Event) {
	if a.ctx == nil {
		return
	}
	if event.Type == events.TypeState && event.Detail == "" {
		event.Detail = reasonMessage(event.Reason)
	}
	if event.Type == events.TypeError && event.Detail == "" {
		event.Detail = errorMessage(event.Code)
	}
	runtime.EventsEmit(a.ctx, eventPrefix+event.Type, event)
}

func reasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonStageLoaded:
		return "Stage ready"
	case domain.SessionReasonNoStages:
		return "No stages to play"
	case domain.SessionReasonRecordingStarted:
		return "Recording started"
	case domain.SessionReasonSubmitting:
		return "Checking your answer..."
	case domain.SessionReasonPassed:
		return "Passed"
	case domain.SessionReasonFailed:
		return "Try again"
	case domain.SessionReasonSubmissionFailed:
		return "Submission failed"
	case domain.SessionReasonFeedbackHidden:
		return "Ready for another attempt"
	case domain.SessionReasonCaptureUnavailable:
		return "Capture device unavailable"
	case domain.SessionReasonAdvanced:
		return "Next stage"
	case domain.SessionReasonSkipped:
		return "Stage skipped"
	case domain.SessionReasonCompleted:
		return "Session complete"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCaptureUnavailable:
		return "Capture device unavailable"
	case domain.ErrorCodeCaptureStop:
		return "Capture stop issue"
	case domain.ErrorCodeTransport:
		return "Assessment service unreachable"
	case domain.ErrorCodeResponseDecode:
		return "Unexpected assessment response"
	case domain.ErrorCodePersistence:
		return "Saved session is damaged"
	default:
		return "Unknown error"
	}
}
