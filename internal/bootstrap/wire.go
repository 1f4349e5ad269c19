package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"rehabstage/internal/assessment"
	"rehabstage/internal/audio"
	"rehabstage/internal/camera"
	"rehabstage/internal/config"
	"rehabstage/internal/domain"
	"rehabstage/internal/events"
	"rehabstage/internal/logging"
	"rehabstage/internal/metrics"
	"rehabstage/internal/ports"
	"rehabstage/internal/prefs"
	"rehabstage/internal/stagestore"
	"rehabstage/internal/usecase"
)

type kvStore interface {
	ports.KeyValueStore
	Keys() ([]string, error)
	Close() error
}

// Services is the assembled runtime graph.
type Services struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    *stagestore.Store
	Client   *assessment.Client
	Launcher *usecase.LevelLauncher
	Metrics  *metrics.Recorder
	Events   ports.EventSink

	kv     kvStore
	audio  ports.CaptureDevice
	camera ports.CaptureDevice
	cancel context.CancelFunc
	closer []func() error
}

// Options tune Build for the host it runs in.
type Options struct {
	LogOutput io.Writer
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink, opts Options) (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.New(out, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	kv, err := openStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Services{
		Config:  cfg,
		Logger:  logger,
		Store:   stagestore.New(kv, logger),
		Metrics: metrics.NewRecorder(),
		kv:      kv,
		cancel:  cancel,
		closer:  []func() error{kv.Close},
	}
	s.Client = assessment.NewClient(assessment.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Token:   s.Store.Token,
	})
	s.Launcher = usecase.NewLevelLauncher(s.Client, s.Store, logger)
	s.camera = camera.NewFFMPEGFrameCapture(cfg.Audio.RecorderCommand)
	if cfg.Audio.BridgeURL != "" {
		s.audio = audio.NewWebsocketCapture(cfg.Audio.BridgeURL)
	} else {
		s.audio = audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand)
	}

	sinks := []ports.EventSink{eventSink}
	if cfg.MQTT.Enabled() {
		sink, err := events.ConnectMQTT(events.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger, s.Metrics)
		if err != nil {
			logger.Warn("event publishing disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			sinks = append(sinks, sink)
			s.closer = append(s.closer, func() error { sink.Close(); return nil })
		}
	}
	s.Events = events.Fanout(sinks...)

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := s.Metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics listener stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	return s, nil
}

func openStore(path string) (kvStore, error) {
	if path == "" {
		return prefs.NewMemoryStore(), nil
	}
	store, err := prefs.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences store: %w", err)
	}
	return store, nil
}

// NewController builds a controller for a game type, applying any
// configured profile on top of the built-in exercise.
func (s *Services) NewController(gameType string) (*usecase.ExerciseController, error) {
	exercise, err := usecase.LookupExercise(gameType)
	if err != nil {
		return nil, err
	}
	if profile, ok := s.Config.Exercises.Profiles[exercise.Name]; ok {
		exercise = applyProfile(exercise, profile)
	}

	return usecase.NewExerciseController(exercise, usecase.Dependencies{
		Audio:     s.audio,
		Camera:    s.camera,
		Submitter: s.Client,
		Sessions:  s.Client,
		Store:     s.Store,
		Events:    s.Events,
		Telemetry: s.Metrics,
		Logger:    s.Logger.With("game_type", exercise.Name),
	}, s.controllerConfig()), nil
}

func (s *Services) controllerConfig() usecase.Config {
	cfg := s.Config
	return usecase.Config{
		AudioCapture: ports.CaptureConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			MaxDuration: cfg.Audio.MaxRecord,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		FrameCapture: ports.CaptureConfig{
			InputFormat: cfg.Camera.InputFormat,
			InputDevice: cfg.Camera.InputDevice,
		},
		SkipReveal:    cfg.Session.SkipReveal,
		FeedbackHide:  cfg.Session.FeedbackHide,
		SubmitRetries: cfg.API.SubmitRetries,
		RetryBackoff:  cfg.API.RetryBackoff,
		EndOnComplete: cfg.API.EndOnComplete,
		EndTimeout:    cfg.API.Timeout,
	}
}

// StartLevel bootstraps a session for levelID at the given difficulty and
// remembers the level and game type it belongs to. Controllers still open on
// the previous session must be closed before calling it.
func (s *Services) StartLevel(ctx context.Context, levelID string, gameType string, isCustom bool, difficulty float64) (domain.SessionProgress, error) {
	if _, err := usecase.LookupExercise(gameType); err != nil {
		return domain.SessionProgress{}, err
	}
	progress, err := s.Launcher.Start(ctx, levelID, isCustom, difficulty)
	if err != nil {
		return progress, err
	}
	if err := s.Store.SetLevel(strings.TrimSpace(levelID), gameType); err != nil {
		s.Logger.Warn("failed to persist level", "level_id", levelID, "error", err)
	}
	return progress, nil
}

// ResolveDifficulty parses a preset or numeric difficulty. An empty value
// selects the configured default.
func (s *Services) ResolveDifficulty(raw string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return stagestore.ClampDifficulty(s.Config.Session.Difficulty), nil
	}
	return stagestore.ParseDifficulty(raw)
}

// StoredKeys lists the preference keys currently persisted.
func (s *Services) StoredKeys() ([]string, error) {
	return s.kv.Keys()
}

// GameType returns the persisted game type, or the configured default.
func (s *Services) GameType() string {
	if _, gameType := s.Store.Level(); gameType != "" {
		return gameType
	}
	return s.Config.Session.GameType
}

// Close stops background listeners and releases the store.
func (s *Services) Close() error {
	s.cancel()
	var errs []error
	for i := len(s.closer) - 1; i >= 0; i-- {
		if err := s.closer[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func applyProfile(exercise usecase.Exercise, profile config.ExerciseProfile) usecase.Exercise {
	if profile.Threshold != nil {
		threshold := stagestore.ClampDifficulty(*profile.Threshold)
		exercise.Threshold = &threshold
	}
	if profile.PromptText != nil {
		exercise.PromptText = *profile.PromptText
	}
	if profile.PassMessage != nil {
		exercise.PassMessage = *profile.PassMessage
	}
	if profile.RetryPrefix != nil {
		exercise.RetryPrefix = *profile.RetryPrefix
	}
	if profile.ErrorMessage != nil {
		exercise.ErrorMessage = *profile.ErrorMessage
	}
	if profile.EchoInput != nil {
		exercise.EchoInput = *profile.EchoInput
	}
	if profile.AutoAdvance != nil {
		exercise.AutoAdvance = *profile.AutoAdvance
	}
	if profile.SilentRetry != nil {
		exercise.SilentRetry = *profile.SilentRetry
	}
	if profile.FieldName != nil {
		exercise.FieldName = *profile.FieldName
	}
	return exercise
}
