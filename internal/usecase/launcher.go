package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
	"rehabstage/internal/stagestore"
)

// LevelLauncher bootstraps a server session for a level and persists it so
// an ExerciseController can open it.
type LevelLauncher struct {
	sessions ports.SessionService
	store    *stagestore.Store
	logger   *slog.Logger
}

func NewLevelLauncher(sessions ports.SessionService, store *stagestore.Store, logger *slog.Logger) *LevelLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LevelLauncher{sessions: sessions, store: store, logger: logger}
}

// Start replaces any persisted session with a new one for levelID.
func (l *LevelLauncher) Start(ctx context.Context, levelID string, isCustom bool, difficulty float64) (domain.SessionProgress, error) {
	levelID = strings.TrimSpace(levelID)
	if levelID == "" {
		return domain.SessionProgress{}, fmt.Errorf("level id is required")
	}

	start, err := l.sessions.StartSession(ctx, levelID, isCustom)
	if err != nil {
		return domain.SessionProgress{}, fmt.Errorf("failed to start session for level %s: %w", levelID, err)
	}

	progress, err := l.store.BeginSession(start, difficulty)
	if err != nil {
		return progress, fmt.Errorf("failed to persist session %s: %w", start.SessionID, err)
	}

	l.logger.Info("session started",
		"level_id", levelID,
		"session_id", progress.SessionID,
		"stages", len(start.Stages),
		"difficulty", progress.Difficulty,
	)
	return progress, nil
}
