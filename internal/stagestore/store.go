package stagestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"rehabstage/internal/domain"
	"rehabstage/internal/ports"
)

// Persisted keys shared with other screens of the host application.
const (
	KeySessionID   = "sessionId"
	KeyStageNumber = "stageNumber"
	KeyStageData   = "stageData"
	KeyDifficulty  = "difficulty"
	KeyLevelID     = "levelId"
	KeyGameType    = "gameType"
	KeyAuthToken   = "authToken"
)

// DefaultDifficulty is the threshold used when none has been persisted.
const DefaultDifficulty = 0.6

// Difficulty presets offered when a level is picked.
const (
	DifficultyEasy   = 0.5
	DifficultyNormal = 0.7
	DifficultyHard   = 0.9
)

type stageBlob struct {
	Stages domain.StageList `json:"stages"`
}

// Store maps stage lists and session progress onto a key-value store.
type Store struct {
	kv     ports.KeyValueStore
	logger *slog.Logger
}

func New(kv ports.KeyValueStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, logger: logger}
}

// Load reads the persisted stage list. An absent blob is an empty list. A
// malformed blob is also an empty list, reported as a
// *domain.PersistenceCorruptError so callers can surface it.
func (s *Store) Load() (domain.StageList, error) {
	raw, ok := s.get(KeyStageData)
	if !ok || strings.TrimSpace(raw) == "" {
		return domain.StageList{}, nil
	}

	var blob stageBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		corrupt := &domain.PersistenceCorruptError{Key: KeyStageData, Err: err}
		s.logger.Warn("stage data unreadable, treating as empty", "error", corrupt)
		return domain.StageList{}, corrupt
	}
	if blob.Stages == nil {
		return domain.StageList{}, nil
	}
	return blob.Stages, nil
}

// Save replaces the persisted stage list.
func (s *Store) Save(list domain.StageList) error {
	if list == nil {
		list = domain.StageList{}
	}
	payload, err := json.Marshal(stageBlob{Stages: list})
	if err != nil {
		return fmt.Errorf("failed to encode stage data: %w", err)
	}
	return s.kv.Set(KeyStageData, string(payload))
}

// CurrentStage resolves progress.CurrentStageNumber by number. An unmatched
// number falls back to the first stage. It reports false only for an empty
// list.
func (s *Store) CurrentStage(list domain.StageList, progress domain.SessionProgress) (domain.Stage, bool) {
	if len(list) == 0 {
		return domain.Stage{}, false
	}
	if idx := list.IndexOf(progress.CurrentStageNumber); idx >= 0 {
		return list[idx], true
	}
	s.logger.Warn("stage number not in stage list, falling back to first stage",
		"stage_number", progress.CurrentStageNumber,
		"fallback", list[0].Number,
	)
	return list[0], true
}

// Advance moves progress to the stage after the current one by list order
// and persists the new stage number. Past the last stage the number is set
// beyond every stage in the list and done is true.
func (s *Store) Advance(list domain.StageList, progress domain.SessionProgress) (domain.SessionProgress, bool, error) {
	if len(list) == 0 {
		return progress, true, nil
	}

	current, _ := s.CurrentStage(list, progress)
	idx := list.IndexOf(current.Number)

	next := progress
	done := idx+1 >= len(list)
	if done {
		next.CurrentStageNumber = pastEnd(list)
	} else {
		next.CurrentStageNumber = list[idx+1].Number
	}

	if err := s.kv.Set(KeyStageNumber, strconv.Itoa(next.CurrentStageNumber)); err != nil {
		return next, done, fmt.Errorf("failed to persist stage number: %w", err)
	}
	return next, done, nil
}

// IsComplete reports whether progress sits past every stage of the list,
// which is where Advance leaves it after the last stage.
func (s *Store) IsComplete(list domain.StageList, progress domain.SessionProgress) bool {
	return len(list) > 0 && progress.CurrentStageNumber >= pastEnd(list)
}

func pastEnd(list domain.StageList) int {
	highest := list[0].Number
	for _, stage := range list[1:] {
		if stage.Number > highest {
			highest = stage.Number
		}
	}
	return highest + 1
}

// LoadProgress reads the session cursor. Missing or malformed values fall
// back to an empty session id, stage 0 and the default difficulty.
func (s *Store) LoadProgress() domain.SessionProgress {
	progress := domain.SessionProgress{Difficulty: DefaultDifficulty}

	if id, ok := s.get(KeySessionID); ok {
		progress.SessionID = strings.TrimSpace(id)
	}
	if raw, ok := s.get(KeyStageNumber); ok {
		number, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			s.logger.Warn("stage number unreadable, using 0", "error", &domain.PersistenceCorruptError{Key: KeyStageNumber, Err: err})
		} else {
			progress.CurrentStageNumber = number
		}
	}
	if raw, ok := s.get(KeyDifficulty); ok {
		difficulty, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			s.logger.Warn("difficulty unreadable, using default", "error", &domain.PersistenceCorruptError{Key: KeyDifficulty, Err: err})
		} else {
			progress.Difficulty = ClampDifficulty(difficulty)
		}
	}
	return progress
}

// SaveProgress writes every field of the cursor.
func (s *Store) SaveProgress(progress domain.SessionProgress) error {
	var errs []error
	if err := s.kv.Set(KeySessionID, progress.SessionID); err != nil {
		errs = append(errs, err)
	}
	if err := s.kv.Set(KeyStageNumber, strconv.Itoa(progress.CurrentStageNumber)); err != nil {
		errs = append(errs, err)
	}
	difficulty := strconv.FormatFloat(ClampDifficulty(progress.Difficulty), 'f', -1, 64)
	if err := s.kv.Set(KeyDifficulty, difficulty); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to persist session progress: %w", err)
	}
	return nil
}

// BeginSession replaces any previous session with a freshly bootstrapped
// one positioned on its first stage.
func (s *Store) BeginSession(start domain.SessionStart, difficulty float64) (domain.SessionProgress, error) {
	progress := domain.SessionProgress{
		SessionID:  start.SessionID,
		Difficulty: ClampDifficulty(difficulty),
	}
	if len(start.Stages) > 0 {
		progress.CurrentStageNumber = start.Stages[0].Number
	}

	if err := s.Save(start.Stages); err != nil {
		return progress, err
	}
	if err := s.SaveProgress(progress); err != nil {
		return progress, err
	}
	return progress, nil
}

// Reset forgets the active session. The auth token and level selection are kept.
func (s *Store) Reset() error {
	var errs []error
	for _, key := range []string{KeySessionID, KeyStageNumber, KeyStageData, KeyDifficulty} {
		if err := s.kv.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	return nil
}

// Token returns the persisted bearer token, or "" when none is stored.
func (s *Store) Token() string {
	token, _ := s.get(KeyAuthToken)
	return strings.TrimSpace(token)
}

func (s *Store) SetToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return s.kv.Delete(KeyAuthToken)
	}
	return s.kv.Set(KeyAuthToken, strings.TrimSpace(token))
}

// Level returns the last selected level id and game type.
func (s *Store) Level() (levelID string, gameType string) {
	levelID, _ = s.get(KeyLevelID)
	gameType, _ = s.get(KeyGameType)
	return levelID, gameType
}

func (s *Store) SetLevel(levelID string, gameType string) error {
	if err := s.kv.Set(KeyLevelID, levelID); err != nil {
		return err
	}
	return s.kv.Set(KeyGameType, gameType)
}

// ClampDifficulty bounds a threshold to [0,1]. NaN becomes the default.
func ClampDifficulty(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return DefaultDifficulty
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ParseDifficulty accepts a preset name (easy, normal, hard) or a number
// and returns the clamped threshold.
func ParseDifficulty(raw string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "easy":
		return DifficultyEasy, nil
	case "normal":
		return DifficultyNormal, nil
	case "hard":
		return DifficultyHard, nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) {
		return 0, fmt.Errorf("invalid difficulty %q: use easy, normal, hard or a number between 0 and 1", raw)
	}
	return ClampDifficulty(value), nil
}

func (s *Store) get(key string) (string, bool) {
	value, ok, err := s.kv.Get(key)
	if err != nil {
		s.logger.Warn("preference read failed", "key", key, "error", err)
		return "", false
	}
	return value, ok
}
