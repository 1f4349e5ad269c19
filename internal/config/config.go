package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultAPIBase = "https://api.mystrokeapi.uk"

// Config stores runtime configuration for the exercise host.
type Config struct {
	API       APIConfig
	Storage   StorageConfig
	Audio     AudioConfig
	Camera    CameraConfig
	Session   SessionConfig
	MQTT      MQTTConfig
	Metrics   MetricsConfig
	Log       LogConfig
	Exercises ExercisesConfig
}

type APIConfig struct {
	BaseURL       string
	Timeout       time.Duration
	SubmitRetries int
	RetryBackoff  time.Duration
	EndOnComplete bool
}

type StorageConfig struct {
	DBPath string
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	MaxRecord       time.Duration
	// BridgeURL switches capture to a websocket PCM bridge when set.
	BridgeURL string
}

type CameraConfig struct {
	InputFormat string
	InputDevice string
}

type SessionConfig struct {
	GameType     string
	Difficulty   float64
	SkipReveal   time.Duration
	FeedbackHide time.Duration
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Enabled reports whether event publishing was configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type MetricsConfig struct {
	Addr string
}

type LogConfig struct {
	Level  string
	Format string
}

type ExercisesConfig struct {
	Path     string
	Profiles map[string]ExerciseProfile
}

// ExerciseProfile overrides fields of a built-in exercise kind. Unset
// fields keep the built-in value.
type ExerciseProfile struct {
	Threshold    *float64 `yaml:"threshold"`
	PromptText   *string  `yaml:"prompt"`
	PassMessage  *string  `yaml:"pass_message"`
	RetryPrefix  *string  `yaml:"retry_prefix"`
	ErrorMessage *string  `yaml:"error_message"`
	EchoInput    *bool    `yaml:"echo_input"`
	AutoAdvance  *bool    `yaml:"auto_advance"`
	SilentRetry  *bool    `yaml:"silent_retry"`
	FieldName    *string  `yaml:"field_name"`
}

type exercisesFile struct {
	Exercises map[string]ExerciseProfile `yaml:"exercises"`
}

// Load resolves configuration from a .env file, environment variables, the
// exercise profile file and sensible defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "rehabstage")

	cfg := Config{
		API: APIConfig{
			BaseURL:       envOrDefault("STAGE_API_BASE", DefaultAPIBase),
			Timeout:       envOrDefaultMillis("STAGE_API_TIMEOUT_MS", 30000),
			SubmitRetries: envOrDefaultInt("STAGE_SUBMIT_RETRIES", 1),
			RetryBackoff:  envOrDefaultMillis("STAGE_RETRY_BACKOFF_MS", 500),
			EndOnComplete: envOrDefaultBool("STAGE_END_ON_COMPLETE", true),
		},
		Storage: StorageConfig{
			DBPath: envOrDefault("STAGE_DB_PATH", filepath.Join(configDir, "prefs.db")),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("STAGE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("STAGE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("STAGE_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("STAGE_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("STAGE_CHANNELS", 1),
			MaxRecord:  time.Duration(envOrDefaultInt("STAGE_MAX_RECORD_SECONDS", 8)) * time.Second,
			BridgeURL:  strings.TrimSpace(os.Getenv("STAGE_CAPTURE_WS_URL")),
		},
		Camera: CameraConfig{
			InputFormat: envOrDefault("STAGE_CAMERA_INPUT_FORMAT", "v4l2"),
			InputDevice: envOrDefault("STAGE_CAMERA_INPUT_DEVICE", "/dev/video0"),
		},
		Session: SessionConfig{
			GameType:     envOrDefault("STAGE_GAME_TYPE", "phoneme_practice"),
			Difficulty:   envOrDefaultFloat("STAGE_DIFFICULTY", 0.6),
			SkipReveal:   envOrDefaultMillis("STAGE_SKIP_REVEAL_MS", 10000),
			FeedbackHide: envOrDefaultMillis("STAGE_FEEDBACK_HIDE_MS", 3000),
		},
		MQTT: MQTTConfig{
			Broker:      strings.TrimSpace(os.Getenv("STAGE_MQTT_BROKER")),
			ClientID:    envOrDefault("STAGE_MQTT_CLIENT_ID", "rehabstage-"+uuid.NewString()[:8]),
			Username:    strings.TrimSpace(os.Getenv("STAGE_MQTT_USERNAME")),
			Password:    os.Getenv("STAGE_MQTT_PASSWORD"),
			TopicPrefix: envOrDefault("STAGE_MQTT_TOPIC_PREFIX", "rehabstage"),
		},
		Metrics: MetricsConfig{
			Addr: strings.TrimSpace(os.Getenv("STAGE_METRICS_ADDR")),
		},
		Log: LogConfig{
			Level:  envOrDefault("STAGE_LOG_LEVEL", "info"),
			Format: envOrDefault("STAGE_LOG_FORMAT", "text"),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.MaxRecord <= 0 {
		cfg.Audio.MaxRecord = 8 * time.Second
	}
	if cfg.API.SubmitRetries < 0 {
		cfg.API.SubmitRetries = 0
	}

	explicit := strings.TrimSpace(os.Getenv("STAGE_EXERCISES_FILE"))
	cfg.Exercises.Path = firstNonEmpty(explicit, filepath.Join(configDir, "exercises.yaml"))
	profiles, err := loadProfiles(cfg.Exercises.Path, explicit != "")
	if err != nil {
		return Config{}, err
	}
	cfg.Exercises.Profiles = profiles

	return cfg, nil
}

// loadProfiles reads exercise overrides. A missing file is only an error
// when the path was set explicitly.
func loadProfiles(path string, required bool) (map[string]ExerciseProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return map[string]ExerciseProfile{}, nil
		}
		return nil, fmt.Errorf("failed to read exercises file %s: %w", path, err)
	}

	var file exercisesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse exercises file %s: %w", path, err)
	}
	if file.Exercises == nil {
		file.Exercises = map[string]ExerciseProfile{}
	}
	return file.Exercises, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultMillis reads a non-negative millisecond count.
func envOrDefaultMillis(key string, fallback int) time.Duration {
	ms := envOrDefaultInt(key, fallback)
	if ms < 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}
