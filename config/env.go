package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yoockh/voicelab/internal/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendXTTS   = "xtts"
	BackendOpenAI = "openai"
	BackendGoogle = "google"
)

type Config struct {
	Port    string
	GinMode string

	DBDriver    string
	DBPath      string
	PostgresURI string

	RedisAddr string

	TranscriptionDir      string
	TranscriptionLanguage string
	VoiceOutputDir        string
	SpeakerWav            string
	TTSLanguage           string
	AssessmentBaseDir     string

	TTSBackend string
	XTTSURL    string
	STTBackend string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	GoogleCredentialsFile string
	AzureSpeechKey        string
	AzureSpeechRegion     string
	GCSBucket             string

	StreamFragmentDelay time.Duration
	InferenceWorkers    int
	InferenceTimeout    time.Duration
	StaleRecordAfter    time.Duration
	SweepSchedule       string
	SystemProbeTTL      time.Duration

	Log logger.Options
}

// Load reads .env (when present) and the process environment into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function so tests can avoid
// touching the real environment.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := &parser{getenv: getenv}

	cfg := &Config{
		Port:    p.str("PORT", "8000"),
		GinMode: p.str("GIN_MODE", ""),

		DBDriver:    strings.ToLower(p.str("DB_DRIVER", DriverSQLite)),
		DBPath:      p.str("DB_PATH", "./db/voiceRecord.sqlite"),
		PostgresURI: p.str("POSTGRES_URI", ""),

		RedisAddr: p.first("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),

		TranscriptionDir:      p.str("TRANSCRIPTION_DIR", "transcriptions"),
		TranscriptionLanguage: p.str("TRANSCRIPTION_LANGUAGE", "en"),
		VoiceOutputDir:        p.str("VOICE_OUTPUT_DIR", "outVoiceFile"),
		SpeakerWav:            p.str("SPEAKER_WAV", "pekora/pekora.wav"),
		TTSLanguage:           p.str("TTS_LANGUAGE", "en"),
		AssessmentBaseDir:     p.str("ASSESSMENT_BASE_DIR", "outVoiceFile"),

		TTSBackend: strings.ToLower(p.str("TTS_BACKEND", BackendXTTS)),
		XTTSURL:    p.str("XTTS_URL", "http://localhost:8020"),
		STTBackend: strings.ToLower(p.str("STT_BACKEND", BackendOpenAI)),

		OpenAIAPIKey:          p.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         p.str("OPENAI_BASE_URL", ""),
		GoogleCredentialsFile: p.str("GOOGLE_APPLICATION_CREDENTIALS", ""),
		AzureSpeechKey:        p.str("AZURE_SPEECH_KEY", ""),
		AzureSpeechRegion:     p.str("AZURE_SPEECH_REGION", ""),
		GCSBucket:             p.str("GCS_BUCKET", ""),

		StreamFragmentDelay: p.duration("STREAM_FRAGMENT_DELAY", 100*time.Millisecond),
		InferenceWorkers:    p.int("INFERENCE_WORKERS", 1),
		InferenceTimeout:    p.duration("INFERENCE_TIMEOUT", 10*time.Minute),
		StaleRecordAfter:    p.duration("STALE_RECORD_AFTER", time.Hour),
		SweepSchedule:       p.str("SWEEP_SCHEDULE", "@every 10m"),
		SystemProbeTTL:      p.duration("SYSTEM_PROBE_TTL", time.Minute),

		Log: logger.Options{
			Level:      p.str("LOG_LEVEL", "info"),
			File:       p.str("LOG_FILE", ""),
			MaxSizeMB:  p.int("LOG_MAX_SIZE_MB", 100),
			MaxBackups: p.int("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: p.int("LOG_MAX_AGE_DAYS", 28),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.PostgresURI == "" {
			return fmt.Errorf("POSTGRES_URI is required when DB_DRIVER=%s", DriverPostgres)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.TTSBackend {
	case BackendXTTS, BackendOpenAI:
	default:
		return fmt.Errorf("unsupported TTS_BACKEND %q", c.TTSBackend)
	}
	switch c.STTBackend {
	case BackendOpenAI, BackendGoogle:
	default:
		return fmt.Errorf("unsupported STT_BACKEND %q", c.STTBackend)
	}
	if c.InferenceWorkers <= 0 {
		return fmt.Errorf("INFERENCE_WORKERS must be > 0, got %d", c.InferenceWorkers)
	}
	return nil
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p.getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
	return d
}
