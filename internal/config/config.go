package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	BackendFile     = "file"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	HTTP        HTTPConfig
	OpenRouter  OpenRouterConfig `env-prefix:"OPENROUTER_"`
	Groq        GroqConfig       `env-prefix:"GROQ_"`
	ParamPrefix string           `env:"PARAM_PREFIX"`
	Storage     StorageConfig    `env-prefix:"STORAGE_"`
	Share       ShareConfig
	Sweep       SweepConfig    `env-prefix:"SWEEP_"`
	Engine      EngineConfig   `env-prefix:"ENGINE_"`
	Playback    PlaybackConfig `env-prefix:"PLAYBACK_"`
	Nonce       NonceConfig    `env-prefix:"NONCE_"`
	Log         LogConfig      `env-prefix:"LOG_"`
}

type HTTPConfig struct {
	Addr           string   `env:"HTTP_ADDR" env-default:":8080"`
	PublicBaseURL  string   `env:"PUBLIC_BASE_URL" env-default:"http://localhost:8080"`
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS" env-separator:"," env-default:"*"`
}

type OpenRouterConfig struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL" env-default:"https://openrouter.ai/api/v1"`
	Referer string `env:"REFERER"`
	Title   string `env:"TITLE" env-default:"AI Talks"`
}

type GroqConfig struct {
	APIKey    string `env:"API_KEY"`
	BaseURL   string `env:"BASE_URL" env-default:"https://api.groq.com/openai/v1"`
	TTSModel  string `env:"TTS_MODEL" env-default:"playai-tts"`
	TTSFormat string `env:"TTS_FORMAT" env-default:"wav"`
	STTModel  string `env:"STT_MODEL" env-default:"whisper-large-v3"`
}

type StorageConfig struct {
	Backend string `env:"BACKEND" env-default:"file"`
	Dir     string `env:"DIR" env-default:"data"`
	Table   string `env:"TABLE"`
}

type ShareConfig struct {
	TTL time.Duration `env:"SHARE_TTL" env-default:"720h"`
}

type SweepConfig struct {
	Retention time.Duration `env:"RETENTION" env-default:"24h"`
	// Interval of the in-process sweep; zero disables it.
	Interval time.Duration `env:"INTERVAL" env-default:"1h"`
}

type EngineConfig struct {
	ThinkingMin   time.Duration `env:"THINKING_MIN" env-default:"1s"`
	ThinkingMax   time.Duration `env:"THINKING_MAX" env-default:"3s"`
	SpeechPause   time.Duration `env:"SPEECH_PAUSE" env-default:"1500ms"`
	TurnPause     time.Duration `env:"TURN_PAUSE" env-default:"1s"`
	HistoryWindow int           `env:"HISTORY_WINDOW" env-default:"10"`
	MaxTokens     int           `env:"MAX_TOKENS" env-default:"300"`
	Temperature   float32       `env:"TEMPERATURE" env-default:"0.7"`
	EndMarker     string        `env:"END_MARKER" env-default:"#END#"`
	MaxTurns      int           `env:"MAX_TURNS" env-default:"0"`
}

type PlaybackConfig struct {
	FailSafe time.Duration `env:"FAILSAFE" env-default:"60s"`
}

type NonceConfig struct {
	TTL time.Duration `env:"TTL" env-default:"10m"`
}

type LogConfig struct {
	Level string `env:"LEVEL" env-default:"info"`
	File  string `env:"FILE"`
	JSON  bool   `env:"JSON" env-default:"false"`
}

// Load reads the optional dotenv files (".env" when none are given), then
// the environment. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load dotenv: %w", err)
	}
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			errs = append(errs, errors.New("STORAGE_DIR must not be empty"))
		}
	case BackendDynamoDB:
		if strings.TrimSpace(c.Storage.Table) == "" {
			errs = append(errs, errors.New("STORAGE_TABLE is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if c.Engine.ThinkingMin < 0 || c.Engine.ThinkingMax < c.Engine.ThinkingMin {
		errs = append(errs, errors.New("ENGINE_THINKING_MAX must be at least ENGINE_THINKING_MIN"))
	}
	if c.Engine.MaxTurns < 0 {
		errs = append(errs, errors.New("ENGINE_MAX_TURNS must not be negative"))
	}
	if c.Share.TTL <= 0 {
		errs = append(errs, errors.New("SHARE_TTL must be positive"))
	}
	if c.Sweep.Retention <= 0 {
		errs = append(errs, errors.New("SWEEP_RETENTION must be positive"))
	}
	if c.Nonce.TTL <= 0 {
		errs = append(errs, errors.New("NONCE_TTL must be positive"))
	}
	if u, err := url.Parse(c.HTTP.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q is not an absolute URL", c.HTTP.PublicBaseURL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
