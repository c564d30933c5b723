package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Engine     EngineConfig
	Gemini     GeminiConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Retrieval  RetrievalConfig
	Pipeline   PipelineConfig
	Tools      ToolsConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int `validate:"min=1,max=65535"`
	APIToken string
}

type EngineConfig struct {
	// Backend selects the generation/embedding provider: gemini or ollama.
	Backend string `validate:"oneof=gemini ollama"`
}

type GeminiConfig struct {
	APIKey     string
	Model      string `validate:"required"`
	EmbedModel string `validate:"required"`
}

type OllamaConfig struct {
	BaseURL    string `validate:"required,url"`
	Model      string `validate:"required"`
	EmbedModel string `validate:"required"`
}

type GenerationConfig struct {
	Timeout     time.Duration `validate:"gt=0"`
	Temperature float64       `validate:"gte=0,lte=2"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type RetrievalConfig struct {
	// StrictSourceMatch admits a chunk only when its normalized source equals
	// a normalized selected source name.
	StrictSourceMatch bool
}

type PipelineConfig struct {
	// ManualGuide appends the manual testing guide stage to the plan.
	ManualGuide bool
}

type ToolsConfig struct {
	ListenerURL string        `validate:"required,url"`
	Timeout     time.Duration `validate:"gt=0"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Engine: EngineConfig{
			Backend: "gemini",
		},
		Gemini: GeminiConfig{
			Model:      "gemini-2.0-flash",
			EmbedModel: "text-embedding-004",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.1",
			EmbedModel: "nomic-embed-text",
		},
		Generation: GenerationConfig{
			Timeout:     90 * time.Second,
			Temperature: 0.3,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Tools: ToolsConfig{
			ListenerURL: "http://192.168.1.100:5000",
			Timeout:     610 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML file backend, a .env file in the
// working directory, and environment variables.
//
// The file lives at $XDG_CONFIG_HOME/cybermentor/config.toml. Environment
// variables (CYBERMENTOR_*, plus GEMINI_API_KEY and KALI_LISTENER_URL) override
// file values. Values already present in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env file: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	cfg.Engine.Backend = strings.ToLower(strings.TrimSpace(cfg.Engine.Backend))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Engine.Backend == "gemini" && cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable GEMINI_API_KEY or CYBERMENTOR_GEMINI_API_KEY, " +
			"or switch to a local backend with engine.backend = \"ollama\"")
	}

	return cfg, nil
}

var validate = validator.New()
