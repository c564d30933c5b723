package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	aliases []string // additional env names, checked after env
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CYBERMENTOR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CYBERMENTOR_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "engine.backend", typ: kString, env: "CYBERMENTOR_ENGINE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Backend },
	},
	{
		key: "gemini.api_key", typ: kString, env: "CYBERMENTOR_GEMINI_API_KEY",
		aliases: []string{"GEMINI_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKey },
	},
	{
		key: "gemini.model", typ: kString, env: "CYBERMENTOR_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.embed_model", typ: kString, env: "CYBERMENTOR_GEMINI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.EmbedModel },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CYBERMENTOR_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "CYBERMENTOR_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "CYBERMENTOR_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "CYBERMENTOR_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "CYBERMENTOR_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CYBERMENTOR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "retrieval.strict_source_match", typ: kBool, env: "CYBERMENTOR_RETRIEVAL_STRICT_SOURCE_MATCH",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.StrictSourceMatch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Retrieval.StrictSourceMatch },
	},
	{
		key: "pipeline.manual_guide", typ: kBool, env: "CYBERMENTOR_PIPELINE_MANUAL_GUIDE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.ManualGuide = v.(bool) },
		extract: func(cfg Config) any { return cfg.Pipeline.ManualGuide },
	},
	{
		key: "tools.listener_url", typ: kString, env: "CYBERMENTOR_TOOLS_LISTENER_URL",
		aliases: []string{"KALI_LISTENER_URL"},
		apply:   func(cfg *Config, v any) { cfg.Tools.ListenerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Tools.ListenerURL },
	},
	{
		key: "tools.timeout", typ: kDuration, env: "CYBERMENTOR_TOOLS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Tools.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tools.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "CYBERMENTOR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "CYBERMENTOR_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

// applyBackend copies file values into cfg. Secrets are skipped; they are
// only read from the environment.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			if parsed, err := parseValue(s.typ, v); err == nil {
				s.apply(cfg, parsed)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := lookupEnv(s)
		if raw == "" {
			continue
		}
		parsed, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, parsed)
	}
}

func lookupEnv(s keySpec) (string, string) {
	if s.env != "" {
		if raw := os.Getenv(s.env); raw != "" {
			return s.env, raw
		}
	}
	for _, alias := range s.aliases {
		if raw := os.Getenv(alias); raw != "" {
			return alias, raw
		}
	}
	return s.env, ""
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
