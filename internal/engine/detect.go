package engine

import (
	"context"
	"fmt"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string // "gemini" or "ollama"
	GeminiAPIKey  string
	OllamaBaseURL string
	Temperature   float64
}

// Detect returns the engine named by cfg.Backend.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "gemini", "":
		return NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.Temperature)
	case "ollama":
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
	}
}
