package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrGeneration is returned when the backend fails or returns no text.
	ErrGeneration = errors.New("generation failed")
	// ErrTimeout is returned when a generation exceeds its deadline.
	ErrTimeout = errors.New("generation timed out")
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TextGenerator runs single-prompt generations against one model with a
// per-call timeout.
type TextGenerator struct {
	engine  Engine
	model   string
	timeout time.Duration
}

func NewTextGenerator(e Engine, model string, timeout time.Duration) *TextGenerator {
	return &TextGenerator{engine: e, model: model, timeout: timeout}
}

func (g *TextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.GenerateJSON(ctx, prompt, nil)
}

// GenerateJSON is Generate with structured output constrained to schema.
// A nil schema requests free text.
func (g *TextGenerator) GenerateJSON(ctx context.Context, prompt string, schema *Schema) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.engine.Chat(ctx, g.model, []Message{{Role: RoleUser, Content: prompt}}, schema)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("model %s: %w: %w", g.model, ErrTimeout, err)
		}
		return "", fmt.Errorf("model %s: %w: %w", g.model, ErrGeneration, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("model %s: %w: empty response", g.model, ErrGeneration)
	}
	return out, nil
}
