package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/composer"
	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/logging"
)

// Result is a classification outcome. Label is the trimmed model output.
type Result struct {
	Intent Intent
	Label  string
}

// Classifier labels requests with one generation call.
type Classifier struct {
	gen    engine.Generator
	logger *zap.Logger
}

func NewClassifier(gen engine.Generator, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{gen: gen, logger: logger}
}

// Classify asks the model for a label. Generation errors are returned; an
// unrecognized label is not an error and yields Unknown.
func (c *Classifier) Classify(ctx context.Context, userInput string, history []Turn) (Result, error) {
	prompt, err := composer.Render(composer.Router, map[string]string{
		"user_input":   userInput,
		"chat_history": FormatHistory(history),
	})
	if err != nil {
		return Result{}, err
	}

	raw, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("classifying request: %w", err)
	}

	label := trimLabel(raw)
	res := Result{Intent: ParseIntent(label), Label: label}
	if res.Intent == Unknown {
		c.logger.Warn("unrecognized intent label", zap.String("label", logging.Excerpt(label, 80)))
	}
	return res, nil
}

// trimLabel strips whitespace and the markdown decoration models tend to
// wrap a bare label in.
func trimLabel(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), "`*\"' \n\t.")
}
