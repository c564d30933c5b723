package ingest

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/composer"
)

const maxSuggestedQuestions = 5

// summarize asks the generator for a short summary of text. Failures are
// logged and yield an empty summary so indexing still succeeds.
func (w *Worker) summarize(ctx context.Context, source, text string) string {
	out, err := w.describe(ctx, composer.SourceSummary, source, text)
	if err != nil {
		w.logger.Warn("source summary failed", zap.String("source", source), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}

// suggestQuestions asks the generator for starter questions about text.
// Failures are logged and yield no questions.
func (w *Worker) suggestQuestions(ctx context.Context, source, text string) []string {
	out, err := w.describe(ctx, composer.SuggestedQuestions, source, text)
	if err != nil {
		w.logger.Warn("suggested questions failed", zap.String("source", source), zap.Error(err))
		return nil
	}
	return parseQuestions(out)
}

func (w *Worker) describe(ctx context.Context, prompt composer.Prompt, source, text string) (string, error) {
	if w.gen == nil {
		return "", nil
	}
	rendered, err := composer.Render(prompt, map[string]string{
		"source":   source,
		"document": composer.Document(text),
	})
	if err != nil {
		return "", err
	}
	return w.gen.Generate(ctx, rendered)
}

// parseQuestions reads one question per line, dropping list markers and
// lines too short to be a question.
func parseQuestions(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		q := strings.TrimLeft(strings.TrimSpace(line), "0123456789.-*) ")
		q = strings.TrimSpace(strings.TrimPrefix(q, "Q:"))
		if len(q) <= 10 {
			continue
		}
		if !strings.HasSuffix(q, "?") {
			q += "?"
		}
		out = append(out, q)
		if len(out) == maxSuggestedQuestions {
			break
		}
	}
	return out
}
