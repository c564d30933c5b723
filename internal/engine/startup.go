package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that the Engine is reachable and that the generation
// and embedding models are available. Missing models are pulled with
// progress written to w. When warm is true a one-token chat is sent so the
// first real request does not pay the model load time.
func EnsureReady(ctx context.Context, e Engine, chatModel, embedModel string, warm bool, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("model backend is not reachable; start it or check the base URL")
	}

	models := make([]string, 0, 2)
	if chatModel != "" {
		models = append(models, chatModel)
	}
	if embedModel != "" && embedModel != chatModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if warm && chatModel != "" {
		if _, err := e.Chat(ctx, chatModel, []Message{{Role: RoleUser, Content: "ping"}}, nil); err != nil {
			return fmt.Errorf("warming model %s: %w", chatModel, err)
		}
		fmt.Fprintf(w, "model %s: warm\n", chatModel)
	}

	return nil
}
