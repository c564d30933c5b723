package engine

import (
	"context"

	"github.com/kalambet/cybermentor/internal/ollama"
)

// OllamaEngine runs chat and embeddings on a local Ollama server.
type OllamaEngine struct {
	client      *ollama.Client
	temperature float64
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string, temperature float64) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL), temperature: temperature}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	temp := e.temperature
	if jsonSchema != nil {
		// Structured calls are planning calls; keep them deterministic.
		temp = 0
	}
	return e.client.Chat(ctx, model, msgs, toOllamaSchema(jsonSchema), ollama.ChatOptions{Temperature: &temp})
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{
		Type:       s.Type,
		Required:   s.Required,
		Properties: make(map[string]ollama.SchemaProperty, len(s.Properties)),
	}
	for name, p := range s.Properties {
		out.Properties[name] = toOllamaProperty(p)
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	prop := ollama.SchemaProperty{Type: p.Type, Description: p.Description}
	if p.Type == "array" {
		items := toOllamaProperty(itemsOf(p))
		prop.Items = &items
	}
	return prop
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return e.client.Embed(ctx, model, text)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
