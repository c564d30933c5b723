package engine

import "context"

// Engine is a model backend: hosted Gemini or a local Ollama server.
type Engine interface {
	// Chat returns the model's reply. A non-nil jsonSchema requests a JSON
	// object of that shape.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	// PullModel downloads a model; hosted backends treat it as a no-op.
	// onProgress may be nil.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
