package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiEngine implements Engine on the Gemini API.
type GeminiEngine struct {
	client      *genai.Client
	temperature float32
}

// NewGeminiEngine creates a Gemini-backed engine.
func NewGeminiEngine(ctx context.Context, apiKey string, temperature float64) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client, temperature: float32(temperature)}, nil
}

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature: ptr(e.temperature),
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if jsonSchema != nil {
		config.Temperature = ptr(float32(0))
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGenaiSchema(jsonSchema)
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: text}}}}
	resp, err := e.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embeddings in response")
	}
	return resp.Embeddings[0].Values, nil
}

// IsRunning reports true once a client exists; the hosted API has no cheap
// liveness probe and failures surface on the first real call.
func (e *GeminiEngine) IsRunning(_ context.Context) bool {
	return e.client != nil
}

func (e *GeminiEngine) ListModels(ctx context.Context) ([]string, error) {
	page, err := e.client.Models.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini list models: %w", err)
	}
	names := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

// HasModel always reports true: hosted models are not installed locally.
func (e *GeminiEngine) HasModel(_ context.Context, _ string) bool {
	return true
}

// PullModel is a no-op for hosted models.
func (e *GeminiEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return nil
}

func toGenaiSchema(s *Schema) *genai.Schema {
	out := &genai.Schema{
		Type:       genaiType(s.Type),
		Required:   s.Required,
		Properties: make(map[string]*genai.Schema, len(s.Properties)),
	}
	for name, p := range s.Properties {
		out.Properties[name] = toGenaiProperty(p)
	}
	return out
}

func toGenaiProperty(p SchemaProperty) *genai.Schema {
	prop := &genai.Schema{Type: genaiType(p.Type), Description: p.Description}
	if prop.Type == genai.TypeArray {
		prop.Items = toGenaiProperty(itemsOf(p))
	}
	return prop
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func ptr[T any](v T) *T { return &v }
