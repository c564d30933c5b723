// Package ollama is a thin wrapper over the official Ollama API client that
// exposes the handful of calls cybermentor needs.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Message represents a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// PullProgress reports download progress for a model pull.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// ChatOptions tunes a single chat call.
type ChatOptions struct {
	Temperature *float64
}

// Client communicates with an Ollama server.
type Client struct {
	api *api.Client
}

// New creates a Client targeting the given Ollama base URL. An unparsable URL
// falls back to the default local address.
func New(baseURL string) *Client {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" {
		u = &url.URL{Scheme: "http", Host: "localhost:11434"}
	}
	return &Client{api: api.NewClient(u, &http.Client{})}
}

// IsRunning reports whether the server answers a model listing within 2s.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c.api.List(ctx)
	return err == nil
}

// ListModels returns the names of all locally available models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, wrapError("listing models", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HasModel reports whether name is installed, accepting an implicit ":latest" tag.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || m == name+":latest" || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

// PullModel downloads a model, reporting progress through onProgress.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	err := c.api.Pull(ctx, &api.PullRequest{Model: name}, func(p api.ProgressResponse) error {
		if onProgress != nil {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
		return nil
	})
	if err != nil {
		return wrapError("pulling model "+name, err)
	}
	return nil
}

// Chat sends a non-streaming chat request. When jsonSchema is non-nil the
// model is constrained to emit JSON matching it.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema, opts ChatOptions) (string, error) {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
	}
	if jsonSchema != nil {
		format, err := json.Marshal(jsonSchema)
		if err != nil {
			return "", fmt.Errorf("marshalling schema: %w", err)
		}
		req.Format = format
	}
	if opts.Temperature != nil {
		req.Options = map[string]any{"temperature": *opts.Temperature}
	}

	var sb strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", wrapError("chat", err)
	}
	return sb.String(), nil
}

// Embed returns the embedding for a single text.
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, wrapError("embed", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings in response")
	}
	return resp.Embeddings[0], nil
}

func wrapError(op string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("ollama %s: status %d: %w", op, statusErr.StatusCode, err)
	}
	return fmt.Errorf("ollama %s: %w", op, err)
}
