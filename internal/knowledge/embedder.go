package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
)

// Embedding turns text into vectors. Queries and documents are separate so
// implementations can cache the former.
type Embedding interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder wraps an Engine to generate text embeddings. Query vectors are
// cached because the retriever embeds the same query once per search.
type Embedder struct {
	engine  engine.Engine
	model   string
	queries *cache.Cache
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{
		engine:  e,
		model:   model,
		queries: cache.New(10*time.Minute, 20*time.Minute),
	}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.queries.Get(text); ok {
		return v.([]float32), nil
	}
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	e.queries.Set(text, vec, cache.DefaultExpiration)
	return vec, nil
}

// EmbedDocuments returns embedding vectors for multiple texts concurrently,
// in input order. Returns nil (not error) for empty input.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
