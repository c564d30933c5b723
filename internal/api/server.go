// Package api exposes the assistant over HTTP and MCP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/ingest"
	"github.com/kalambet/cybermentor/internal/retrieval"
	"github.com/kalambet/cybermentor/internal/router"
	"github.com/kalambet/cybermentor/internal/storage"
)

const maxRequestBodySize = 1 << 20  // 1MB
const maxIngestBodySize = 10 << 20 // 10MB

// Asker answers a request. *router.Router implements it.
type Asker interface {
	Route(ctx context.Context, req router.Request) (*router.Response, error)
}

// Searcher is filtered retrieval. *retrieval.Retriever implements it.
type Searcher interface {
	Retrieve(ctx context.Context, query string, sources []retrieval.Source) (retrieval.Result, error)
}

// Store is the source registry and job queue.
type Store interface {
	ingest.JobStore
	GetJob(ctx context.Context, id string) (storage.Job, error)
	GetSource(ctx context.Context, name string) (storage.Source, error)
	ListSources(ctx context.Context, typ string) ([]storage.Source, error)
	DeleteSource(ctx context.Context, name string) error
	JobCounts(ctx context.Context) (storage.JobStats, error)
}

// KnowledgeIndex is the part of *knowledge.Index the API needs.
type KnowledgeIndex interface {
	DeleteSource(ctx context.Context, source string) (int, error)
	Count() int
}

type Deps struct {
	Router    Asker
	Retriever Searcher
	Store     Store
	Index     KnowledgeIndex
	Token     string
	Logger    *zap.Logger
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/ask", handleAsk(deps))
		r.Post("/v1/search", handleSearch(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/sources", handleListSources(deps))
		r.Get("/sources/{name}", handleGetSource(deps))
		r.Delete("/sources/{name}", handleDeleteSource(deps))
	})

	return r
}

// BearerAuth rejects requests without "Authorization: Bearer <token>". An
// empty token rejects everything.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if token == "" || !strings.HasPrefix(auth, prefix) ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

var validate = validator.New()

// decodeRequest reads a size-limited JSON body into v and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
