package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/ingest"
	"github.com/kalambet/cybermentor/internal/storage"
)

type sourceResult struct {
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	Size               int64    `json:"size"`
	Chunks             int      `json:"chunks"`
	UploadedAt         string   `json:"uploaded_at"`
	Summary            string   `json:"summary,omitempty"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty"`
}

func toSourceResult(s storage.Source) sourceResult {
	return sourceResult{
		Name:       s.Name,
		Type:       s.Type,
		Size:       s.Size,
		Chunks:     s.Chunks,
		UploadedAt: s.UploadedAt.Format(time.RFC3339),
		Summary:    s.Summary,

		SuggestedQuestions: s.SuggestedQuestions,
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingest.Request
		if !decodeRequest(w, r, maxIngestBodySize, &req) {
			return
		}

		id, err := ingest.Submit(r.Context(), deps.Store, req)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "failed to get job: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":         job.ID,
			"status":     job.Status,
			"attempts":   job.Attempts,
			"last_error": job.LastError,
		})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := deps.Store.ListSources(r.Context(), "")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list sources: %v", err)
			return
		}
		jobs, err := deps.Store.JobCounts(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "failed to count jobs: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"sources": len(sources),
			"chunks":  deps.Index.Count(),
			"jobs": map[string]int{
				"pending":   jobs.Pending,
				"running":   jobs.Running,
				"completed": jobs.Completed,
				"failed":    jobs.Failed,
			},
		})
	}
}

func handleListSources(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := deps.Store.ListSources(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "failed to list sources: %v", err)
			return
		}

		out := make([]sourceResult, len(sources))
		for i, s := range sources {
			out[i] = toSourceResult(s)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		src, err := deps.Store.GetSource(r.Context(), sourceParam(r))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "source not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "server_error", "failed to get source: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toSourceResult(src))
	}
}

func handleDeleteSource(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := sourceParam(r)

		if err := deps.Store.DeleteSource(r.Context(), name); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "source not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "server_error", "failed to delete source: %v", err)
			return
		}

		removed, err := deps.Index.DeleteSource(r.Context(), name)
		if err != nil {
			deps.Logger.Warn("failed to delete source chunks", zap.String("source", name), zap.Error(err))
		}

		writeJSON(w, http.StatusOK, map[string]any{"name": name, "chunks_removed": removed})
	}
}

// sourceParam returns the {name} path segment. Source names are often URLs,
// so clients send them path-escaped.
func sourceParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}
