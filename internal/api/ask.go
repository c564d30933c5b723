package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/logging"
	"github.com/kalambet/cybermentor/internal/retrieval"
	"github.com/kalambet/cybermentor/internal/router"
	"github.com/kalambet/cybermentor/internal/toolexec"
)

type askResponse struct {
	Text string `json:"text"`
	*router.Response
	Sources []string `json:"sources"`
}

type SearchRequest struct {
	Query           string             `json:"query" validate:"required"`
	SelectedSources []retrieval.Source `json:"selected_sources,omitempty"`
}

type chunkResult struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	SourceType string `json:"source_type"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Reason     string `json:"reason"`
}

type searchResponse struct {
	Chunks            []chunkResult `json:"chunks"`
	NoMatchingSources bool          `json:"no_matching_sources"`
	Context           string        `json:"context"`
}

func toChunkResults(res retrieval.Result) []chunkResult {
	out := make([]chunkResult, len(res.Chunks))
	for i, c := range res.Chunks {
		out[i] = chunkResult{
			ID:         c.ID,
			Source:     c.Source,
			SourceType: c.SourceType,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Content,
			Reason:     c.Reason.String(),
		}
	}
	return out
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req router.Request
		if !decodeRequest(w, r, maxRequestBodySize, &req) {
			return
		}

		resp, err := deps.Router.Route(r.Context(), req)
		if err != nil {
			deps.Logger.Warn("ask failed", zap.String("input", logging.Excerpt(req.UserInput, 50)), zap.Error(err))
			code, typ := errorStatus(err)
			httpError(w, code, typ, "%v", err)
			return
		}

		writeJSON(w, http.StatusOK, askResponse{
			Text:     resp.Text(),
			Response: resp,
			Sources:  resp.Retrieval.Sources(),
		})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if !decodeRequest(w, r, maxRequestBodySize, &req) {
			return
		}

		res, err := deps.Retriever.Retrieve(r.Context(), req.Query, req.SelectedSources)
		if err != nil {
			code, typ := errorStatus(err)
			httpError(w, code, typ, "search failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, searchResponse{
			Chunks:            toChunkResults(res),
			NoMatchingSources: res.NoMatchingSources,
			Context:           retrieval.FormatContext(res),
		})
	}
}

// errorStatus maps a routing failure to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout_error"
	case errors.Is(err, router.ErrNoToolExecutor):
		return http.StatusNotImplemented, "api_error"
	case errors.Is(err, engine.ErrGeneration), errors.Is(err, toolexec.ErrListener):
		return http.StatusBadGateway, "api_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
