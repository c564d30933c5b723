package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/ingest"
	"github.com/kalambet/cybermentor/internal/intent"
	"github.com/kalambet/cybermentor/internal/knowledge"
	"github.com/kalambet/cybermentor/internal/retrieval"
	"github.com/kalambet/cybermentor/internal/router"
	"github.com/kalambet/cybermentor/internal/storage"
	"github.com/kalambet/cybermentor/internal/toolexec"
)

const testToken = "test-token"

type mockAsker struct {
	got  router.Request
	resp *router.Response
	err  error
}

func (m *mockAsker) Route(_ context.Context, req router.Request) (*router.Response, error) {
	m.got = req
	return m.resp, m.err
}

type mockSearcher struct {
	query   string
	sources []retrieval.Source
	res     retrieval.Result
	err     error
}

func (m *mockSearcher) Retrieve(_ context.Context, query string, sources []retrieval.Source) (retrieval.Result, error) {
	m.query, m.sources = query, sources
	return m.res, m.err
}

type mockRemover struct {
	removed []string
}

func (m *mockRemover) DeleteSource(_ context.Context, source string) (int, error) {
	m.removed = append(m.removed, source)
	return 3, nil
}

func (m *mockRemover) Count() int { return 7 }

type testEnv struct {
	asker   *mockAsker
	search  *mockSearcher
	store   *storage.Store
	remover *mockRemover
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		asker:   &mockAsker{},
		search:  &mockSearcher{},
		store:   store,
		remover: &mockRemover{},
	}
	env.handler = NewHandler(Deps{
		Router:    env.asker,
		Retriever: env.search,
		Store:     store,
		Index:     env.remover,
		Token:     testToken,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func TestHealthNeedsNoToken(t *testing.T) {
	env := newTestEnv(t)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t)

	for _, auth := range []string{"", "Bearer wrong", "Basic " + testToken} {
		req := httptest.NewRequest(http.MethodGet, "/sources", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, auth)
	}

	h := BearerAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAskDirectAnswer(t *testing.T) {
	env := newTestEnv(t)
	env.asker.resp = &router.Response{
		Intent:     intent.VulnerabilityInfo,
		IntentName: "vulnerability-info",
		Label:      "Vulnerability-Info",
		Strategy:   router.StrategyDirect,
		Answer:     "CVE-2021-41773 is a path traversal in Apache 2.4.49.",
		Retrieval: retrieval.Result{Chunks: []retrieval.Match{{
			Chunk: knowledge.Chunk{Source: "apache-cves.txt"},
		}}},
	}

	rr := env.do(t, http.MethodPost, "/v1/ask",
		`{"user_input":"What is CVE-2021-41773?","selected_sources":[{"name":"apache-cves.txt"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	body := decodeBody(t, rr)
	assert.Equal(t, env.asker.resp.Answer, body["text"])
	assert.Equal(t, "direct", body["strategy"])
	assert.Equal(t, "vulnerability-info", body["intent"])
	assert.Equal(t, "Vulnerability-Info", body["label"])
	assert.Equal(t, []any{"apache-cves.txt"}, body["sources"])
	assert.Equal(t, []retrieval.Source{{Name: "apache-cves.txt"}}, env.asker.got.SelectedSources)
}

func TestAskValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/ask", `{"chat_history":[]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/ask", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "invalid_request_error", body["error"].(map[string]any)["type"])
}

func TestAskErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{engine.ErrTimeout, http.StatusGatewayTimeout},
		{engine.ErrGeneration, http.StatusBadGateway},
		{router.ErrNoToolExecutor, http.StatusNotImplemented},
		{toolexec.ErrListener, http.StatusBadGateway},
		{fmt.Errorf("tool execution: running nmap: %w: %w", toolexec.ErrListener, engine.ErrTimeout), http.StatusGatewayTimeout},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		env := newTestEnv(t)
		env.asker.err = tt.err
		rr := env.do(t, http.MethodPost, "/v1/ask", `{"user_input":"x"}`)
		assert.Equal(t, tt.code, rr.Code, tt.err.Error())
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	env.search.res = retrieval.Result{Chunks: []retrieval.Match{{
		Chunk:  knowledge.Chunk{ID: "c1", Content: "XSS lets attackers run script.", Source: "owasp-top10.pdf"},
		Reason: retrieval.MatchSimilarity,
	}}}

	rr := env.do(t, http.MethodPost, "/v1/search", `{"query":"Explain XSS","selected_sources":[{"name":"owasp-top10.pdf"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var body searchResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body.Chunks, 1)
	assert.Equal(t, "owasp-top10.pdf", body.Chunks[0].Source)
	assert.Equal(t, "similarity", body.Chunks[0].Reason)
	assert.False(t, body.NoMatchingSources)
	assert.Contains(t, body.Context, "Source: owasp-top10.pdf")
	assert.Equal(t, "Explain XSS", env.search.query)
}

func TestIngestAndJobStatus(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest", `{"source":"notes.md","content":"nmap -sV scans versions"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := decodeBody(t, rr)["id"].(string)

	rr = env.do(t, http.MethodGet, "/jobs/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pending", decodeBody(t, rr)["status"])

	job, err := env.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ingest.JobIndexSource, job.Type)

	rr = env.do(t, http.MethodGet, "/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIngestRejects(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest", `{"content":"no source"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/ingest", `{"source":"a","type":"pdf","content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPost, "/ingest", `{"source":"a","url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSourcesCRUD(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.UpsertSource(ctx, storage.Source{Name: "owasp-top10.pdf", Type: "file", Chunks: 12}))
	require.NoError(t, env.store.UpsertSource(ctx, storage.Source{
		Name: "https://portswigger.net/xss", Type: "url", Chunks: 4,
		Summary:            "Reflected and stored XSS labs.",
		SuggestedQuestions: []string{"Which XSS contexts does the lab cover?"},
	}))

	rr := env.do(t, http.MethodGet, "/sources", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []sourceResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	assert.Len(t, list, 2)

	rr = env.do(t, http.MethodGet, "/sources?type=url", "")
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "https://portswigger.net/xss", list[0].Name)
	assert.Equal(t, "Reflected and stored XSS labs.", list[0].Summary)
	assert.Equal(t, []string{"Which XSS contexts does the lab cover?"}, list[0].SuggestedQuestions)

	rr = env.do(t, http.MethodGet, "/sources/owasp-top10.pdf", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, float64(12), body["chunks"])
	assert.NotContains(t, body, "suggested_questions")

	rr = env.do(t, http.MethodDelete, "/sources/owasp-top10.pdf", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(3), decodeBody(t, rr)["chunks_removed"])
	assert.Equal(t, []string{"owasp-top10.pdf"}, env.remover.removed)

	rr = env.do(t, http.MethodGet, "/sources/owasp-top10.pdf", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodDelete, "/sources/owasp-top10.pdf", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSourceNameEscaped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.UpsertSource(ctx, storage.Source{Name: "https://portswigger.net/xss", Type: "url"}))

	rr := env.do(t, http.MethodDelete, "/sources/https:%2F%2Fportswigger.net%2Fxss", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []string{"https://portswigger.net/xss"}, env.remover.removed)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.UpsertSource(ctx, storage.Source{Name: "owasp-top10.pdf", Type: "file"}))
	_, err := ingest.Submit(ctx, env.store, ingest.Request{Source: "notes", Content: "port 8443 is admin"})
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, float64(1), body["sources"])
	assert.Equal(t, float64(7), body["chunks"])
	assert.Equal(t, float64(1), body["jobs"].(map[string]any)["pending"])
}
