package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kalambet/cybermentor/internal/composer"
	"github.com/kalambet/cybermentor/internal/knowledge"
	"github.com/kalambet/cybermentor/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockIndex struct {
	mu       sync.Mutex
	added    []knowledge.Chunk
	replaced []string
	addFn    func([]knowledge.Chunk) error
}

func (m *mockIndex) ReplaceSource(_ context.Context, source string, chunks []knowledge.Chunk) ([]knowledge.Chunk, int, error) {
	if m.addFn != nil {
		if err := m.addFn(chunks); err != nil {
			return nil, 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, chunks...)
	m.replaced = append(m.replaced, source)
	return chunks, 0, nil
}

// mockGenerator answers the summary and questions prompts.
type mockGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if strings.HasSuffix(prompt, "Summary:") {
		return "  Covers SQL injection basics.\n", nil
	}
	return "1. What is a UNION-based SQL injection?\n2. How do I detect blind SQL injection\nok\n", nil
}

type mockFetcher struct {
	pages map[string]string
}

func (m *mockFetcher) Fetch(_ context.Context, rawURL string) (string, error) {
	if p, ok := m.pages[rawURL]; ok {
		return p, nil
	}
	return "", errors.New("not found")
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorker_IndexesText(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := Submit(ctx, store, Request{Source: "notes.md", Content: "SQL injection basics.", Summary: "notes"})
	require.NoError(t, err)

	idx := &mockIndex{}
	w := NewWorker(store, idx, &mockFetcher{}, 0, nil)
	didWork, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	require.Len(t, idx.added, 1)
	assert.Equal(t, "notes.md", idx.added[0].Source)
	assert.Equal(t, TypeText, idx.added[0].SourceType)
	assert.Equal(t, []string{"notes.md"}, idx.replaced)

	src, err := store.GetSource(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, 1, src.Chunks)
	assert.Equal(t, "notes", src.Summary)
	assert.Empty(t, src.SuggestedQuestions, "no generator configured")

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", job.Status)
}

func TestWorker_IndexesURL(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := Submit(ctx, store, Request{URL: "https://owasp.org/xss"})
	require.NoError(t, err)

	idx := &mockIndex{}
	fetch := &mockFetcher{pages: map[string]string{"https://owasp.org/xss": "Cross-site scripting"}}
	_, err = NewWorker(store, idx, fetch, 0, nil).RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, idx.added, 1)
	assert.Equal(t, "https://owasp.org/xss", idx.added[0].Source)
	assert.Equal(t, TypeURL, idx.added[0].SourceType)
	assert.Equal(t, "Cross-site scripting", idx.added[0].Content)
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := Submit(ctx, store, Request{Source: "a.txt", Content: "text"})
	require.NoError(t, err)

	idx := &mockIndex{addFn: func([]knowledge.Chunk) error { return errors.New("embedding backend down") }}
	didWork, err := NewWorker(store, idx, nil, 0, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pending", job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError, "embedding backend down")
	assert.True(t, job.RunAfter.After(time.Now().UTC()), "retry is backed off")

	_, err = store.GetSource(ctx, "a.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWorker_FailsBadPayload(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnqueueJob(ctx, storage.Job{
		ID: "bad", Type: JobIndexSource, PayloadJSON: "{", MaxAttempts: 1,
	}))

	didWork, err := NewWorker(store, &mockIndex{}, nil, 0, nil).RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, didWork)

	job, err := store.GetJob(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "failed", job.Status)
}

func TestWorker_NoJobs(t *testing.T) {
	didWork, err := NewWorker(openTestStore(t), &mockIndex{}, nil, 0, nil).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Submit(ctx, store, Request{Source: "a", Content: "alpha"})
	require.NoError(t, err)

	idx := &mockIndex{}
	w := NewWorker(store, idx, nil, 10*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		return len(idx.added) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

// bagEmbedding is a deterministic embedding over a tiny vocabulary.
type bagEmbedding struct{}

var vocab = []string{"xss", "sql", "nmap", "scan"}

func (bagEmbedding) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, len(vocab)+1)
	lower := strings.ToLower(text)
	for i, w := range vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	v[len(vocab)] = 0.01
	return v, nil
}

func (b bagEmbedding) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = b.EmbedQuery(ctx, t)
	}
	return out, nil
}

func TestWorker_ReindexReplacesChunks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	idx := knowledge.NewIndex(store, bagEmbedding{}, nil)
	w := NewWorker(store, idx, nil, 0, nil)

	_, err := Submit(ctx, store, Request{Source: "guide.txt", Content: "nmap scan guide"})
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	_, err = Submit(ctx, store, Request{Source: "guide.txt", Content: "xss guide"})
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	n, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := idx.SimilaritySearch(ctx, "xss", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "xss guide", hits[0].Content)
}

// flakyEmbedding fails every call after the first.
type flakyEmbedding struct {
	bagEmbedding
	calls int
}

func (f *flakyEmbedding) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls > 1 {
		return nil, errors.New("embedding backend down")
	}
	return f.bagEmbedding.EmbedDocuments(ctx, texts)
}

func TestWorker_FailedReindexKeepsOldChunks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	idx := knowledge.NewIndex(store, &flakyEmbedding{}, nil)
	w := NewWorker(store, idx, nil, 0, nil)

	_, err := Submit(ctx, store, Request{Source: "guide.txt", Content: "nmap scan guide"})
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	id, err := Submit(ctx, store, Request{Source: "guide.txt", Content: "xss guide"})
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, job.LastError, "embedding backend down")

	n, err := store.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := idx.SimilaritySearch(ctx, "nmap scan", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "nmap scan guide", hits[0].Content)

	src, err := store.GetSource(ctx, "guide.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("nmap scan guide")), src.Size)
}

func TestWorker_GeneratesSummaryAndQuestions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	gen := &mockGenerator{}

	_, err := Submit(ctx, store, Request{Source: "sqli.md", Content: "SQL injection basics."})
	require.NoError(t, err)
	_, err = NewWorker(store, &mockIndex{}, nil, 0, nil).WithGenerator(gen).RunOnce(ctx)
	require.NoError(t, err)

	src, err := store.GetSource(ctx, "sqli.md")
	require.NoError(t, err)
	assert.Equal(t, "Covers SQL injection basics.", src.Summary)
	assert.Equal(t, []string{
		"What is a UNION-based SQL injection?",
		"How do I detect blind SQL injection?",
	}, src.SuggestedQuestions)

	require.Len(t, gen.prompts, 2)
	for _, p := range gen.prompts {
		assert.Contains(t, p, `Document "sqli.md":`)
		assert.Contains(t, p, "SQL injection basics.")
	}
}

func TestWorker_SuppliedSummaryIsKept(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	gen := &mockGenerator{}

	_, err := Submit(ctx, store, Request{Source: "sqli.md", Content: "SQL injection basics.", Summary: "mine"})
	require.NoError(t, err)
	_, err = NewWorker(store, &mockIndex{}, nil, 0, nil).WithGenerator(gen).RunOnce(ctx)
	require.NoError(t, err)

	src, err := store.GetSource(ctx, "sqli.md")
	require.NoError(t, err)
	assert.Equal(t, "mine", src.Summary)
	assert.Len(t, src.SuggestedQuestions, 2)
	assert.Len(t, gen.prompts, 1, "only questions are generated")
}

func TestWorker_GeneratorFailureStillIndexes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	gen := &mockGenerator{err: errors.New("model offline")}

	id, err := Submit(ctx, store, Request{Source: "sqli.md", Content: "SQL injection basics."})
	require.NoError(t, err)
	_, err = NewWorker(store, &mockIndex{}, nil, 0, nil).WithGenerator(gen).RunOnce(ctx)
	require.NoError(t, err)

	job, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", job.Status)

	src, err := store.GetSource(ctx, "sqli.md")
	require.NoError(t, err)
	assert.Empty(t, src.Summary)
	assert.Empty(t, src.SuggestedQuestions)
}

func TestWorker_PromptDocumentIsTruncated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	gen := &mockGenerator{}

	long := strings.Repeat("a", composer.MaxDocumentRunes) + "TAIL-MARKER"
	_, err := Submit(ctx, store, Request{Source: "big.txt", Content: long})
	require.NoError(t, err)
	_, err = NewWorker(store, &mockIndex{}, nil, 0, nil).WithGenerator(gen).RunOnce(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, gen.prompts)
	for _, p := range gen.prompts {
		assert.NotContains(t, p, "TAIL-MARKER")
	}
}

func TestParseQuestions(t *testing.T) {
	raw := "1. What ports does nmap scan by default?\n\n- Q: How does sqlmap detect injection\nshort?\n" +
		"* Which dirsearch extensions matter?\n4) What is --risk in sqlmap?\n5. How is -sV different from -A?\n6. One more question here?"
	assert.Equal(t, []string{
		"What ports does nmap scan by default?",
		"How does sqlmap detect injection?",
		"Which dirsearch extensions matter?",
		"What is --risk in sqlmap?",
		"How is -sV different from -A?",
	}, parseQuestions(raw))
	assert.Nil(t, parseQuestions(""))
}

func TestSubmitValidates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := Submit(ctx, store, Request{Content: "x"})
	assert.Error(t, err)
	_, err = Submit(ctx, store, Request{Source: "a", Type: TypeURL})
	assert.Error(t, err)
	_, err = Submit(ctx, store, Request{Source: "a", Content: "   "})
	assert.Error(t, err)
}
