package knowledge

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kalambet/cybermentor/internal/storage"
)

// bagOfWords embeds text as word-hash counts so that texts sharing words
// are close under cosine similarity.
type bagOfWords struct {
	mu      sync.Mutex
	queries int
	err     error
}

func embedWords(text string) []float32 {
	v := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%64]++
	}
	return v
}

func (b *bagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	b.mu.Lock()
	b.queries++
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return embedWords(text), nil
}

func (b *bagOfWords) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedWords(t)
	}
	return out, nil
}

func newTestIndex(t *testing.T) (*Index, *storage.Store, *bagOfWords) {
	t.Helper()
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	emb := &bagOfWords{}
	return NewIndex(st, emb, zap.NewNop()), st, emb
}

func TestLoad_EmptyStoreGivesPlaceholder(t *testing.T) {
	ix, _, emb := newTestIndex(t)
	ctx := context.Background()

	h, err := ix.Load(ctx, false)
	require.NoError(t, err)
	assert.True(t, h.Placeholder())
	assert.Zero(t, ix.Count())

	got, err := ix.SimilaritySearch(ctx, "anything", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, NoDataContent, got[0].Content)
	assert.Empty(t, got[0].Source)
	assert.Zero(t, emb.queries, "placeholder search must not embed")
}

func TestLoad_Idempotent(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := ix.Add(ctx, []Chunk{{Content: "sql injection basics", Source: "a.pdf"}})
	require.NoError(t, err)

	h1, err := ix.Load(ctx, false)
	require.NoError(t, err)
	h2, err := ix.Load(ctx, false)
	require.NoError(t, err)
	assert.Same(t, h1, h2)

	h3, err := ix.Load(ctx, true)
	require.NoError(t, err)
	assert.NotSame(t, h1, h3, "force reloads")
	assert.Greater(t, h3.Version(), h1.Version())
}

func TestAdd_RoundTrip(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := ix.Add(ctx, []Chunk{
		{Content: "cross site scripting payloads", Source: "xss.md"},
		{Content: "buffer overflow exploitation", Source: "bof.md"},
	})
	require.NoError(t, err)
	before := ix.Count()
	assert.Equal(t, 2, before)

	stored, err := ix.Add(ctx, []Chunk{{Content: "server side request forgery metadata endpoint", Source: "ssrf.md"}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)

	h, err := ix.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, before+1, ix.Count())
	assert.Equal(t, before+1, h.Len())

	got, err := ix.SimilaritySearch(ctx, "server side request forgery", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stored[0].ID, got[0].ID)
}

func TestLoad_ExternalWriteInvalidatesCache(t *testing.T) {
	ix, st, _ := newTestIndex(t)
	ctx := context.Background()

	h1, err := ix.Load(ctx, false)
	require.NoError(t, err)

	require.NoError(t, st.InsertChunks(ctx, []storage.ChunkRecord{
		{ID: "ext", Source: "ext.md", Content: "written by another process", Embedding: encodeVector(embedWords("written"))},
	}))

	h2, err := ix.Load(ctx, false)
	require.NoError(t, err)
	assert.NotSame(t, h1, h2)
	assert.False(t, h2.Placeholder())
	assert.Equal(t, 1, ix.Count())
}

func TestLoad_CorruptStoreGivesPlaceholderAndLogs(t *testing.T) {
	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	core, logs := observer.New(zap.WarnLevel)
	ix := NewIndex(st, &bagOfWords{}, zap.New(core))
	ctx := context.Background()

	require.NoError(t, st.InsertChunks(ctx, []storage.ChunkRecord{
		{ID: "bad", Source: "bad.md", Content: "x", Embedding: []byte{1, 2, 3}},
	}))

	h, err := ix.Load(ctx, false)
	require.NoError(t, err, "corruption is never surfaced")
	assert.True(t, h.Placeholder())

	entries := logs.FilterMessage("using placeholder knowledge index").All()
	require.Len(t, entries, 1)
	logged, ok := entries[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, logged, ErrIndexUnavailable.Error())

	// The placeholder of a failed read is not cached.
	h2, _ := ix.Load(ctx, false)
	assert.NotSame(t, h, h2)
}

func TestSimilaritySearch_DeterministicTies(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := ix.Add(ctx, []Chunk{
		{ID: "first", Content: "same text", Source: "a"},
		{ID: "second", Content: "same text", Source: "b"},
		{ID: "third", Content: "same text", Source: "c"},
	})
	require.NoError(t, err)

	for range 5 {
		got, err := ix.SimilaritySearch(ctx, "same text", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "first", got[0].ID)
		assert.Equal(t, "second", got[1].ID)
	}
}

func TestSimilaritySearch_EmbedErrorPropagates(t *testing.T) {
	ix, _, emb := newTestIndex(t)
	ctx := context.Background()
	_, err := ix.Add(ctx, []Chunk{{Content: "x", Source: "a"}})
	require.NoError(t, err)

	emb.err = errors.New("embedding backend down")
	_, err = ix.SimilaritySearch(ctx, "x", 3)
	assert.ErrorIs(t, err, emb.err)
}

func TestAdd_EmbedFailureStoresNothing(t *testing.T) {
	ix, st, emb := newTestIndex(t)
	emb.err = errors.New("boom")

	_, err := ix.Add(context.Background(), []Chunk{{Content: "x", Source: "a"}})
	require.Error(t, err)
	n, _ := st.CountChunks(context.Background())
	assert.Zero(t, n)
}

func TestDeleteSource(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := ix.Add(ctx, []Chunk{
		{Content: "a1", Source: "owasp-top10.pdf"},
		{Content: "a2", Source: "owasp-top10.pdf"},
		{Content: "b1", Source: "other.pdf"},
	})
	require.NoError(t, err)

	n, err := ix.DeleteSource(ctx, "owasp-top10.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, ix.Count())

	got, err := ix.SimilaritySearch(ctx, "a1", 10)
	require.NoError(t, err)
	for _, c := range got {
		assert.Equal(t, "other.pdf", c.Source)
	}
}

func TestReplaceSource(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()
	_, err := ix.Add(ctx, []Chunk{
		{Content: "nmap port scan", Source: "guide.md"},
		{Content: "sql injection union", Source: "sqli.md"},
	})
	require.NoError(t, err)

	stored, removed, err := ix.ReplaceSource(ctx, "guide.md", []Chunk{{Content: "reflected xss payloads", ChunkIndex: 0}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Len(t, stored, 1)
	assert.Equal(t, "guide.md", stored[0].Source)
	assert.Equal(t, 2, ix.Count())

	got, err := ix.SimilaritySearch(ctx, "reflected xss payloads", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "reflected xss payloads", got[0].Content)
}

func TestReplaceSource_EmbedFailureKeepsOldChunks(t *testing.T) {
	ix, st, emb := newTestIndex(t)
	ctx := context.Background()
	_, err := ix.Add(ctx, []Chunk{{Content: "nmap port scan", Source: "guide.md"}})
	require.NoError(t, err)

	emb.err = errors.New("embedding backend down")
	_, _, err = ix.ReplaceSource(ctx, "guide.md", []Chunk{{Content: "replacement"}})
	require.ErrorIs(t, err, emb.err)

	n, err := st.CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	emb.err = nil
	got, err := ix.SimilaritySearch(ctx, "nmap port scan", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "nmap port scan", got[0].Content)
}

func TestConcurrentLoadAndAdd(t *testing.T) {
	ix, _, _ := newTestIndex(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = ix.Add(ctx, []Chunk{{Content: "concurrent chunk", Source: "c.md"}})
				return
			}
			h, err := ix.Load(ctx, false)
			assert.NoError(t, err)
			assert.NotNil(t, h)
		}()
	}
	wg.Wait()

	h, err := ix.Load(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 4, h.Len())
	assert.Equal(t, 4, ix.Count())
}
