//go:build integration

package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/knowledge"
	"github.com/kalambet/cybermentor/internal/storage"
)

// setupIntegrationRetriever builds a retriever over a temporary SQLite store
// and a running Ollama instance. It skips the test if Ollama is not available.
func setupIntegrationRetriever(t *testing.T, opts Options) (*Retriever, *knowledge.Index) {
	t.Helper()

	eng := engine.NewOllamaEngine("http://localhost:11434", 0)
	if !eng.IsRunning(context.Background()) {
		t.Skip("Ollama is not running, skipping integration test")
	}
	if !eng.HasModel(context.Background(), "nomic-embed-text") {
		t.Skip("nomic-embed-text is not pulled, skipping integration test")
	}

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := knowledge.NewIndex(store, knowledge.NewEmbedder(eng, "nomic-embed-text"), nil)
	return New(index, opts, nil), index
}

func TestIntegrationSemanticMatch(t *testing.T) {
	r, index := setupIntegrationRetriever(t, Options{})
	ctx := context.Background()

	_, err := index.Add(ctx, []knowledge.Chunk{
		{Content: "SQL injection lets an attacker alter database queries through unsanitized input.", Source: "owasp"},
		{Content: "Bananas are a good source of potassium.", Source: "nutrition"},
	})
	require.NoError(t, err)

	res, err := r.Retrieve(ctx, "how do I exploit a vulnerable database query?", nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "owasp", res.Chunks[0].Source)
}

func TestIntegrationIdentifierPromotedOverSimilarity(t *testing.T) {
	r, index := setupIntegrationRetriever(t, Options{})
	ctx := context.Background()

	_, err := index.Add(ctx, []knowledge.Chunk{
		{Content: "Remote code execution in a logging library via JNDI lookups.", Source: "generic-notes"},
		{Content: "CVE-2021-44228 affects Apache Log4j 2.0 through 2.14.1.", Source: "nvd"},
	})
	require.NoError(t, err)

	res, err := r.Retrieve(ctx, "details on CVE-2021-44228 please", nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "nvd", res.Chunks[0].Source)
	assert.Equal(t, MatchIdentifier, res.Chunks[0].Reason)
}

func TestIntegrationWhitelistIsHard(t *testing.T) {
	r, index := setupIntegrationRetriever(t, Options{StrictSourceMatch: true})
	ctx := context.Background()

	_, err := index.Add(ctx, []knowledge.Chunk{
		{Content: "Cross-site scripting injects script into pages viewed by others.", Source: "owasp"},
	})
	require.NoError(t, err)

	res, err := r.Retrieve(ctx, "xss", []Source{{Name: "portswigger"}})
	require.NoError(t, err)
	assert.True(t, res.NoMatchingSources)
	assert.Empty(t, res.Chunks)
}
