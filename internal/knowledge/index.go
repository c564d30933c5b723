package knowledge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/storage"
)

// ChunkStore persists chunk records. *storage.Store implements it.
type ChunkStore interface {
	InsertChunks(ctx context.Context, records []storage.ChunkRecord) error
	ExportChunks(ctx context.Context) ([]storage.ChunkRecord, error)
	CountChunks(ctx context.Context) (int, error)
	DeleteChunksBySource(ctx context.Context, source string) (int, error)
	ReplaceChunksBySource(ctx context.Context, source string, records []storage.ChunkRecord) (int, error)
}

// snapshot pairs a handle with the persisted count it was built from. Both
// are published together through one atomic pointer.
type snapshot struct {
	handle *Handle
	count  int
	// unavailable marks a placeholder built after a read failure; it never
	// satisfies the cache check, so the next Load retries.
	unavailable bool
}

// Index is the process-wide knowledge index. Reads go through an atomically
// swapped snapshot; reloads and writes are serialized.
type Index struct {
	store  ChunkStore
	embed  Embedding
	logger *zap.Logger

	mu      sync.Mutex
	snap    atomic.Pointer[snapshot]
	version uint64
}

func NewIndex(store ChunkStore, embed Embedding, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{store: store, embed: embed, logger: logger}
}

// Load returns the cached handle unless there is none, force is set, or the
// persisted chunk count no longer matches the cached count. Store failures
// never reach the caller: they yield a placeholder handle.
func (ix *Index) Load(ctx context.Context, force bool) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !force {
		if h, ok := ix.cached(ctx); ok {
			return h, nil
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Another caller may have reloaded while we waited.
	if !force {
		if h, ok := ix.cached(ctx); ok {
			return h, nil
		}
	}
	return ix.reloadLocked(ctx), nil
}

func (ix *Index) cached(ctx context.Context) (*Handle, bool) {
	cur := ix.snap.Load()
	if cur == nil || cur.unavailable {
		return nil, false
	}
	n, err := ix.store.CountChunks(ctx)
	if err != nil || n != cur.count {
		return nil, false
	}
	return cur.handle, true
}

// reloadLocked reads every persisted record and publishes a new snapshot.
// ix.mu must be held.
func (ix *Index) reloadLocked(ctx context.Context) *Handle {
	ix.version++
	snap, err := ix.build(ctx, ix.version)
	if err != nil {
		ix.logger.Warn("using placeholder knowledge index",
			zap.Error(fmt.Errorf("%w: %w", ErrIndexUnavailable, err)))
		snap = &snapshot{handle: placeholderHandle(ix.version), unavailable: true}
	}
	ix.snap.Store(snap)
	ix.logger.Debug("knowledge index loaded",
		zap.Int("count", snap.count),
		zap.Uint64("version", snap.handle.version),
		zap.Bool("placeholder", snap.handle.placeholder))
	return snap.handle
}

func (ix *Index) build(ctx context.Context, version uint64) (*snapshot, error) {
	records, err := ix.store.ExportChunks(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &snapshot{handle: placeholderHandle(version)}, nil
	}

	chunks := make([]Chunk, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		vec, err := decodeVector(r.Embedding)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", r.ID, err)
		}
		chunks[i] = Chunk{
			ID:         r.ID,
			Content:    r.Content,
			Source:     r.Source,
			SourceType: r.SourceType,
			ChunkIndex: r.ChunkIndex,
		}
		vectors[i] = vec
	}
	return &snapshot{handle: newHandle(chunks, vectors, version), count: len(records)}, nil
}

// Count reports the persisted chunk count of the current snapshot. A
// placeholder counts as zero.
func (ix *Index) Count() int {
	if cur := ix.snap.Load(); cur != nil {
		return cur.count
	}
	return 0
}

// SimilaritySearch returns the k chunks nearest to query. On a placeholder
// handle it returns the sentinel chunk without embedding the query.
func (ix *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]Chunk, error) {
	h, err := ix.Load(ctx, false)
	if err != nil {
		return nil, err
	}
	if h.Placeholder() {
		return h.Search(nil, k), nil
	}
	vec, err := ix.embed.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return h.Search(vec, k), nil
}

// Add embeds and persists chunks in one transaction, then reloads so the
// next Load observes the new count. Chunks without an ID get a fresh UUID.
// It returns the stored chunks.
func (ix *Index) Add(ctx context.Context, chunks []Chunk) ([]Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	stored, records, err := ix.prepare(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("adding chunks: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.store.InsertChunks(ctx, records); err != nil {
		return nil, fmt.Errorf("persisting chunks: %w", err)
	}
	ix.reloadLocked(ctx)
	ix.logger.Info("knowledge chunks added", zap.Int("added", len(stored)), zap.Int("count", ix.Count()))
	return stored, nil
}

// ReplaceSource embeds chunks and then swaps them for every stored chunk of
// source in one transaction. If embedding or persisting fails the previous
// chunks stay searchable. It returns the stored chunks and the number of
// chunks removed.
func (ix *Index) ReplaceSource(ctx context.Context, source string, chunks []Chunk) ([]Chunk, int, error) {
	stored, records, err := ix.prepare(ctx, chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("re-indexing %s: %w", source, err)
	}
	for i := range records {
		stored[i].Source = source
		records[i].Source = source
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed, err := ix.store.ReplaceChunksBySource(ctx, source, records)
	if err != nil {
		return nil, 0, fmt.Errorf("persisting chunks of %s: %w", source, err)
	}
	ix.reloadLocked(ctx)
	ix.logger.Info("knowledge source replaced",
		zap.String("source", source),
		zap.Int("added", len(stored)),
		zap.Int("removed", removed),
		zap.Int("count", ix.Count()))
	return stored, removed, nil
}

// prepare embeds chunks and builds their records without touching the store.
func (ix *Index) prepare(ctx context.Context, chunks []Chunk) ([]Chunk, []storage.ChunkRecord, error) {
	if len(chunks) == 0 {
		return nil, nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := ix.embed.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, nil, fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	stored := make([]Chunk, len(chunks))
	records := make([]storage.ChunkRecord, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		stored[i] = c
		records[i] = storage.ChunkRecord{
			ID:         c.ID,
			Source:     c.Source,
			SourceType: c.SourceType,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Embedding:  encodeVector(vectors[i]),
		}
	}
	return stored, records, nil
}

// DeleteSource removes every chunk of source and reloads. It returns the
// number of chunks removed.
func (ix *Index) DeleteSource(ctx context.Context, source string) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n, err := ix.store.DeleteChunksBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	ix.reloadLocked(ctx)
	return n, nil
}
