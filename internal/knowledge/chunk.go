// Package knowledge holds the embedded knowledge base: chunks persisted in
// SQLite and an in-memory snapshot that answers nearest-neighbor queries.
package knowledge

import "errors"

// ErrIndexUnavailable is logged when the persisted chunks cannot be read or
// decoded. Callers never receive it; they get the placeholder handle instead.
var ErrIndexUnavailable = errors.New("knowledge index unavailable")

// NoDataContent is the text of the sentinel chunk carried by the
// placeholder handle.
const NoDataContent = "No data available in the knowledge base."

// Chunk is one immutable piece of an ingested document.
type Chunk struct {
	ID         string
	Content    string
	Source     string
	SourceType string
	ChunkIndex int
}

func sentinelChunk() Chunk {
	return Chunk{ID: "knowledge-placeholder", Content: NoDataContent}
}
