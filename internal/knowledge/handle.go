package knowledge

import "container/heap"

// Handle is an immutable, searchable view of the knowledge base at one
// point in time. Handles are safe for concurrent use.
type Handle struct {
	chunks      []Chunk
	vectors     [][]float32
	version     uint64
	placeholder bool
}

func newHandle(chunks []Chunk, vectors [][]float32, version uint64) *Handle {
	return &Handle{chunks: chunks, vectors: vectors, version: version}
}

func placeholderHandle(version uint64) *Handle {
	return &Handle{chunks: []Chunk{sentinelChunk()}, version: version, placeholder: true}
}

// Len returns the number of chunks held, counting the sentinel of a placeholder.
func (h *Handle) Len() int { return len(h.chunks) }

// Version increases with every reload.
func (h *Handle) Version() uint64 { return h.version }

// Placeholder reports whether h stands in for a missing or unreadable store.
func (h *Handle) Placeholder() bool { return h.placeholder }

// Search returns up to k chunks ordered by descending cosine similarity to
// vec. Equal scores keep insertion order. A placeholder always returns its
// sentinel chunk.
func (h *Handle) Search(vec []float32, k int) []Chunk {
	if k <= 0 {
		return nil
	}
	if h.placeholder {
		return append([]Chunk(nil), h.chunks...)
	}

	qn := norm(vec)
	top := &rankHeap{}
	for i, v := range h.vectors {
		r := ranked{idx: i, score: cosine(vec, v, qn)}
		if top.Len() < k {
			heap.Push(top, r)
		} else if worse((*top)[0], r) {
			(*top)[0] = r
			heap.Fix(top, 0)
		}
	}

	out := make([]Chunk, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = h.chunks[heap.Pop(top).(ranked).idx]
	}
	return out
}

type ranked struct {
	idx   int
	score float64
}

// worse reports whether a ranks below b.
func worse(a, b ranked) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.idx > b.idx
}

// rankHeap is a min-heap: the worst kept candidate sits at the root.
type rankHeap []ranked

func (h rankHeap) Len() int           { return len(h) }
func (h rankHeap) Less(i, j int) bool { return worse(h[i], h[j]) }
func (h rankHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rankHeap) Push(x any)        { *h = append(*h, x.(ranked)) }
func (h *rankHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
