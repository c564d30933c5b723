package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// boundaries are tried in order when placing a chunk end.
var boundaries = []string{"\n\n", "\n", ". ", " "}

// Split cuts text into chunks of at most size runes, repeating overlap runes
// between consecutive chunks. Chunk ends fall on the latest paragraph, line,
// sentence or word boundary in the second half of the window when one
// exists.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = start + size/2 + boundary(runes[start+size/2:end])
		}

		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// boundary returns the rune offset just past the last preferred separator
// in window, or len(window) when there is none.
func boundary(window []rune) int {
	s := string(window)
	for _, sep := range boundaries {
		if i := strings.LastIndex(s, sep); i >= 0 {
			return utf8.RuneCountInString(s[:i+len(sep)])
		}
	}
	return len(window)
}
