// Package retrieval turns a query and an optional source whitelist into the
// ranked context handed to generation.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/knowledge"
)

const (
	wideK      = 100 // candidates scanned for identifier matches
	filteredK  = 30  // similarity depth when a whitelist will discard results
	defaultK   = 10
	maxResults = 5
	scanLen    = 500 // content runes scanned for identifiers
)

// NoResultsText is rendered by FormatContext for an empty result.
const NoResultsText = "No relevant information found in the knowledge base."

// Searcher is the nearest-neighbor side of the knowledge index.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]knowledge.Chunk, error)
}

// MatchReason records why a chunk entered the result.
type MatchReason int

const (
	MatchSimilarity MatchReason = iota
	MatchIdentifier
)

func (r MatchReason) String() string {
	if r == MatchIdentifier {
		return "identifier"
	}
	return "similarity"
}

type Match struct {
	knowledge.Chunk
	Reason MatchReason
}

// Result is the admitted, ranked context for one query.
type Result struct {
	Chunks []Match
	// NoMatchingSources is set when a non-empty whitelist rejected every
	// candidate. Chunks is empty in that case.
	NoMatchingSources bool
}

// Sources returns the distinct chunk sources in result order.
func (r Result) Sources() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range r.Chunks {
		if !seen[m.Source] {
			seen[m.Source] = true
			out = append(out, m.Source)
		}
	}
	return out
}

type Options struct {
	// StrictSourceMatch admits only exact normalized source equality.
	StrictSourceMatch bool
}

// Retriever promotes exact identifier matches over similarity results and
// applies the source whitelist as a hard filter.
type Retriever struct {
	index  Searcher
	opts   Options
	logger *zap.Logger
}

func New(index Searcher, opts Options, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{index: index, opts: opts, logger: logger}
}

// Retrieve returns at most five chunks for query. With a non-empty
// whitelist no chunk outside it is ever returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, sources []Source) (Result, error) {
	var candidates []Match
	seen := make(map[string]bool)

	ids := ExtractIdentifiers(query)
	if len(ids) > 0 {
		wide, err := r.index.SimilaritySearch(ctx, query, wideK)
		if err != nil {
			return Result{}, fmt.Errorf("identifier search: %w", err)
		}
		for _, c := range wide {
			if seen[c.ID] || !mentionsAny(c.Source, c.Content, ids) {
				continue
			}
			seen[c.ID] = true
			candidates = append(candidates, Match{Chunk: c, Reason: MatchIdentifier})
		}
	}
	idMatches := len(candidates)

	k := defaultK
	if len(sources) > 0 {
		k = filteredK
	}
	similar, err := r.index.SimilaritySearch(ctx, query, k)
	if err != nil {
		return Result{}, fmt.Errorf("similarity search: %w", err)
	}
	for _, c := range similar {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		candidates = append(candidates, Match{Chunk: c, Reason: MatchSimilarity})
	}

	res := Result{Chunks: candidates}
	if len(sources) > 0 {
		m := newSourceMatcher(sources, r.opts.StrictSourceMatch)
		admitted := candidates[:0:0]
		for _, c := range candidates {
			if m.admits(c.Source) {
				admitted = append(admitted, c)
			}
		}
		res = Result{Chunks: admitted, NoMatchingSources: len(admitted) == 0}
	}
	if len(res.Chunks) > maxResults {
		res.Chunks = res.Chunks[:maxResults]
	}

	r.logger.Debug("retrieval",
		zap.Strings("identifiers", ids),
		zap.Int("identifier_matches", idMatches),
		zap.Int("candidates", len(candidates)),
		zap.Int("selected_sources", len(sources)),
		zap.Int("docs", len(res.Chunks)),
		zap.Bool("no_matching_sources", res.NoMatchingSources))
	return res, nil
}

// FormatContext renders the result as prompt context.
func FormatContext(res Result) string {
	if len(res.Chunks) == 0 {
		return NoResultsText
	}
	blocks := make([]string, len(res.Chunks))
	for i, c := range res.Chunks {
		src := c.Source
		if src == "" {
			src = "N/A"
		}
		blocks[i] = "Source: " + src + "\n\n" + c.Content
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
