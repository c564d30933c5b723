package retrieval

import "strings"

// Source describes one entry of a per-request source whitelist.
type Source struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// shortSourceLen is the normalized length below which a chunk source may
// also match a single path segment of a whitelist entry.
const shortSourceLen = 20

// normalizeSource lowercases s and strips the URL scheme and trailing slashes.
func normalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(s, "https://"):
		s = s[len("https://"):]
	case strings.HasPrefix(s, "http://"):
		s = s[len("http://"):]
	}
	return strings.TrimRight(s, "/")
}

// sourceMatcher decides whether a chunk source is admitted by a whitelist.
type sourceMatcher struct {
	entries []string
	strict  bool
}

func newSourceMatcher(sources []Source, strict bool) sourceMatcher {
	m := sourceMatcher{strict: strict}
	for _, s := range sources {
		if n := normalizeSource(s.Name); n != "" {
			m.entries = append(m.entries, n)
		}
	}
	return m
}

func (m sourceMatcher) admits(chunkSource string) bool {
	src := normalizeSource(chunkSource)
	if src == "" {
		return false
	}
	for _, e := range m.entries {
		if matchSource(src, e, m.strict) {
			return true
		}
	}
	return false
}

// matchSource applies the admission rule to already-normalized, non-empty
// values.
func matchSource(src, entry string, strict bool) bool {
	if src == entry {
		return true
	}
	if strict {
		return false
	}
	if strings.Contains(src, entry) || strings.Contains(entry, src) {
		return true
	}
	if len([]rune(src)) < shortSourceLen {
		for _, seg := range strings.Split(entry, "/") {
			if seg != "" && strings.Contains(seg, src) {
				return true
			}
		}
	}
	return false
}
