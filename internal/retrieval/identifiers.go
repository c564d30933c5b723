package retrieval

import (
	"regexp"
	"strings"
)

var identifierRe = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)

// ExtractIdentifiers returns the vulnerability identifiers in text, in
// order of first appearance. Matching is case-insensitive; duplicates that
// differ only in case are kept once.
func ExtractIdentifiers(text string) []string {
	found := identifierRe.FindAllString(text, -1)
	if len(found) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(found))
	out := found[:0]
	for _, id := range found {
		key := strings.ToLower(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}

// mentionsAny reports whether the chunk's source or the first scanLen runes
// of content contain one of ids, ignoring case.
func mentionsAny(source, content string, ids []string) bool {
	hay := strings.ToLower(source) + "\n" + strings.ToLower(prefixRunes(content, scanLen))
	for _, id := range ids {
		if strings.Contains(hay, strings.ToLower(id)) {
			return true
		}
	}
	return false
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
