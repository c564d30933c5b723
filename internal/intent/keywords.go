package intent

import (
	"regexp"
	"strings"
)

const (
	keywordEntries = 4
	maxKeywords    = 5
)

var (
	cveRe  = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)
	ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	toolRe = regexp.MustCompile(`(?i)\b(nmap|metasploit|burp|nikto|sqlmap|hydra|john|hashcat|gobuster|dirb|ffuf)\b`)
)

// ExtractKeywords scans the last four history entries for vulnerability
// identifiers, one IPv4 address per message that also names an identifier,
// and known tool names. Tokens keep their original spelling, are
// de-duplicated case-sensitively in first-seen order and capped at five.
func ExtractKeywords(history []Turn) string {
	if len(history) > keywordEntries {
		history = history[len(history)-keywordEntries:]
	}

	var found []string
	for _, t := range history {
		cves := cveRe.FindAllString(t.Content, -1)
		found = append(found, cves...)
		if len(cves) > 0 {
			if ip := ipv4Re.FindString(t.Content); ip != "" {
				found = append(found, ip)
			}
		}
		found = append(found, toolRe.FindAllString(t.Content, -1)...)
	}

	seen := make(map[string]bool, len(found))
	var out []string
	for _, k := range found {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == maxKeywords {
			break
		}
	}
	return strings.Join(out, " ")
}

// ExpandQuery appends the history keywords to input. The classifier always
// sees the unexpanded input.
func ExpandQuery(input string, history []Turn) string {
	kw := ExtractKeywords(history)
	if kw == "" {
		return input
	}
	return input + " " + kw
}
