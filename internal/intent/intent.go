// Package intent decides which strategy answers a request and extracts the
// conversation keywords used to widen retrieval.
package intent

import "strings"

// Intent is the closed set of request categories.
type Intent int

const (
	Unknown Intent = iota
	PlanGeneration
	ToolExecution
	VulnerabilityInfo
	ToolUsage
)

func (i Intent) String() string {
	switch i {
	case PlanGeneration:
		return "plan-generation"
	case ToolExecution:
		return "tool-execution"
	case VulnerabilityInfo:
		return "vulnerability-info"
	case ToolUsage:
		return "tool-usage"
	default:
		return "unknown"
	}
}

// labelOrder is the priority used when a label mentions several intents.
var labelOrder = []Intent{ToolExecution, VulnerabilityInfo, ToolUsage, PlanGeneration}

// ParseIntent maps a raw classifier label to an Intent. Labels that match
// nothing yield Unknown.
func ParseIntent(label string) Intent {
	l := strings.ToLower(strings.TrimSpace(label))
	for _, in := range labelOrder {
		if strings.Contains(l, in.String()) {
			return in
		}
	}
	return Unknown
}
