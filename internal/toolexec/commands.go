package toolexec

import (
	"fmt"
	"slices"
	"strings"
)

// Tools the listener is allowed to run.
const (
	ToolNmap      = "nmap"
	ToolSQLMap    = "sqlmap"
	ToolDirsearch = "dirsearch"
)

// Nmap scan profiles.
const (
	ScanBasic = "basic"
	ScanFull  = "full"
	ScanVuln  = "vuln"
)

var defaultDirsearchParams = []string{"-e", "php,html,js"}

// BuildCommand turns a plan into listener arguments for an allowed tool.
func BuildCommand(p Plan) (Command, error) {
	target := strings.TrimSpace(p.Target)
	if target == "" {
		return Command{}, fmt.Errorf("no target for %s", p.Tool)
	}
	if strings.HasPrefix(target, "-") {
		return Command{}, fmt.Errorf("target %q looks like a flag", target)
	}

	switch strings.ToLower(strings.TrimSpace(p.Tool)) {
	case ToolNmap:
		return Command{Tool: ToolNmap, Params: nmapParams(p.ScanType, target)}, nil
	case ToolSQLMap:
		params := append([]string{"-u", target}, p.Params...)
		if !slices.Contains(params, "--batch") {
			params = append(params, "--batch")
		}
		return Command{Tool: ToolSQLMap, Params: params}, nil
	case ToolDirsearch:
		extra := p.Params
		if len(extra) == 0 {
			extra = defaultDirsearchParams
		}
		params := append(append([]string(nil), extra...), "-u", target)
		return Command{Tool: ToolDirsearch, Params: params}, nil
	default:
		return Command{}, fmt.Errorf("tool %q is not allowed", p.Tool)
	}
}

func nmapParams(scanType, target string) []string {
	switch strings.ToLower(scanType) {
	case ScanFull:
		return []string{"-p-", "-sV", "-sC", "-O", target}
	case ScanVuln:
		return []string{"-sV", "--script", "vuln", target}
	default:
		return []string{"-sV", "-p", "1-1000", target}
	}
}
