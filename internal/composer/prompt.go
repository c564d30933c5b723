// Package composer renders the prompts sent to the generation backend.
package composer

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
	"unicode/utf8"
)

// Prompt names one of the built-in prompt templates.
type Prompt string

const (
	Router       Prompt = "router"
	DirectAnswer Prompt = "direct_answer"
	Recon        Prompt = "recon"
	Analysis     Prompt = "analysis"
	Exploitation Prompt = "exploitation"
	Actionable   Prompt = "actionable_intelligence"
	ManualGuide  Prompt = "manual_guide"
	ToolPlan     Prompt = "tool_plan"
	ToolAnalysis Prompt = "tool_analysis"

	SourceSummary      Prompt = "source_summary"
	SuggestedQuestions Prompt = "suggested_questions"
)

// MaxDocumentRunes bounds the document text placed into the source summary
// and suggested questions prompts.
const MaxDocumentRunes = 30000

var sources = map[Prompt]string{
	Router:       routerTemplate,
	DirectAnswer: directAnswerTemplate,
	Recon:        reconTemplate,
	Analysis:     analysisTemplate,
	Exploitation: exploitationTemplate,
	Actionable:   actionableTemplate,
	ManualGuide:  manualGuideTemplate,
	ToolPlan:     toolPlanTemplate,
	ToolAnalysis: toolAnalysisTemplate,

	SourceSummary:      sourceSummaryTemplate,
	SuggestedQuestions: suggestedQuestionsTemplate,
}

var templates = func() map[Prompt]*template.Template {
	out := make(map[Prompt]*template.Template, len(sources))
	for name, src := range sources {
		out[name] = template.Must(template.New(string(name)).Option("missingkey=error").Parse(src))
	}
	return out
}()

// Render fills the named template with vars. Every variable the template
// references must be present.
func Render(name Prompt, vars map[string]string) (string, error) {
	t, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", name, err)
	}
	return sb.String(), nil
}

// Variables returns the variable names the named template references, in
// first-use order.
func Variables(name Prompt) []string {
	t, ok := templates[name]
	if !ok || t.Tree == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	walk(t.Tree.Root, func(field string) {
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	})
	return out
}

func walk(n parse.Node, visit func(string)) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, visit)
		}
	case *parse.ActionNode:
		walk(n.Pipe, visit)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			for _, arg := range cmd.Args {
				walk(arg, visit)
			}
		}
	case *parse.FieldNode:
		visit(n.Ident[0])
	case *parse.IfNode:
		walkBranch(&n.BranchNode, visit)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, visit)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, visit)
	case *parse.TemplateNode:
		walk(n.Pipe, visit)
	}
}

func walkBranch(b *parse.BranchNode, visit func(string)) {
	walk(b.Pipe, visit)
	walk(b.List, visit)
	walk(b.ElseList, visit)
}

// Document trims text to at most MaxDocumentRunes runes.
func Document(text string) string {
	if utf8.RuneCountInString(text) <= MaxDocumentRunes {
		return text
	}
	r := []rune(text)
	return string(r[:MaxDocumentRunes])
}
