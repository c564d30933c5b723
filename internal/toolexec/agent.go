package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/composer"
	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/retrieval"
)

// StructuredGenerator is a generator that can constrain its output to a
// JSON schema. *engine.TextGenerator implements it.
type StructuredGenerator interface {
	engine.Generator
	GenerateJSON(ctx context.Context, prompt string, schema *engine.Schema) (string, error)
}

// Runner executes a command. *ListenerClient implements it.
type Runner interface {
	Execute(ctx context.Context, cmd Command) (*Output, error)
}

// Task is the bundle handed over by the router.
type Task struct {
	UserInput       string
	ChatHistory     string
	RAGContext      string
	SelectedSources []retrieval.Source
}

// Plan is the model's decision about which tool to run.
type Plan struct {
	Tool     string   `json:"tool"`
	Target   string   `json:"target"`
	ScanType string   `json:"scan_type"`
	Params   []string `json:"params"`
	Question string   `json:"question"`
}

// Result is the outcome of one task. When the model needed more
// information, Question is set and nothing was executed.
type Result struct {
	Plan     Plan   `json:"plan"`
	Command  string `json:"command,omitempty"`
	Executed bool   `json:"executed"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Question string `json:"question,omitempty"`
	Analysis string `json:"analysis,omitempty"`
}

// Text is the user-facing rendering of the result.
func (r *Result) Text() string {
	if !r.Executed {
		return r.Question
	}
	return r.Analysis
}

// Agent plans a tool run with the model, executes it on a Runner and has
// the model analyze the output.
type Agent struct {
	gen    StructuredGenerator
	runner Runner
	logger *zap.Logger
}

func NewAgent(gen StructuredGenerator, runner Runner, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{gen: gen, runner: runner, logger: logger}
}

func planSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"tool":      {Type: "string", Description: "One of: nmap, sqlmap, dirsearch"},
			"target":    {Type: "string", Description: "IP, host name or URL. Empty when the user gave none"},
			"scan_type": {Type: "string", Description: "nmap only: basic, full or vuln"},
			"params":    {Type: "array", Description: "Extra tool flags", Items: &engine.SchemaProperty{Type: "string"}},
			"question":  {Type: "string", Description: "Clarifying question when the target is missing"},
		},
		Required: []string{"tool", "target"},
	}
}

// Execute runs one task. Generation and transport failures are returned as
// errors; a run the listener reports as failed is a Result with Success false.
func (a *Agent) Execute(ctx context.Context, task Task) (*Result, error) {
	prompt, err := composer.Render(composer.ToolPlan, map[string]string{
		"user_input":   task.UserInput,
		"chat_history": task.ChatHistory,
		"rag_context":  task.RAGContext,
	})
	if err != nil {
		return nil, err
	}

	raw, err := a.gen.GenerateJSON(ctx, prompt, planSchema())
	if err != nil {
		return nil, fmt.Errorf("planning tool run: %w", err)
	}
	plan, err := parsePlan(raw)
	if err != nil {
		return nil, fmt.Errorf("planning tool run: %w: %w", engine.ErrGeneration, err)
	}

	res := &Result{Plan: plan}
	if strings.TrimSpace(plan.Target) == "" {
		res.Question = plan.Question
		if res.Question == "" {
			res.Question = "Which target (URL, IP address or host name) should I run this against?"
		}
		a.logger.Info("tool run needs a target", zap.String("tool", plan.Tool))
		return res, nil
	}

	cmd, err := BuildCommand(plan)
	if err != nil {
		res.Question = fmt.Sprintf("I can't run that: %v. I can run nmap, sqlmap or dirsearch against a concrete target.", err)
		return res, nil
	}
	res.Command = cmd.String()

	a.logger.Info("executing tool", zap.String("tool", cmd.Tool), zap.Strings("params", cmd.Params))
	out, err := a.runner.Execute(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", cmd.Tool, err)
	}
	res.Executed = true
	res.Success = out.Success
	res.Output = out.Output
	if !out.Success {
		res.Output = strings.TrimSpace(out.Output + "\n" + out.ErrorOutput)
	}

	prompt, err = composer.Render(composer.ToolAnalysis, map[string]string{
		"user_input":  task.UserInput,
		"command":     res.Command,
		"tool_output": res.Output,
	})
	if err != nil {
		return nil, err
	}
	res.Analysis, err = a.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s output: %w", cmd.Tool, err)
	}
	return res, nil
}

// parsePlan decodes the plan, tolerating a markdown code fence around it.
func parsePlan(raw string) (Plan, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var p Plan
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Plan{}, fmt.Errorf("decoding tool plan: %w", err)
	}
	return p, nil
}
