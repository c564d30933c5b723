package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/kalambet/cybermentor/internal/composer"
	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/retrieval"
)

// State keys written by the planning stages.
const (
	KeyUserInput    = "user_input"
	KeyChatHistory  = "chat_history"
	KeyRecon        = "recon_results"
	KeyAnalysis     = "analysis_results"
	KeyExploitation = "exploitation_results"
	KeyRAGContext   = "rag_context"
	KeyActionable   = "actionable_intelligence"
	KeyManualGuide  = "manual_guide"
)

// ContextRetriever is the filtered retrieval used by the rag_context stage.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, sources []retrieval.Source) (retrieval.Result, error)
}

// PlanDeps wires the planning stages.
type PlanDeps struct {
	Generator   engine.Generator
	Retriever   ContextRetriever
	ManualGuide bool
}

// PlanStages returns the pentest planning stages: recon, analysis,
// exploitation, rag_context and actionable_intelligence, plus manual_guide
// when enabled. sources restricts the rag_context retrieval.
func PlanStages(deps PlanDeps, sources []retrieval.Source) []Stage {
	stages := []Stage{
		generationStage("recon", KeyRecon, composer.Recon, deps.Generator),
		generationStage("analysis", KeyAnalysis, composer.Analysis, deps.Generator),
		generationStage("exploitation", KeyExploitation, composer.Exploitation, deps.Generator),
		{
			Name: KeyRAGContext,
			Deps: []string{KeyUserInput},
			Run: func(ctx context.Context, in map[string]string) (string, error) {
				res, err := deps.Retriever.Retrieve(ctx, in[KeyUserInput], sources)
				if err != nil {
					return "", err
				}
				return retrieval.FormatContext(res), nil
			},
		},
		generationStage("actionable_intelligence", KeyActionable, composer.Actionable, deps.Generator),
	}
	if deps.ManualGuide {
		stages = append(stages, generationStage("manual_guide", KeyManualGuide, composer.ManualGuide, deps.Generator))
	}
	return stages
}

// generationStage renders prompt from its template variables, which are
// also the stage's dependencies.
func generationStage(name, output string, prompt composer.Prompt, gen engine.Generator) Stage {
	return Stage{
		Name:   name,
		Output: output,
		Deps:   composer.Variables(prompt),
		Run: func(ctx context.Context, in map[string]string) (string, error) {
			text, err := composer.Render(prompt, in)
			if err != nil {
				return "", err
			}
			return gen.Generate(ctx, text)
		},
	}
}

// Planner runs the planning graph for one request.
type Planner struct {
	deps   PlanDeps
	logger *zap.Logger
}

func NewPlanner(deps PlanDeps, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{deps: deps, logger: logger}
}

// Plan runs every planning stage and returns the full state. On failure
// the partial state is returned with a *StageError.
func (p *Planner) Plan(ctx context.Context, userInput, chatHistory string, sources []retrieval.Source) (*State, error) {
	g, err := New([]string{KeyUserInput, KeyChatHistory}, PlanStages(p.deps, sources)...)
	if err != nil {
		return nil, err
	}
	return g.WithLogger(p.logger).Run(ctx, map[string]string{
		KeyUserInput:   userInput,
		KeyChatHistory: chatHistory,
	})
}
