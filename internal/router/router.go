// Package router is the single entry point for a request: it classifies
// and retrieves in parallel, then runs exactly one answering strategy.
package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cybermentor/internal/composer"
	"github.com/kalambet/cybermentor/internal/engine"
	"github.com/kalambet/cybermentor/internal/intent"
	"github.com/kalambet/cybermentor/internal/logging"
	"github.com/kalambet/cybermentor/internal/pipeline"
	"github.com/kalambet/cybermentor/internal/retrieval"
	"github.com/kalambet/cybermentor/internal/toolexec"
)

// ErrNoToolExecutor is returned for tool requests when no listener is wired.
var ErrNoToolExecutor = errors.New("tool execution is not configured")

// Classifier labels a request. *intent.Classifier implements it.
type Classifier interface {
	Classify(ctx context.Context, userInput string, history []intent.Turn) (intent.Result, error)
}

// Retriever does filtered retrieval. *retrieval.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, sources []retrieval.Source) (retrieval.Result, error)
}

// Planner runs the staged pipeline. *pipeline.Planner implements it.
type Planner interface {
	Plan(ctx context.Context, userInput, chatHistory string, sources []retrieval.Source) (*pipeline.State, error)
}

// ToolExecutor runs a tool for the user. *toolexec.Agent implements it.
type ToolExecutor interface {
	Execute(ctx context.Context, task toolexec.Task) (*toolexec.Result, error)
}

// Strategy names the branch that produced a response.
type Strategy string

const (
	StrategyTool     Strategy = "tool"
	StrategyDirect   Strategy = "direct"
	StrategyPipeline Strategy = "pipeline"
)

type Request struct {
	UserInput       string             `json:"user_input" validate:"required"`
	ChatHistory     []intent.Turn      `json:"chat_history,omitempty"`
	SelectedSources []retrieval.Source `json:"selected_sources,omitempty"`
}

// Response carries the output of exactly one strategy: Tool, Answer or Plan.
// IntentName is the canonical name of Intent; Label is the classifier's
// trimmed output it was parsed from.
type Response struct {
	Intent     intent.Intent    `json:"-"`
	IntentName string           `json:"intent"`
	Label      string           `json:"label,omitempty"`
	Strategy   Strategy         `json:"strategy"`
	Answer     string           `json:"answer,omitempty"`
	Tool       *toolexec.Result `json:"tool,omitempty"`
	Plan       *pipeline.State  `json:"plan,omitempty"`
	Retrieval  retrieval.Result `json:"-"`
}

// Text is the primary user-facing text of the response.
func (r *Response) Text() string {
	switch r.Strategy {
	case StrategyTool:
		if r.Tool != nil {
			return r.Tool.Text()
		}
	case StrategyDirect:
		return r.Answer
	case StrategyPipeline:
		if r.Plan != nil {
			if s, ok := r.Plan.Get(pipeline.KeyActionable); ok {
				return s
			}
		}
	}
	return ""
}

// Deps wires a Router. Tools may be nil when no listener is configured.
type Deps struct {
	Classifier Classifier
	Retriever  Retriever
	Generator  engine.Generator
	Planner    Planner
	Tools      ToolExecutor
}

type Router struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{deps: deps, logger: logger}
}

// Route answers one request. Errors from the model, the retriever or the
// tool executor are returned wrapped; an unrecognized intent is not an
// error and takes the pipeline branch.
func (r *Router) Route(ctx context.Context, req Request) (*Response, error) {
	var (
		cls  intent.Result
		docs retrieval.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cls, err = r.deps.Classifier.Classify(gctx, req.UserInput, req.ChatHistory)
		return err
	})
	g.Go(func() error {
		var err error
		query := intent.ExpandQuery(req.UserInput, req.ChatHistory)
		docs, err = r.deps.Retriever.Retrieve(gctx, query, req.SelectedSources)
		if err != nil {
			return fmt.Errorf("retrieving context: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("routing request",
		zap.Stringer("intent", cls.Intent),
		zap.String("label", logging.Excerpt(cls.Label, 50)),
		zap.String("input", logging.Excerpt(req.UserInput, 50)),
		zap.Int("docs", len(docs.Chunks)),
		zap.Int("selected_sources", len(req.SelectedSources)),
	)

	resp := &Response{Intent: cls.Intent, IntentName: cls.Intent.String(), Label: cls.Label, Retrieval: docs}
	history := intent.FormatHistory(req.ChatHistory)
	ragContext := retrieval.FormatContext(docs)

	switch cls.Intent {
	case intent.ToolExecution:
		if r.deps.Tools == nil {
			return nil, ErrNoToolExecutor
		}
		res, err := r.deps.Tools.Execute(ctx, toolexec.Task{
			UserInput:       req.UserInput,
			ChatHistory:     history,
			RAGContext:      ragContext,
			SelectedSources: req.SelectedSources,
		})
		if err != nil {
			return nil, fmt.Errorf("tool execution: %w", err)
		}
		resp.Strategy, resp.Tool = StrategyTool, res

	case intent.VulnerabilityInfo, intent.ToolUsage:
		prompt, err := composer.Render(composer.DirectAnswer, map[string]string{
			"user_input":   req.UserInput,
			"rag_context":  ragContext,
			"chat_history": history,
		})
		if err != nil {
			return nil, err
		}
		answer, err := r.deps.Generator.Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("direct answer: %w", err)
		}
		resp.Strategy, resp.Answer = StrategyDirect, answer

	case intent.PlanGeneration, intent.Unknown:
		state, err := r.deps.Planner.Plan(ctx, req.UserInput, history, req.SelectedSources)
		if err != nil {
			return nil, fmt.Errorf("plan generation: %w", err)
		}
		resp.Strategy, resp.Plan = StrategyPipeline, state

	default:
		return nil, fmt.Errorf("unhandled intent %v", cls.Intent)
	}
	return resp, nil
}
