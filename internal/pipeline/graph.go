// Package pipeline runs a fixed graph of generation stages in dependency
// order, collecting each stage's output.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stage is one node of the graph. Run receives the seed values and the
// outputs of its declared dependencies, nothing else.
type Stage struct {
	Name string
	// Output is the state key the stage writes. Empty means Name.
	Output string
	Deps   []string
	Run    func(ctx context.Context, in map[string]string) (string, error)
}

func (s Stage) output() string {
	if s.Output != "" {
		return s.Output
	}
	return s.Name
}

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Graph is a validated, topologically ordered set of stages.
type Graph struct {
	inputs []string
	order  []Stage
	logger *zap.Logger
}

// New validates stages against the seed input names and fixes an execution
// order. Names and outputs must be unique, every dependency must be a seed
// input or another stage's output, and the graph must be acyclic. Ties in
// the order follow declaration order.
func New(inputs []string, stages ...Stage) (*Graph, error) {
	provided := make(map[string]int, len(inputs)+len(stages)) // key -> producing stage index, -1 for seed
	for _, in := range inputs {
		provided[in] = -1
	}
	names := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage %d has no name", i)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("stage %s has no Run func", s.Name)
		}
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate stage name %q", s.Name)
		}
		names[s.Name] = true
		if _, dup := provided[s.output()]; dup {
			return nil, fmt.Errorf("stage %s: output %q is already provided", s.Name, s.output())
		}
		provided[s.output()] = i
	}

	indegree := make([]int, len(stages))
	dependents := make([][]int, len(stages))
	for i, s := range stages {
		for _, d := range s.Deps {
			src, ok := provided[d]
			if !ok {
				return nil, fmt.Errorf("stage %s depends on undeclared input %q", s.Name, d)
			}
			if src >= 0 {
				indegree[i]++
				dependents[src] = append(dependents[src], i)
			}
		}
	}

	done := make([]bool, len(stages))
	order := make([]Stage, 0, len(stages))
	for len(order) < len(stages) {
		next := -1
		for i := range stages {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, fmt.Errorf("stage graph has a cycle")
		}
		done[next] = true
		order = append(order, stages[next])
		for _, j := range dependents[next] {
			indegree[j]--
		}
	}

	return &Graph{inputs: inputs, order: order, logger: zap.NewNop()}, nil
}

// WithLogger sets the logger used for per-stage diagnostics.
func (g *Graph) WithLogger(l *zap.Logger) *Graph {
	if l != nil {
		g.logger = l
	}
	return g
}

// Order returns the stage names in execution order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	for i, s := range g.order {
		out[i] = s.Name
	}
	return out
}

// Run executes the stages one at a time. On failure it returns the state
// accumulated so far together with a *StageError; later stages do not run.
func (g *Graph) Run(ctx context.Context, seed map[string]string) (*State, error) {
	for _, in := range g.inputs {
		if _, ok := seed[in]; !ok {
			return nil, fmt.Errorf("missing pipeline input %q", in)
		}
	}

	st := newState()
	for _, s := range g.order {
		if err := ctx.Err(); err != nil {
			return st, &StageError{Stage: s.Name, Err: err}
		}

		in := make(map[string]string, len(seed)+len(s.Deps))
		for k, v := range seed {
			in[k] = v
		}
		for _, d := range s.Deps {
			if v, ok := st.Get(d); ok {
				in[d] = v
			} else if _, seeded := seed[d]; !seeded {
				return st, &StageError{Stage: s.Name, Err: fmt.Errorf("input %q not available", d)}
			}
		}

		start := time.Now()
		out, err := s.Run(ctx, in)
		if err != nil {
			g.logger.Warn("pipeline stage failed", zap.String("stage", s.Name), zap.Duration("duration", time.Since(start)), zap.Error(err))
			return st, &StageError{Stage: s.Name, Err: err}
		}
		if err := st.set(s.output(), out); err != nil {
			return st, &StageError{Stage: s.Name, Err: err}
		}
		g.logger.Debug("pipeline stage done", zap.String("stage", s.Name), zap.Duration("duration", time.Since(start)))
	}
	return st, nil
}
