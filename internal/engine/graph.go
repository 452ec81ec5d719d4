package engine

import (
	"github.com/alexsaulik/promptfolio/internal/expressions"
	"github.com/alexsaulik/promptfolio/internal/handlers"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Graph is the resolved, validated form of a workflow definition that the
// walker traverses.
type Graph struct {
	Steps        map[string]*schema.StepDefinition // step ID → definition
	Order        []string                          // definition order
	Successors   map[string][]string               // step ID → outgoing edges, declaration order
	Predecessors map[string][]string               // step ID → incoming edges
	Entries      []string                          // steps with no incoming edge, definition order
	Sorted       []string                          // topological order; nil when cyclic
	Unreachable  []string                          // steps no entry can reach
}

// GraphOptions tunes ParseGraph.
type GraphOptions struct {
	Cycles CyclePolicy
	// Guards compiles step `when` expressions. nil skips the check.
	Guards *expressions.GuardEngine
}

// ParseGraph validates def and resolves its successor graph.
// Check order: step identity and kind, step configs, successor references,
// entry points, cycles, guards.
func ParseGraph(def *schema.WorkflowDefinition, opts GraphOptions) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if opts.Cycles == "" {
		opts.Cycles = CycleReject
	}

	g := &Graph{
		Steps:        make(map[string]*schema.StepDefinition, len(def.Steps)),
		Order:        make([]string, 0, len(def.Steps)),
		Successors:   make(map[string][]string, len(def.Steps)),
		Predecessors: make(map[string][]string, len(def.Steps)),
	}

	// First pass: register steps.
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if _, exists := g.Steps[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step ID: %s", step.ID)
		}
		if !step.Kind.Valid() {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has unknown kind: %q", step.ID, step.Kind)
		}
		g.Steps[step.ID] = step
		g.Order = append(g.Order, step.ID)
	}

	// Second pass: kind-specific config.
	for _, id := range g.Order {
		if err := handlers.ValidateConfig(g.Steps[id]); err != nil {
			return nil, err
		}
	}

	// Third pass: successor references.
	for _, id := range g.Order {
		step := g.Steps[id]
		seen := make(map[string]bool, len(step.Successors))
		for _, next := range step.Successors {
			if _, exists := g.Steps[next]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeDanglingSuccessor,
					"step %s lists unknown successor %q", id, next).
					WithStep(id).
					WithDetails(map[string]any{"successor": next})
			}
			if seen[next] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has duplicate successor: %s", id, next)
			}
			seen[next] = true
			g.Predecessors[next] = append(g.Predecessors[next], id)
		}
		g.Successors[id] = step.Successors
	}

	// Entry points.
	for _, id := range g.Order {
		if len(g.Predecessors[id]) == 0 {
			g.Entries = append(g.Entries, id)
		}
	}
	if len(g.Entries) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNoEntryPoint,
			"workflow %q has no entry step: every step is the successor of another", def.ID)
	}

	// Kahn's algorithm: topological sort + cycle detection.
	sorted, ok := g.topoSort()
	switch {
	case ok:
		g.Sorted = sorted
	case opts.Cycles == CycleReject:
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "workflow %q contains a cycle", def.ID).
			WithDetails(map[string]any{"steps": g.cycleMembers(sorted)})
	}
	g.Unreachable = g.unreachable()

	if opts.Guards != nil {
		for _, id := range g.Order {
			if when := g.Steps[id].When; when != "" {
				if err := opts.Guards.Compile(when); err != nil {
					return nil, schema.NewErrorf(schema.ErrCodeValidation,
						"step %s has invalid guard: %s", id, err.Error()).WithStep(id).WithCause(err)
				}
			}
		}
	}

	return g, nil
}

// Has reports whether g contains a step with the given ID.
func (g *Graph) Has(id string) bool {
	_, ok := g.Steps[id]
	return ok
}

// Kinds returns the distinct step kinds used by the graph, in definition order.
func (g *Graph) Kinds() []schema.StepKind {
	seen := make(map[schema.StepKind]bool)
	var kinds []schema.StepKind
	for _, id := range g.Order {
		k := g.Steps[id].Kind
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (g *Graph) topoSort() ([]string, bool) {
	inDegree := make(map[string]int, len(g.Steps))
	for _, id := range g.Order {
		inDegree[id] = len(g.Predecessors[id])
	}

	queue := make([]string, 0, len(g.Entries))
	queue = append(queue, g.Entries...)

	sorted := make([]string, 0, len(g.Steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)
		for _, next := range g.Successors[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return sorted, len(sorted) == len(g.Steps)
}

// cycleMembers lists the steps Kahn's algorithm could not order.
func (g *Graph) cycleMembers(sorted []string) []string {
	done := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		done[id] = true
	}
	var rest []string
	for _, id := range g.Order {
		if !done[id] {
			rest = append(rest, id)
		}
	}
	return rest
}

func (g *Graph) unreachable() []string {
	seen := make(map[string]bool, len(g.Steps))
	stack := append([]string(nil), g.Entries...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.Successors[id]...)
	}
	var out []string
	for _, id := range g.Order {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}
