package diagram

import (
	"fmt"

	"github.com/alexsaulik/promptfolio/internal/engine"
	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Build converts a workflow definition into a DiagramModel. If states is
// non-nil, each step's outcome from that execution is overlaid. Cyclic
// definitions are drawn as they are.
func Build(def *schema.WorkflowDefinition, states map[string]*store.StepState) (*DiagramModel, error) {
	g, err := engine.ParseGraph(def, engine.GraphOptions{Cycles: engine.CycleGuard})
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}

	model := &DiagramModel{
		Title:   titleFromDef(def),
		Entries: g.Entries,
	}
	for _, id := range g.Order {
		node := stepToNode(g.Steps[id])
		overlayStatus(node, states)
		model.Nodes = append(model.Nodes, node)
		for _, succ := range g.Successors[id] {
			model.Edges = append(model.Edges, Edge{From: id, To: succ})
		}
	}
	return model, nil
}

func stepToNode(step *schema.StepDefinition) *Node {
	return &Node{
		ID:    step.ID,
		Label: fmt.Sprintf("%s\n%s", step.ID, step.Kind),
		Kind:  kindOf(step.Kind),
		Guard: step.When,
	}
}

func kindOf(k schema.StepKind) NodeKind {
	switch k {
	case schema.KindCondition:
		return NodeKindCondition
	case schema.KindAIGenerate:
		return NodeKindGenerate
	case schema.KindDelay:
		return NodeKindWait
	default:
		return NodeKindAction
	}
}

func overlayStatus(node *Node, states map[string]*store.StepState) {
	st, ok := states[node.ID]
	if !ok || st == nil {
		return
	}
	status := string(st.Outcome)
	if status == "" {
		status = "running"
	}
	node.Status = &StatusOverlay{Status: status, DurationMs: st.DurationMs}
}

func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}
