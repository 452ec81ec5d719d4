package diagram

// NodeKind classifies a diagram node by the step kind it draws.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindGenerate  NodeKind = "generate"
	NodeKindWait      NodeKind = "wait"
)

// DiagramModel is the intermediate representation renderers work from.
type DiagramModel struct {
	Title   string
	Nodes   []*Node
	Edges   []Edge
	Entries []string
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Guard  string
	Status *StatusOverlay
}

// StatusOverlay carries the state of a step in one execution.
type StatusOverlay struct {
	Status     string // completed, failed, skipped or running
	DurationMs int64
}

// Edge is a successor link between two steps.
type Edge struct {
	From string
	To   string
}
