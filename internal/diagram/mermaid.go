package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidSafeID(edge.From), mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef entry stroke-width:3px\n")

	for _, id := range model.Entries {
		fmt.Fprintf(&b, "    class %s entry\n", mermaidSafeID(id))
	}
	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}
	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(nodeLabel(node))

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%s}", id, label)
	case NodeKindGenerate:
		return fmt.Sprintf("%s{{%s}}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%s])", id, label)
	default:
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

func nodeLabel(node *Node) string {
	label := strings.ReplaceAll(node.Label, "\n", "<br/>")
	if node.Guard != "" {
		label += "<br/>when " + node.Guard
	}
	if node.Status != nil && node.Status.Status != "running" {
		label += fmt.Sprintf("<br/>%s %dms", node.Status.Status, node.Status.DurationMs)
	}
	return label
}

// mermaidSafeID converts a step ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "_")
	return "s_" + r.Replace(id)
}

// mermaidEscapeLabel quotes a label, escaping embedded quotes.
func mermaidEscapeLabel(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "#quot;") + `"`
}

func mermaidStatusClass(status string) string {
	switch status {
	case "completed", "failed", "running", "skipped":
		return status
	default:
		return ""
	}
}
