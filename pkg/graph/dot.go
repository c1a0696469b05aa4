package graph

import (
	"fmt"
	"io"
)

// WriteDOT renders the graph in Graphviz DOT format, useful for
// inspecting a session's task graph after Term (spec §4.2's "the
// graph remains introspectable after draining").
func (g *Graph) WriteDOT(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := fmt.Fprintln(w, "digraph tilerun {"); err != nil {
		return err
	}
	for id, t := range g.vertices {
		label := fmt.Sprintf("%d: %s (%s, worker=%d)", id, t.kernelID, t.Status(), t.AssignedWorker())
		if _, err := fmt.Fprintf(w, "  t%d [label=%q];\n", id, label); err != nil {
			return err
		}
	}
	for _, e := range g.edges {
		style := "solid"
		if e.Kind == WAR {
			style = "dashed"
		}
		if _, err := fmt.Fprintf(w, "  t%d -> t%d [label=%q, style=%s];\n", e.From, e.To, e.Kind, style); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
