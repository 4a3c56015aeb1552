package graph

import (
	"fmt"
	"io"
	"strings"
)

// DOTNode is implemented by vertices that describe their own node. Other vertices are labeled with their id.
type DOTNode interface {
	DOTLabel() string
	// DOTColor is a color name understood by Graphviz, or "" for the default color
	DOTColor() string
}

// EncodeDOT writes the graph in DOT format, e.g., for rendering with Graphviz. Nodes and edges are written in vertex id
// order, so equal graphs encode identically.
func EncodeDOT[V Vertex](g *Graph[V], w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("digraph G {\n")
	sb.WriteString(`node [fontname="Helvetica,Arial,sans-serif"]` + "\n")

	ids := g.VertexIds()
	nodeIds := make(map[string]int, len(ids))
	for i, id := range ids {
		nodeIds[id] = i
		sb.WriteString(fmt.Sprintf("n%d [%s]\n", i, nodeAttributes(id, g.verticesById[id])))
	}
	for _, source := range ids {
		for _, target := range g.Successors(source) {
			sb.WriteString(fmt.Sprintf("n%d -> n%d\n", nodeIds[source], nodeIds[target]))
		}
	}
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func nodeAttributes(id string, v any) string {
	node, ok := v.(DOTNode)
	if !ok {
		return fmt.Sprintf("label=%q", id)
	}
	attrs := fmt.Sprintf("label=%q", node.DOTLabel())
	if color := node.DOTColor(); color != "" {
		attrs += fmt.Sprintf(" color=%q", color)
	}
	return attrs
}
