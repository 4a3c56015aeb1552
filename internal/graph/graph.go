package graph

import (
	"fmt"
	"sort"
)

type Vertex interface {
	GetId() string
}

type AdjacencyMatrix map[string]map[string]bool

// Graph is a directed graph
type Graph[V Vertex] struct {
	verticesById map[string]V
	edges        AdjacencyMatrix
}

func NewGraph[V Vertex]() *Graph[V] {
	return &Graph[V]{
		verticesById: make(map[string]V),
		edges:        make(AdjacencyMatrix),
	}
}

// AddVertex adds a vertex to the graph.
// If the vertex already exists, it will override it and keep the edges
func (g *Graph[V]) AddVertex(v V) {
	g.verticesById[v.GetId()] = v
	if g.edges[v.GetId()] == nil {
		g.edges[v.GetId()] = make(map[string]bool)
	}
}

// AddEdge adds an edge to the graph. If the vertex doesn't exist, it will error
func (g *Graph[V]) AddEdge(sourceId, targetId string) error {
	if !g.HasVertexWithId(sourceId) {
		return fmt.Errorf("source %s does not exist", sourceId)
	}
	if !g.HasVertexWithId(targetId) {
		return fmt.Errorf("target %s does not exist", targetId)
	}
	g.edges[sourceId][targetId] = true

	return nil
}

func (g *Graph[V]) GetVertex(id string) V {
	return g.verticesById[id]
}

func (g *Graph[V]) HasVertexWithId(id string) bool {
	_, hasVertex := g.verticesById[id]
	return hasVertex
}

// VertexIds returns the ids of all vertices, sorted
func (g *Graph[V]) VertexIds() []string {
	ids := make([]string, 0, len(g.verticesById))
	for id := range g.verticesById {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Successors returns the ids of the vertices the vertex has an edge to, sorted
func (g *Graph[V]) Successors(id string) []string {
	var ids []string
	for target, isAdjacent := range g.edges[id] {
		if isAdjacent {
			ids = append(ids, target)
		}
	}
	sort.Strings(ids)
	return ids
}

// VerticesInCycles returns the ids of every vertex that lies on a cycle, sorted. A vertex with an edge to itself is on
// a cycle.
func (g *Graph[V]) VerticesInCycles() []string {
	// Tarjan's strongly connected components. Every component with more than one vertex is a set of cycles.
	var (
		index    = 0
		indexOf  = make(map[string]int)
		lowLink  = make(map[string]int)
		onStack  = make(map[string]bool)
		stack    []string
		inCycles []string
	)

	var strongConnect func(id string)
	strongConnect = func(id string) {
		indexOf[id] = index
		lowLink[id] = index
		index++
		stack = append(stack, id)
		onStack[id] = true

		for _, target := range g.Successors(id) {
			if _, visited := indexOf[target]; !visited {
				strongConnect(target)
				lowLink[id] = min(lowLink[id], lowLink[target])
			} else if onStack[target] {
				lowLink[id] = min(lowLink[id], indexOf[target])
			}
		}

		if lowLink[id] != indexOf[id] {
			return
		}
		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == id {
				break
			}
		}
		if len(component) > 1 || g.edges[id][id] {
			inCycles = append(inCycles, component...)
		}
	}

	for _, id := range g.VertexIds() {
		if _, visited := indexOf[id]; !visited {
			strongConnect(id)
		}
	}
	sort.Strings(inCycles)
	return inCycles
}
