package engine

import (
	"fmt"

	"github.com/smilemakc/flowforge/pkg/models"
)

// Graph is the compiled form of a workflow version: node lookup, adjacency
// with declared edge order preserved, and the resolved entry node.
type Graph struct {
	nodes map[string]*models.Node
	order []string
	out   map[string][]*models.Edge
	in    map[string][]*models.Edge
	entry string
}

// BuildGraph compiles and validates nodes + edges. Validation rejects
// unknown node types, dangling edges, missing entry, and cycles that are not
// scoped to a loop pair — those never reach a worker.
func BuildGraph(nodes []*models.Node, edges []*models.Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: workflow has no nodes", models.ErrInvalidWorkflow)
	}

	g := &Graph{
		nodes: make(map[string]*models.Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
		out:   make(map[string][]*models.Edge),
		in:    make(map[string][]*models.Edge),
	}

	for _, node := range nodes {
		if node.ID == "" {
			return nil, &models.ValidationError{Field: "node.id", Message: "node id is required"}
		}
		if _, dup := g.nodes[node.ID]; dup {
			return nil, &models.ValidationError{Field: "node.id", Message: "duplicate node id: " + node.ID}
		}
		if !models.KnownNodeTypes[node.Type] {
			return nil, fmt.Errorf("%w: %s", models.ErrInvalidNodeType, node.Type)
		}
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for _, edge := range edges {
		if _, ok := g.nodes[edge.From]; !ok {
			return nil, &models.ValidationError{Field: "edge.from", Message: "unknown node: " + edge.From}
		}
		if _, ok := g.nodes[edge.To]; !ok {
			return nil, &models.ValidationError{Field: "edge.to", Message: "unknown node: " + edge.To}
		}
		g.out[edge.From] = append(g.out[edge.From], edge)
		g.in[edge.To] = append(g.in[edge.To], edge)
	}

	if err := g.resolveEntry(); err != nil {
		return nil, err
	}
	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// resolveEntry picks the trigger node that has no incoming edge, or the first
// declared node when there is none. Two such triggers are ambiguous; trigger
// nodes reached by an edge are plain pass-through steps.
func (g *Graph) resolveEntry() error {
	for _, id := range g.order {
		if g.nodes[id].Type == models.NodeTypeTrigger && len(g.in[id]) == 0 {
			if g.entry != "" {
				return &models.ValidationError{Field: "nodes", Message: "multiple trigger nodes"}
			}
			g.entry = id
		}
	}
	if g.entry == "" {
		g.entry = g.order[0]
	}
	return nil
}

// checkCycles rejects static cycles unless every back edge in the cycle is
// a loop re-entry edge (branch "loop" out of a loop node).
func (g *Graph) checkCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, edge := range g.out[id] {
			if edge.Branch == models.BranchLoop && g.nodes[id].Type == models.NodeTypeLoop {
				// loop re-entry is the one sanctioned back edge
				continue
			}
			switch color[edge.To] {
			case gray:
				return fmt.Errorf("%w: via %s -> %s", models.ErrCyclicGraph, id, edge.To)
			case white:
				if err := visit(edge.To); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Entry returns the entry node id.
func (g *Graph) Entry() string {
	return g.entry
}

// Node returns a node by id.
func (g *Graph) Node(id string) (*models.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the outgoing edges of a node in declared order.
func (g *Graph) Outgoing(id string) []*models.Edge {
	return g.out[id]
}

// ParallelEdges returns the fan-out edges of a node grouped by group id, or
// nil when the node has no parallel-tagged edges.
func (g *Graph) ParallelEdges(id string) map[string][]*models.Edge {
	var groups map[string][]*models.Edge
	for _, edge := range g.out[id] {
		if edge.ParallelGroup == "" {
			continue
		}
		if groups == nil {
			groups = make(map[string][]*models.Edge)
		}
		groups[edge.ParallelGroup] = append(groups[edge.ParallelGroup], edge)
	}
	return groups
}

// BranchEdge resolves the edge for a branch label: first declared match
// wins; the "default" edge is the fallback.
func (g *Graph) BranchEdge(id, branch string) (*models.Edge, bool) {
	var fallback *models.Edge
	for _, edge := range g.out[id] {
		if edge.Branch == branch {
			return edge, true
		}
		if edge.Branch == models.BranchDefault && fallback == nil {
			fallback = edge
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

// LabeledEdge returns the first edge out of the node with the exact label.
func (g *Graph) LabeledEdge(id, label string) (*models.Edge, bool) {
	for _, edge := range g.out[id] {
		if edge.Branch == label {
			return edge, true
		}
	}
	return nil, false
}

// PlainEdges returns the unlabeled, non-parallel outgoing edges of a node.
func (g *Graph) PlainEdges(id string) []*models.Edge {
	var out []*models.Edge
	for _, edge := range g.out[id] {
		if edge.Branch == "" && edge.ParallelGroup == "" {
			out = append(out, edge)
		}
	}
	return out
}

// JoinFor finds the parallel_join node the group members converge on, if
// declared.
func (g *Graph) JoinFor(memberIDs []string) string {
	for _, member := range memberIDs {
		for _, edge := range g.out[member] {
			if n, ok := g.nodes[edge.To]; ok && n.Type == models.NodeTypeParallelJoin {
				return edge.To
			}
		}
	}
	return ""
}
