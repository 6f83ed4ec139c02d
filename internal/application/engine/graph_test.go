package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/pkg/models"
)

func TestBuildGraphEntryResolution(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []*models.Node
		edges   []*models.Edge
		entry   string
		wantErr bool
	}{
		{
			name: "unique trigger is the entry",
			nodes: []*models.Node{
				node("a", models.NodeTypeCondition, map[string]interface{}{"condition": "true"}),
				node("t", models.NodeTypeTrigger, nil),
			},
			edges: []*models.Edge{{From: "t", To: "a", Branch: ""}},
			entry: "t",
		},
		{
			name: "no trigger falls back to first declared node",
			nodes: []*models.Node{
				node("first", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
				node("second", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
			},
			entry: "first",
		},
		{
			name: "two triggers are rejected",
			nodes: []*models.Node{
				node("t1", models.NodeTypeTrigger, nil),
				node("t2", models.NodeTypeTrigger, nil),
			},
			wantErr: true,
		},
		{
			name:    "empty graph is rejected",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, err := BuildGraph(tt.nodes, tt.edges)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.entry, graph.Entry())
		})
	}
}

func TestBuildGraphRejectsUnknownNodeType(t *testing.T) {
	_, err := BuildGraph([]*models.Node{
		{ID: "x", Type: models.NodeType("teleport"), Config: map[string]interface{}{}},
	}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidNodeType)
}

func TestBuildGraphRejectsDanglingEdge(t *testing.T) {
	_, err := BuildGraph(
		[]*models.Node{node("a", models.NodeTypeTrigger, nil)},
		[]*models.Edge{{From: "a", To: "ghost"}},
	)
	require.Error(t, err)
}

func TestBuildGraphRejectsUnscopedCycle(t *testing.T) {
	_, err := BuildGraph(
		[]*models.Node{
			node("a", models.NodeTypeTrigger, nil),
			node("b", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
			node("c", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
		},
		[]*models.Edge{
			edge("a", "b"),
			edge("b", "c"),
			edge("c", "b"),
		},
	)
	assert.ErrorIs(t, err, models.ErrCyclicGraph)
}

func TestBuildGraphAllowsLoopScopedCycle(t *testing.T) {
	graph, err := BuildGraph(
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("loop_start", models.NodeTypeLoop, map[string]interface{}{"role": "start"}),
			node("body", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
			node("loop_end", models.NodeTypeLoop, map[string]interface{}{"role": "end", "loop_id": "loop_start", "max_iterations": 3}),
			node("done", models.NodeTypeTrigger, nil),
		},
		[]*models.Edge{
			edge("t", "loop_start"),
			edge("loop_start", "body"),
			edge("body", "loop_end"),
			{From: "loop_end", To: "loop_start", Branch: models.BranchLoop},
			{From: "loop_end", To: "done", Branch: models.BranchExit},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "t", graph.Entry())
}

func TestBranchEdgeResolution(t *testing.T) {
	graph, err := BuildGraph(
		[]*models.Node{
			node("cond", models.NodeTypeCondition, map[string]interface{}{"condition": "true"}),
			node("yes", models.NodeTypeTrigger, nil),
			node("fallback", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
		},
		[]*models.Edge{
			{From: "cond", To: "yes", Branch: "true"},
			{From: "cond", To: "fallback", Branch: models.BranchDefault},
		},
	)
	require.NoError(t, err)

	matched, ok := graph.BranchEdge("cond", "true")
	require.True(t, ok)
	assert.Equal(t, "yes", matched.To)

	// unmatched label falls through to the default edge
	fallback, ok := graph.BranchEdge("cond", "purple")
	require.True(t, ok)
	assert.Equal(t, "fallback", fallback.To)
}

func TestParallelEdgesGrouping(t *testing.T) {
	graph, err := BuildGraph(
		[]*models.Node{
			node("fan", models.NodeTypeTrigger, nil),
			node("x", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
			node("y", models.NodeTypeHTTPRequest, map[string]interface{}{"url": "http://example.test"}),
			node("j", models.NodeTypeParallelJoin, nil),
		},
		[]*models.Edge{
			{From: "fan", To: "x", ParallelGroup: "g"},
			{From: "fan", To: "y", ParallelGroup: "g"},
			edge("x", "j"),
			edge("y", "j"),
		},
	)
	require.NoError(t, err)

	groups := graph.ParallelEdges("fan")
	require.Len(t, groups, 1)
	assert.Len(t, groups["g"], 2)
	assert.Equal(t, "j", graph.JoinFor([]string{"x", "y"}))
	assert.Empty(t, graph.PlainEdges("fan"))
}
