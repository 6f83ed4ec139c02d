package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/pkg/models"
)

func TestLoopIteratesToBound(t *testing.T) {
	env := newTestEnv(t, DefaultRetryManager())

	var bodyRuns atomic.Int32
	env.registry.Register(models.NodeTypeCode, &stubExecutor{fn: func(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		bodyRuns.Add(1)
		loopCtx, _ := input["loop_start"].(map[string]interface{})
		return map[string]interface{}{"iteration": loopCtx["index"]}, nil
	}})

	workflow := env.createWorkflow(t,
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("start", models.NodeTypeLoop, map[string]interface{}{"role": "start"}),
			node("body", models.NodeTypeCode, map[string]interface{}{"source": "stub"}),
			node("end", models.NodeTypeLoop, map[string]interface{}{"role": "end", "loop_id": "start", "max_iterations": 3}),
			node("after", models.NodeTypeTrigger, nil),
		},
		[]*models.Edge{
			edge("t", "start"),
			edge("start", "body"),
			edge("body", "end"),
			{From: "end", To: "start", Branch: models.BranchLoop},
			{From: "end", To: "after", Branch: models.BranchExit},
		},
	)

	execution, err := env.engine.CreateExecution(context.Background(), workflow.ID, nil)
	require.NoError(t, err)

	final := env.drive(t, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.EqualValues(t, 3, bodyRuns.Load())
	assert.Contains(t, final.State.CompletedNodeIDs, "after")
	// loop context is cleaned up on exit
	assert.NotContains(t, final.State.ExecutionData, "loop_start")
}

func TestLoopExposesCurrentItem(t *testing.T) {
	env := newTestEnv(t, DefaultRetryManager())

	var seen []interface{}
	env.registry.Register(models.NodeTypeCode, &stubExecutor{fn: func(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		loopCtx, _ := input["loop_items_loop"].(map[string]interface{})
		seen = append(seen, loopCtx["item"])
		return map[string]interface{}{}, nil
	}})

	workflow := env.createWorkflow(t,
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("items_loop", models.NodeTypeLoop, map[string]interface{}{"role": "start", "items_key": "names"}),
			node("body", models.NodeTypeCode, map[string]interface{}{"source": "stub"}),
			node("end", models.NodeTypeLoop, map[string]interface{}{"role": "end", "loop_id": "items_loop"}),
		},
		[]*models.Edge{
			edge("t", "items_loop"),
			edge("items_loop", "body"),
			edge("body", "end"),
			{From: "end", To: "items_loop", Branch: models.BranchLoop},
		},
	)

	execution, err := env.engine.CreateExecution(context.Background(), workflow.ID, map[string]interface{}{
		"names": []interface{}{"ada", "grace"},
	})
	require.NoError(t, err)

	final := env.drive(t, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []interface{}{"ada", "grace"}, seen)
}

func TestCatchEdgeRoutesFailure(t *testing.T) {
	env := newTestEnv(t, DefaultRetryManager())

	env.registry.Register(models.NodeTypeCode, &stubExecutor{fn: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("downstream unavailable")
	}})

	var handled atomic.Bool
	env.registry.Register(models.NodeType("recover"), &stubExecutor{fn: func(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
		handled.Store(true)
		return map[string]interface{}{"handled_error": input["error"]}, nil
	}})
	models.KnownNodeTypes[models.NodeType("recover")] = true
	defer delete(models.KnownNodeTypes, models.NodeType("recover"))

	workflow := env.createWorkflow(t,
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("risky", models.NodeTypeCode, map[string]interface{}{"source": "stub"}),
			node("rescue", models.NodeType("recover"), nil),
			node("cleanup", models.NodeTypeTrigger, nil),
		},
		[]*models.Edge{
			edge("t", "risky"),
			{From: "risky", To: "rescue", Branch: models.BranchCatch},
			{From: "risky", To: "cleanup", Branch: models.BranchFinally},
		},
	)

	execution, err := env.engine.CreateExecution(context.Background(), workflow.ID, nil)
	require.NoError(t, err)

	final := env.drive(t, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.True(t, handled.Load())
	assert.Equal(t, "downstream unavailable", final.State.ExecutionData["error"])
	// catch then finally both ran
	assert.Contains(t, final.State.CompletedNodeIDs, "rescue")
	assert.Contains(t, final.State.CompletedNodeIDs, "cleanup")
	// no retry was scheduled: the catch edge absorbed the failure
	assert.Zero(t, final.RetryCount)
}

func TestSwitchRoutesThroughDefaultEdge(t *testing.T) {
	env := newTestEnv(t, DefaultRetryManager())

	workflow := env.createWorkflow(t,
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("route", models.NodeTypeSwitch, map[string]interface{}{
				"expression": "tier",
				"cases":      []interface{}{"gold"},
			}),
			node("vip", models.NodeTypeTrigger, nil),
			node("standard", models.NodeTypeTrigger, nil),
		},
		[]*models.Edge{
			edge("t", "route"),
			{From: "route", To: "vip", Branch: "gold"},
			{From: "route", To: "standard", Branch: models.BranchDefault},
		},
	)

	execution, err := env.engine.CreateExecution(context.Background(), workflow.ID, map[string]interface{}{"tier": "wood"})
	require.NoError(t, err)

	final := env.drive(t, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Contains(t, final.State.CompletedNodeIDs, "standard")
	assert.NotContains(t, final.State.CompletedNodeIDs, "vip")
}

func TestWorkflowDeadlineTerminates(t *testing.T) {
	env := newTestEnv(t, DefaultRetryManager())

	workflow := env.createWorkflow(t,
		[]*models.Node{
			node("t", models.NodeTypeTrigger, nil),
			node("next", models.NodeTypeTrigger, nil),
		},
		[]*models.Edge{edge("t", "next")},
	)

	ctx := context.Background()
	execution, err := env.engine.CreateExecution(ctx, workflow.ID, nil)
	require.NoError(t, err)

	// force an already-expired deadline
	loaded, err := env.store.Executions().Get(ctx, execution.ID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Second)
	loaded.State.Deadline = &past
	require.NoError(t, env.store.Executions().Save(ctx, loaded, repository.SaveOptions{}))

	final := env.drive(t, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusTerminated, final.Status)
	assert.Contains(t, final.Error, "workflow timeout")
	assert.Empty(t, final.State.CompletedNodeIDs)
}

func TestParallelAnyCompletesWithOneSuccess(t *testing.T) {
	env := newTestEnv(t, &RetryManager{MaxRetries: 0, InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond})

	env.registry.Register(models.NodeType("ok_branch"), &stubExecutor{fn: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"v": "ok"}, nil
	}})
	env.registry.Register(models.NodeType("bad_branch"), &stubExecutor{fn: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, fmt.Errorf("nope")
	}})
	models.KnownNodeTypes[models.NodeType("ok_branch")] = true
	models.KnownNodeTypes[models.NodeType("bad_branch")] = true
	defer delete(models.KnownNodeTypes, models.NodeType("ok_branch"))
	defer delete(models.KnownNodeTypes, models.NodeType("bad_branch"))

	workflow := env.createWorkflow(t,
		[]*models.Node{
			node("t", models.NodeTypeTrigger, map[string]interface{}{"wait_mode": "any"}),
			node("good", models.NodeType("ok_branch"), nil),
			node("bad", models.NodeType("bad_branch"), nil),
			node("join", models.NodeTypeParallelJoin, nil),
			node("end", models.NodeTypeTrigger, nil),
		},
		[]*models.Edge{
			{From: "t", To: "good", ParallelGroup: "g"},
			{From: "t", To: "bad", ParallelGroup: "g"},
			edge("good", "join"),
			edge("bad", "join"),
			edge("join", "end"),
		},
	)

	execution, err := env.engine.CreateExecution(context.Background(), workflow.ID, nil)
	require.NoError(t, err)

	final := env.drive(t, execution.ID, terminal)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)

	joinOutput, ok := final.State.ExecutionData["join_output"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, joinOutput["success_count"])
	assert.Equal(t, false, joinOutput["all_completed"])
}
