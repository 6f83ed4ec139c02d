package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/models"
)

type fakeSubWorkflowService struct {
	spawned     []string
	childStatus models.ExecutionStatus
	childData   map[string]interface{}
}

func (f *fakeSubWorkflowService) SpawnChild(_ context.Context, parentID, nodeID, workflowID string, _ map[string]interface{}) (string, error) {
	f.spawned = append(f.spawned, workflowID)
	return "exec-child", nil
}

func (f *fakeSubWorkflowService) ChildState(context.Context, string) (models.ExecutionStatus, map[string]interface{}, error) {
	return f.childStatus, f.childData, nil
}

func TestSubWorkflowFireAndForget(t *testing.T) {
	svc := &fakeSubWorkflowService{}
	e := NewSubWorkflowExecutor(svc)

	output, err := e.Execute(context.Background(), &executor.Context{ExecutionID: "exec-p", NodeID: "sw"}, map[string]interface{}{
		"workflow_id": "wf-child",
	}, map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "exec-child", output["sub_execution_id"])
	_, waiting := output[executor.OutputSubWait]
	assert.False(t, waiting)
	assert.Equal(t, []string{"wf-child"}, svc.spawned)
}

func TestSubWorkflowWaitSpawnsThenParks(t *testing.T) {
	svc := &fakeSubWorkflowService{childStatus: models.ExecutionStatusRunning}
	e := NewSubWorkflowExecutor(svc)
	config := map[string]interface{}{
		"workflow_id":         "wf-child",
		"wait_for_completion": true,
	}

	// First attempt spawns and reports the wait sentinel.
	output, err := e.Execute(context.Background(), &executor.Context{ExecutionID: "exec-p", NodeID: "sw"}, config, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, true, output[executor.OutputSubWait])

	// Re-attempt while the child runs keeps waiting.
	input := map[string]interface{}{executor.InputSubExecutionID: "exec-child"}
	output, err = e.Execute(context.Background(), &executor.Context{}, config, input)
	require.NoError(t, err)
	assert.Equal(t, true, output[executor.OutputSubWait])
	assert.Len(t, svc.spawned, 1)

	// Child completion yields its final data.
	svc.childStatus = models.ExecutionStatusCompleted
	svc.childData = map[string]interface{}{"answer": 42}
	output, err = e.Execute(context.Background(), &executor.Context{}, config, input)
	require.NoError(t, err)
	assert.Equal(t, string(models.ExecutionStatusCompleted), output["child_status"])
	assert.Equal(t, map[string]interface{}{"answer": 42}, output["child_data"])
}

func TestSubWorkflowChildFailureFailsNode(t *testing.T) {
	svc := &fakeSubWorkflowService{childStatus: models.ExecutionStatusFailed}
	e := NewSubWorkflowExecutor(svc)

	_, err := e.Execute(context.Background(), &executor.Context{},
		map[string]interface{}{"workflow_id": "wf-child", "wait_for_completion": true},
		map[string]interface{}{executor.InputSubExecutionID: "exec-child"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}
