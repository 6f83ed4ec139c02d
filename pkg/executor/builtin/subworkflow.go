package builtin

import (
	"context"
	"fmt"

	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/models"
)

// SubWorkflowService is the engine surface the sub_workflow handler needs:
// spawning a child execution and reading a child's terminal state. The
// execution manager implements it.
type SubWorkflowService interface {
	SpawnChild(ctx context.Context, parentExecutionID, nodeID, workflowID string, triggerData map[string]interface{}) (string, error)
	ChildState(ctx context.Context, childExecutionID string) (models.ExecutionStatus, map[string]interface{}, error)
}

// SubWorkflowExecutor creates a child execution and, when
// wait_for_completion is set, reports the child's terminal execution data.
// Waiting is cooperative: while the child runs, the handler returns the
// sub-wait sentinel and the engine re-attempts the node on later claims
// instead of busy-polling.
type SubWorkflowExecutor struct {
	*executor.BaseExecutor
	service SubWorkflowService
}

// NewSubWorkflowExecutor creates a sub_workflow handler.
func NewSubWorkflowExecutor(service SubWorkflowService) *SubWorkflowExecutor {
	return &SubWorkflowExecutor{
		BaseExecutor: executor.NewBaseExecutor("sub_workflow"),
		service:      service,
	}
}

// Execute spawns or checks on the child. The engine injects the previously
// linked child id (if any) under executor.InputSubExecutionID.
func (e *SubWorkflowExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	workflowID, err := e.GetString(config, "workflow_id")
	if err != nil {
		return nil, err
	}
	wait := e.GetBoolDefault(config, "wait_for_completion", false)

	childID, _ := input[executor.InputSubExecutionID].(string)
	if childID == "" {
		childID, err = e.service.SpawnChild(ctx, ec.ExecutionID, ec.NodeID, workflowID, childTriggerData(input))
		if err != nil {
			return nil, fmt.Errorf("failed to spawn sub-workflow: %w", err)
		}
		if !wait {
			return map[string]interface{}{
				"sub_execution_id": childID,
			}, nil
		}
		return map[string]interface{}{
			"sub_execution_id":     childID,
			executor.OutputSubWait: true,
		}, nil
	}

	status, data, err := e.service.ChildState(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sub-workflow state: %w", err)
	}
	if !status.IsTerminal() {
		return map[string]interface{}{
			"sub_execution_id":     childID,
			executor.OutputSubWait: true,
		}, nil
	}

	output := map[string]interface{}{
		"sub_execution_id": childID,
		"child_status":     string(status),
		"child_data":       data,
	}
	if status != models.ExecutionStatusCompleted {
		return output, fmt.Errorf("sub-workflow %s ended %s", childID, status)
	}
	return output, nil
}

// Validate checks the sub_workflow node config.
func (e *SubWorkflowExecutor) Validate(config map[string]interface{}) error {
	return e.ValidateRequired(config, "workflow_id")
}

// childTriggerData strips engine-internal keys from the blackboard snapshot
// before handing it to the child.
func childTriggerData(input map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(input))
	for k, v := range input {
		if k == executor.InputSubExecutionID {
			continue
		}
		data[k] = v
	}
	return data
}
