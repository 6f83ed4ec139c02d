package builtin

import (
	"context"
	"fmt"

	"github.com/smilemakc/flowforge/pkg/executor"
)

// TriggerExecutor is the entry-node pass-through: output equals input.
type TriggerExecutor struct {
	*executor.BaseExecutor
}

// NewTriggerExecutor creates a trigger handler.
func NewTriggerExecutor() *TriggerExecutor {
	return &TriggerExecutor{BaseExecutor: executor.NewBaseExecutor("trigger")}
}

func (e *TriggerExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	output := make(map[string]interface{}, len(input))
	for k, v := range input {
		output[k] = v
	}
	return output, nil
}

func (e *TriggerExecutor) Validate(config map[string]interface{}) error {
	return nil
}

// ParallelJoinExecutor is a marker: the engine inspects join nodes during
// next-node selection and synthesizes the join result itself.
type ParallelJoinExecutor struct {
	*executor.BaseExecutor
}

// NewParallelJoinExecutor creates a join marker handler.
func NewParallelJoinExecutor() *ParallelJoinExecutor {
	return &ParallelJoinExecutor{BaseExecutor: executor.NewBaseExecutor("parallel_join")}
}

func (e *ParallelJoinExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (e *ParallelJoinExecutor) Validate(config map[string]interface{}) error {
	return nil
}

// WaitSignalExecutor parks the execution: it succeeds immediately with a
// sentinel telling the engine not to advance until the signal arrives.
type WaitSignalExecutor struct {
	*executor.BaseExecutor
}

// NewWaitSignalExecutor creates a wait_signal handler.
func NewWaitSignalExecutor() *WaitSignalExecutor {
	return &WaitSignalExecutor{BaseExecutor: executor.NewBaseExecutor("wait_signal")}
}

func (e *WaitSignalExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	signalType, err := e.GetString(config, "signal_type")
	if err != nil {
		return nil, err
	}
	output := map[string]interface{}{
		executor.OutputWaitSignal: signalType,
	}
	if selector := e.GetStringDefault(config, "selector", ""); selector != "" {
		output["selector"] = selector
	}
	return output, nil
}

func (e *WaitSignalExecutor) Validate(config map[string]interface{}) error {
	return e.ValidateRequired(config, "signal_type")
}

// LoopExecutor is a marker for loop_start / loop_end roles; iteration
// bookkeeping lives in the engine's next-node selection.
type LoopExecutor struct {
	*executor.BaseExecutor
}

// NewLoopExecutor creates a loop marker handler.
func NewLoopExecutor() *LoopExecutor {
	return &LoopExecutor{BaseExecutor: executor.NewBaseExecutor("loop")}
}

func (e *LoopExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (e *LoopExecutor) Validate(config map[string]interface{}) error {
	role := ""
	if r, ok := config["role"].(string); ok {
		role = r
	}
	if role != "start" && role != "end" {
		return fmt.Errorf("loop node role must be \"start\" or \"end\"")
	}
	return nil
}
