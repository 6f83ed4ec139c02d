package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/flowforge/pkg/models"
)

// Sentinel output keys the engine inspects on handler results.
const (
	// OutputBranch is set by condition/switch handlers to pick an edge.
	OutputBranch = "branch"
	// OutputWaitSignal tells the engine to park the execution until a
	// signal of the given type arrives.
	OutputWaitSignal = "wait_signal"
	// OutputPermanent marks a failure as non-retryable.
	OutputPermanent = "permanent"
	// OutputSubWait tells the engine the node is waiting on a child
	// execution; the node is re-attempted on a later claim.
	OutputSubWait = "sub_wait"
	// InputSubExecutionID carries the already-linked child execution id
	// into a sub_workflow handler's input snapshot.
	InputSubExecutionID = "__sub_execution_id"
)

// Dispatcher invokes handlers under the node-activity contract: per-node
// timeout, panic capture, and dispatcher-measured duration. Handler errors
// never escape; they become failed NodeExecutionResults.
type Dispatcher struct {
	registry       *Registry
	defaultTimeout time.Duration
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, defaultTimeout time.Duration) *Dispatcher {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		registry:       registry,
		defaultTimeout: defaultTimeout,
	}
}

// Registry exposes the underlying registry for handler registration.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Timeout resolves the effective timeout for a node: the per-node
// config.timeout_seconds override, or the deployment default.
func (d *Dispatcher) Timeout(node *models.Node) time.Duration {
	if node.Config != nil {
		switch v := node.Config["timeout_seconds"].(type) {
		case float64:
			if v > 0 {
				return time.Duration(v * float64(time.Second))
			}
		case int:
			if v > 0 {
				return time.Duration(v) * time.Second
			}
		}
	}
	return d.defaultTimeout
}

type handlerReturn struct {
	output map[string]interface{}
	err    error
}

// Dispatch runs the handler for the node and returns the immutable attempt
// record. The context passed to the handler is cancelled when the timeout
// elapses; a handler that ignores cancellation is abandoned and the attempt
// recorded as timed out.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	ec *Context,
	node *models.Node,
	input map[string]interface{},
) *models.NodeExecutionResult {
	startedAt := time.Now()

	exec, err := d.registry.Get(node.Type)
	if err != nil {
		return failedResult(node.ID, startedAt, err.Error(), nil)
	}

	timeout := d.Timeout(node)
	handlerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan handlerReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReturn{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		output, err := exec.Execute(handlerCtx, ec, node.Config, input)
		done <- handlerReturn{output: output, err: err}
	}()

	var ret handlerReturn
	select {
	case ret = <-done:
	case <-handlerCtx.Done():
		// Give the handler a short grace period to observe cancellation
		// before abandoning it.
		select {
		case ret = <-done:
		case <-time.After(100 * time.Millisecond):
			return failedResult(node.ID, startedAt, "timeout", nil)
		}
		if ret.err == nil && handlerCtx.Err() == context.DeadlineExceeded {
			ret.err = models.ErrNodeTimeout
		}
	}

	completedAt := time.Now()
	result := &models.NodeExecutionResult{
		NodeID:      node.ID,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
		Output:      ret.output,
	}

	if ret.err != nil {
		result.Status = models.NodeResultFailed
		result.Error = ret.err.Error()
		return result
	}

	result.Status = models.NodeResultSuccess
	if result.Output == nil {
		result.Output = map[string]interface{}{}
	}
	return result
}

func failedResult(nodeID string, startedAt time.Time, errMsg string, output map[string]interface{}) *models.NodeExecutionResult {
	completedAt := time.Now()
	return &models.NodeExecutionResult{
		NodeID:      nodeID,
		Status:      models.NodeResultFailed,
		Output:      output,
		Error:       errMsg,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
}
