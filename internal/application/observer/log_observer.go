package observer

import (
	"context"

	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
)

// NewLogObserver returns an observer that mirrors lifecycle events into the
// structured log.
func NewLogObserver(log *logger.Logger) Observer {
	if log == nil {
		log = logger.Nop()
	}
	return Func(func(_ context.Context, event Event) {
		args := []interface{}{
			"event", string(event.Type),
			"execution_id", event.ExecutionID,
		}
		if event.WorkflowID != "" {
			args = append(args, "workflow_id", event.WorkflowID)
		}
		if event.NodeID != "" {
			args = append(args, "node_id", event.NodeID)
		}
		if event.DurationMs > 0 {
			args = append(args, "duration_ms", event.DurationMs)
		}

		switch event.Type {
		case EventTypeExecutionFailed, EventTypeNodeFailed:
			args = append(args, "error", event.Error)
			log.Warn("execution event", args...)
		default:
			log.Info("execution event", args...)
		}
	})
}
