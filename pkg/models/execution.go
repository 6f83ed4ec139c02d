package models

import (
	"time"
)

// Execution represents a single run of a workflow at a specific version.
type Execution struct {
	ID              string          `json:"id"` // external-facing short id, "exec-<12 hex>"
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	Status          ExecutionStatus `json:"status"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	RetryCount      int             `json:"retry_count"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	State           *ExecutionState `json:"state,omitempty"`

	// Lease bookkeeping. A worker may advance the execution only while it
	// holds a live lease; lease release is atomic with the status write.
	LeaseOwner string     `json:"lease_owner,omitempty"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

// ExecutionStatus represents the status of an execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning          ExecutionStatus = "running"
	ExecutionStatusPaused           ExecutionStatus = "paused"
	ExecutionStatusWaitingForSignal ExecutionStatus = "waiting_for_signal"
	ExecutionStatusCompleted        ExecutionStatus = "completed"
	ExecutionStatusFailed           ExecutionStatus = "failed"
	ExecutionStatusTerminated       ExecutionStatus = "terminated"
)

// IsTerminal returns true if the status is terminal. Note that a failed
// execution with a scheduled retry is not terminal even though its status
// is "failed"; use Execution.IsTerminal for that distinction.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted ||
		s == ExecutionStatusFailed ||
		s == ExecutionStatusTerminated
}

// IsTerminal reports whether the execution is frozen: completed, terminated,
// or failed with no retry pending. Terminal executions are never re-claimed
// and their status and completion time never change.
func (e *Execution) IsTerminal() bool {
	if e.Status == ExecutionStatusFailed && e.NextRetryAt != nil {
		return false
	}
	return e.Status.IsTerminal()
}

// NodeResultStatus represents the outcome of a single node attempt.
type NodeResultStatus string

const (
	NodeResultSuccess NodeResultStatus = "success"
	NodeResultFailed  NodeResultStatus = "failed"
	NodeResultSkipped NodeResultStatus = "skipped"
)

// NodeExecutionResult is the immutable record of one node attempt.
type NodeExecutionResult struct {
	NodeID      string                 `json:"node_id"`
	Status      NodeResultStatus       `json:"status"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
}

// Succeeded reports whether the attempt completed successfully.
func (r *NodeExecutionResult) Succeeded() bool {
	return r != nil && r.Status == NodeResultSuccess
}

// PermanentFailure reports whether the handler flagged the failure as
// non-retryable via output["permanent"].
func (r *NodeExecutionResult) PermanentFailure() bool {
	if r == nil || r.Status != NodeResultFailed || r.Output == nil {
		return false
	}
	p, _ := r.Output["permanent"].(bool)
	return p
}

// ExecutionLog is one append-only audit line.
type ExecutionLog struct {
	ID          int64     `json:"id,omitempty"`
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}
