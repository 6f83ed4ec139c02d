// Package models holds the bun storage models and their domain mappers.
package models

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/smilemakc/flowforge/pkg/models"
)

// WorkflowModel is the workflows table: the mutable head row of a workflow
// identity. Graphs live in workflow_versions.
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID            string                 `bun:"id,pk"`
	Name          string                 `bun:"name,notnull"`
	Description   string                 `bun:"description"`
	Version       int                    `bun:"version,notnull"`
	IsActive      bool                   `bun:"is_active"`
	OwnerID       string                 `bun:"owner_id"`
	TriggerConfig map[string]interface{} `bun:"trigger_config,type:jsonb"`
	Metadata      map[string]interface{} `bun:"metadata,type:jsonb"`
	Deleted       bool                   `bun:"deleted"`
	CreatedAt     time.Time              `bun:"created_at,notnull"`
	UpdatedAt     time.Time              `bun:"updated_at,notnull"`
}

// WorkflowVersionModel is the workflow_versions table: one immutable graph
// snapshot per (workflow, version).
type WorkflowVersionModel struct {
	bun.BaseModel `bun:"table:workflow_versions,alias:wv"`

	WorkflowID string         `bun:"workflow_id,pk"`
	Version    int            `bun:"version,pk"`
	Nodes      []*models.Node `bun:"nodes,type:jsonb"`
	Edges      []*models.Edge `bun:"edges,type:jsonb"`
	CreatedAt  time.Time      `bun:"created_at,notnull"`
}

// ExecutionModel is the executions table. The state machine is embedded as
// a versioned msgpack blob; status, retry and lease columns are denormalized
// for the worker's indexed claim queries.
type ExecutionModel struct {
	bun.BaseModel `bun:"table:executions,alias:e"`

	ID              string     `bun:"id,pk"`
	WorkflowID      string     `bun:"workflow_id,notnull"`
	WorkflowVersion int        `bun:"workflow_version,notnull"`
	Status          string     `bun:"status,notnull"`
	StartedAt       time.Time  `bun:"started_at,notnull"`
	CompletedAt     *time.Time `bun:"completed_at"`
	RetryCount      int        `bun:"retry_count"`
	NextRetryAt     *time.Time `bun:"next_retry_at"`
	Error           string     `bun:"error"`

	// WaitingSignalType mirrors state for the signal-matched claim scan.
	WaitingSignalType string `bun:"waiting_signal_type"`

	StateVersion int    `bun:"state_version,notnull"`
	State        []byte `bun:"state"`

	LeaseOwner string     `bun:"lease_owner"`
	LeaseUntil *time.Time `bun:"lease_until"`
}

// SignalModel is the signals table.
type SignalModel struct {
	bun.BaseModel `bun:"table:signals,alias:s"`

	ID          string                 `bun:"id,pk"`
	ExecutionID string                 `bun:"execution_id"`
	SignalType  string                 `bun:"signal_type,notnull"`
	SignalData  map[string]interface{} `bun:"signal_data,type:jsonb"`
	ReceivedAt  time.Time              `bun:"received_at,notnull"`
	Processed   bool                   `bun:"processed"`
	ProcessedAt *time.Time             `bun:"processed_at"`
}

// DeadLetterSignalModel is the dead_letter_signals table.
type DeadLetterSignalModel struct {
	bun.BaseModel `bun:"table:dead_letter_signals,alias:dls"`

	ID          string                 `bun:"id,pk"`
	ExecutionID string                 `bun:"execution_id"`
	SignalType  string                 `bun:"signal_type,notnull"`
	SignalData  map[string]interface{} `bun:"signal_data,type:jsonb"`
	ReceivedAt  time.Time              `bun:"received_at,notnull"`
	Reason      string                 `bun:"reason"`
	DroppedAt   time.Time              `bun:"dropped_at,notnull"`
}

// ScheduleModel is the schedules table.
type ScheduleModel struct {
	bun.BaseModel `bun:"table:schedules,alias:sc"`

	ID         string    `bun:"id,pk"`
	WorkflowID string    `bun:"workflow_id,notnull"`
	CronExpr   string    `bun:"cron_expr,notnull"`
	NextFireAt time.Time `bun:"next_fire_at,notnull"`
	Active     bool      `bun:"active"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

// ExecutionLogModel is the append-only execution_logs table.
type ExecutionLogModel struct {
	bun.BaseModel `bun:"table:execution_logs,alias:el"`

	ID          int64     `bun:"id,pk,autoincrement"`
	ExecutionID string    `bun:"execution_id,notnull"`
	NodeID      string    `bun:"node_id"`
	Level       string    `bun:"level,notnull"`
	Message     string    `bun:"message"`
	Timestamp   time.Time `bun:"timestamp,notnull"`
}

// WebhookSubscriptionModel is the webhook_subscriptions table.
type WebhookSubscriptionModel struct {
	bun.BaseModel `bun:"table:webhook_subscriptions,alias:ws"`

	ID            string            `bun:"id,pk"`
	ConnectorSlug string            `bun:"connector_slug,notnull"`
	TriggerID     string            `bun:"trigger_id,notnull"`
	Secret        string            `bun:"secret,notnull"`
	Algorithm     string            `bun:"algorithm"`
	SignalType    string            `bun:"signal_type,notnull"`
	Mapping       map[string]string `bun:"mapping,type:jsonb"`
	ExecutionID   string            `bun:"execution_id"`
	Active        bool              `bun:"active"`
	CreatedAt     time.Time         `bun:"created_at,notnull"`
}

// EncodeState serializes an execution state to its current msgpack schema.
func EncodeState(state *models.ExecutionState) (int, []byte, error) {
	if state == nil {
		return models.StateSchemaVersion, nil, nil
	}
	blob, err := msgpack.Marshal(state)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode execution state: %w", err)
	}
	return models.StateSchemaVersion, blob, nil
}

// DecodeState deserializes a state blob, migrating older schema versions
// lazily. Unknown future versions are an error.
func DecodeState(version int, blob []byte) (*models.ExecutionState, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	switch version {
	case models.StateSchemaVersion:
		state := new(models.ExecutionState)
		if err := msgpack.Unmarshal(blob, state); err != nil {
			return nil, fmt.Errorf("failed to decode execution state: %w", err)
		}
		return state, nil
	default:
		return nil, fmt.Errorf("unsupported execution state schema version %d", version)
	}
}

// ToDomain converts the execution row.
func (m *ExecutionModel) ToDomain() (*models.Execution, error) {
	state, err := DecodeState(m.StateVersion, m.State)
	if err != nil {
		return nil, err
	}
	return &models.Execution{
		ID:              m.ID,
		WorkflowID:      m.WorkflowID,
		WorkflowVersion: m.WorkflowVersion,
		Status:          models.ExecutionStatus(m.Status),
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		RetryCount:      m.RetryCount,
		NextRetryAt:     m.NextRetryAt,
		Error:           m.Error,
		State:           state,
		LeaseOwner:      m.LeaseOwner,
		LeaseUntil:      m.LeaseUntil,
	}, nil
}

// NewExecutionModel converts a domain execution to its row.
func NewExecutionModel(x *models.Execution) (*ExecutionModel, error) {
	version, blob, err := EncodeState(x.State)
	if err != nil {
		return nil, err
	}
	waitingType := ""
	if x.State != nil {
		waitingType = x.State.WaitingSignalType
	}
	return &ExecutionModel{
		ID:                x.ID,
		WorkflowID:        x.WorkflowID,
		WorkflowVersion:   x.WorkflowVersion,
		Status:            string(x.Status),
		StartedAt:         x.StartedAt,
		CompletedAt:       x.CompletedAt,
		RetryCount:        x.RetryCount,
		NextRetryAt:       x.NextRetryAt,
		Error:             x.Error,
		WaitingSignalType: waitingType,
		StateVersion:      version,
		State:             blob,
		LeaseOwner:        x.LeaseOwner,
		LeaseUntil:        x.LeaseUntil,
	}, nil
}

// ToDomain converts the workflow head row (graph not attached).
func (m *WorkflowModel) ToDomain() *models.Workflow {
	return &models.Workflow{
		ID:            m.ID,
		Name:          m.Name,
		Description:   m.Description,
		Version:       m.Version,
		IsActive:      m.IsActive,
		OwnerID:       m.OwnerID,
		TriggerConfig: m.TriggerConfig,
		Metadata:      m.Metadata,
		Deleted:       m.Deleted,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// NewWorkflowModel converts a domain workflow to its head row.
func NewWorkflowModel(w *models.Workflow) *WorkflowModel {
	return &WorkflowModel{
		ID:            w.ID,
		Name:          w.Name,
		Description:   w.Description,
		Version:       w.Version,
		IsActive:      w.IsActive,
		OwnerID:       w.OwnerID,
		TriggerConfig: w.TriggerConfig,
		Metadata:      w.Metadata,
		Deleted:       w.Deleted,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

// ToDomain converts a signal row.
func (m *SignalModel) ToDomain() *models.Signal {
	return &models.Signal{
		ID:          m.ID,
		ExecutionID: m.ExecutionID,
		SignalType:  m.SignalType,
		SignalData:  m.SignalData,
		ReceivedAt:  m.ReceivedAt,
		Processed:   m.Processed,
		ProcessedAt: m.ProcessedAt,
	}
}

// NewSignalModel converts a domain signal to its row.
func NewSignalModel(s *models.Signal) *SignalModel {
	return &SignalModel{
		ID:          s.ID,
		ExecutionID: s.ExecutionID,
		SignalType:  s.SignalType,
		SignalData:  s.SignalData,
		ReceivedAt:  s.ReceivedAt,
		Processed:   s.Processed,
		ProcessedAt: s.ProcessedAt,
	}
}

// ToDomain converts a schedule row.
func (m *ScheduleModel) ToDomain() *models.Schedule {
	return &models.Schedule{
		ID:         m.ID,
		WorkflowID: m.WorkflowID,
		CronExpr:   m.CronExpr,
		NextFireAt: m.NextFireAt,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
	}
}

// NewScheduleModel converts a domain schedule to its row.
func NewScheduleModel(s *models.Schedule) *ScheduleModel {
	return &ScheduleModel{
		ID:         s.ID,
		WorkflowID: s.WorkflowID,
		CronExpr:   s.CronExpr,
		NextFireAt: s.NextFireAt,
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
	}
}

// ToDomain converts a subscription row.
func (m *WebhookSubscriptionModel) ToDomain() *models.WebhookSubscription {
	return &models.WebhookSubscription{
		ID:            m.ID,
		ConnectorSlug: m.ConnectorSlug,
		TriggerID:     m.TriggerID,
		Secret:        m.Secret,
		Algorithm:     m.Algorithm,
		SignalType:    m.SignalType,
		Mapping:       m.Mapping,
		ExecutionID:   m.ExecutionID,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
	}
}

// NewWebhookSubscriptionModel converts a domain subscription to its row.
func NewWebhookSubscriptionModel(s *models.WebhookSubscription) *WebhookSubscriptionModel {
	return &WebhookSubscriptionModel{
		ID:            s.ID,
		ConnectorSlug: s.ConnectorSlug,
		TriggerID:     s.TriggerID,
		Secret:        s.Secret,
		Algorithm:     s.Algorithm,
		SignalType:    s.SignalType,
		Mapping:       s.Mapping,
		ExecutionID:   s.ExecutionID,
		Active:        s.Active,
		CreatedAt:     s.CreatedAt,
	}
}
