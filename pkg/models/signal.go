package models

import (
	"time"
)

// Signal is an external asynchronous event. A signal with an empty
// ExecutionID is unrouted: it is matched to the oldest waiting execution
// parked on the same signal type whose selector (if any) accepts the data.
type Signal struct {
	ID          string                 `json:"id"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	SignalType  string                 `json:"signal_type"`
	SignalData  map[string]interface{} `json:"signal_data,omitempty"`
	ReceivedAt  time.Time              `json:"received_at"`
	Processed   bool                   `json:"processed"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
}

// DeadLetterSignal is a signal that failed to match any execution within its
// TTL, preserved with the drop reason.
type DeadLetterSignal struct {
	Signal
	Reason    string    `json:"reason"`
	DroppedAt time.Time `json:"dropped_at"`
}

// WebhookSubscription declares how raw webhook payloads from a connector
// become signals: which secret signs them, and how fields map to signal
// data.
type WebhookSubscription struct {
	ID            string `json:"id"`
	ConnectorSlug string `json:"connector_slug"`
	TriggerID     string `json:"trigger_id"`
	Secret        string `json:"secret"`
	Algorithm     string `json:"algorithm,omitempty"` // default "sha256"
	SignalType    string `json:"signal_type"`
	// Mapping is signal-data key -> dot path into the payload. Missing paths
	// map to null.
	Mapping     map[string]string `json:"mapping,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"` // empty -> unrouted signals
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Schedule fires workflow executions on a cron rule. The scheduler owns only
// NextFireAt; firing advances it atomically with the read so concurrent
// pollers cannot double-fire the same instant.
type Schedule struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	CronExpr   string    `json:"cron_expr"`
	NextFireAt time.Time `json:"next_fire_at"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
