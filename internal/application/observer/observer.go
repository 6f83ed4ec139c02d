// Package observer fans execution lifecycle events out to registered
// observers (structured log, websocket hub, tests).
package observer

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventTypeExecutionStarted    EventType = "execution.started"
	EventTypeExecutionCompleted  EventType = "execution.completed"
	EventTypeExecutionFailed     EventType = "execution.failed"
	EventTypeExecutionPaused     EventType = "execution.paused"
	EventTypeExecutionResumed    EventType = "execution.resumed"
	EventTypeExecutionTerminated EventType = "execution.terminated"
	EventTypeExecutionWaiting    EventType = "execution.waiting_for_signal"
	EventTypeNodeStarted         EventType = "node.started"
	EventTypeNodeCompleted       EventType = "node.completed"
	EventTypeNodeFailed          EventType = "node.failed"
	EventTypeSignalReceived      EventType = "signal.received"
	EventTypeScheduleFired       EventType = "schedule.fired"
)

// Event is one lifecycle notification.
type Event struct {
	Type        EventType              `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	WorkflowID  string                 `json:"workflow_id,omitempty"`
	NodeID      string                 `json:"node_id,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Observer consumes events. Implementations must not block; slow sinks
// buffer internally.
type Observer interface {
	Notify(ctx context.Context, event Event)
}

// Func adapts a function to the Observer interface.
type Func func(ctx context.Context, event Event)

func (f Func) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

// Manager fans events out to every registered observer.
type Manager struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewManager creates an empty observer manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds an observer.
func (m *Manager) Register(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Notify stamps and delivers the event to every observer.
func (m *Manager) Notify(ctx context.Context, event Event) {
	if m == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, o := range observers {
		o.Notify(ctx, event)
	}
}
