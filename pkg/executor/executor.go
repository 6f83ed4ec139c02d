// Package executor provides the activity handler interface, registry and
// dispatcher for node execution.
//
// Each node type has a corresponding handler implementing the Executor
// interface. Handlers receive a snapshot of the execution blackboard and
// return an output map; they never mutate shared state directly. The
// Dispatcher enforces the per-node timeout, converts panics into failed
// results and measures duration — handlers do none of that themselves.
package executor

import (
	"context"
	"fmt"
)

// Executor is the contract every activity handler implements.
type Executor interface {
	// Execute runs the node. config is the node's (already loaded)
	// configuration, input is the current execution_data snapshot. The
	// returned map becomes the node's output; a non-nil error marks the
	// attempt failed.
	Execute(ctx context.Context, ec *Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error)

	// Validate validates the node configuration at workflow-validation
	// time. Unknown or incomplete configs are rejected before any
	// execution exists.
	Validate(config map[string]interface{}) error
}

// Context carries the identity of the attempt. Handlers that need retry
// safety against external systems derive idempotency keys from it; the
// engine does not synthesize such keys.
type Context struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	Attempt     int
}

// IdempotencyKey returns a stable key for this logical attempt.
func (c *Context) IdempotencyKey() string {
	return fmt.Sprintf("%s/%s/%d", c.ExecutionID, c.NodeID, c.Attempt)
}

// Func adapts ordinary functions to the Executor interface.
type Func struct {
	ExecuteFn  func(ctx context.Context, ec *Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error)
	ValidateFn func(config map[string]interface{}) error
}

func (f *Func) Execute(ctx context.Context, ec *Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	return f.ExecuteFn(ctx, ec, config, input)
}

func (f *Func) Validate(config map[string]interface{}) error {
	if f.ValidateFn == nil {
		return nil
	}
	return f.ValidateFn(config)
}

// BaseExecutor provides typed config accessors shared by the built-in
// handlers. JSON-decoded configs carry numbers as float64; the accessors
// normalize that.
type BaseExecutor struct {
	NodeType string
}

// NewBaseExecutor creates a BaseExecutor for the given node type.
func NewBaseExecutor(nodeType string) *BaseExecutor {
	return &BaseExecutor{NodeType: nodeType}
}

// ValidateRequired checks that the listed fields are present.
func (b *BaseExecutor) ValidateRequired(config map[string]interface{}, fields ...string) error {
	for _, field := range fields {
		if _, ok := config[field]; !ok {
			return fmt.Errorf("required field missing: %s", field)
		}
	}
	return nil
}

// GetString retrieves a string value from config.
func (b *BaseExecutor) GetString(config map[string]interface{}, key string) (string, error) {
	val, ok := config[key]
	if !ok {
		return "", fmt.Errorf("field not found: %s", key)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("field %s is not a string", key)
	}
	return str, nil
}

// GetStringDefault retrieves a string value with a fallback.
func (b *BaseExecutor) GetStringDefault(config map[string]interface{}, key, defaultValue string) string {
	if str, ok := config[key].(string); ok {
		return str
	}
	return defaultValue
}

// GetIntDefault retrieves an int value with a fallback.
func (b *BaseExecutor) GetIntDefault(config map[string]interface{}, key string, defaultValue int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return defaultValue
	}
}

// GetBoolDefault retrieves a bool value with a fallback.
func (b *BaseExecutor) GetBoolDefault(config map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return defaultValue
}

// GetMap retrieves a map value from config.
func (b *BaseExecutor) GetMap(config map[string]interface{}, key string) (map[string]interface{}, error) {
	val, ok := config[key]
	if !ok {
		return nil, fmt.Errorf("field not found: %s", key)
	}
	m, ok := val.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("field %s is not a map", key)
	}
	return m, nil
}
