package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/pkg/executor"
)

func TestConditionExecutorBranches(t *testing.T) {
	e := NewConditionExecutor()

	tests := []struct {
		name      string
		condition string
		input     map[string]interface{}
		branch    string
	}{
		{"simple equality true", "x == 1", map[string]interface{}{"x": 1}, "true"},
		{"simple equality false", "x == 1", map[string]interface{}{"x": 2}, "false"},
		{"float from json", "x == 1", map[string]interface{}{"x": float64(1)}, "true"},
		{"nested access via data", `data.user.role == "admin"`, map[string]interface{}{
			"user": map[string]interface{}{"role": "admin"},
		}, "true"},
		{"boolean operators", "x > 0 && y < 10", map[string]interface{}{"x": 5, "y": 3}, "true"},
		{"undefined variable is nil", "missing == nil", map[string]interface{}{}, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := e.Execute(context.Background(), &executor.Context{}, map[string]interface{}{
				"condition": tt.condition,
			}, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.branch, output[executor.OutputBranch])
		})
	}
}

func TestConditionExecutorRejectsNonBoolean(t *testing.T) {
	e := NewConditionExecutor()
	_, err := e.Execute(context.Background(), &executor.Context{}, map[string]interface{}{
		"condition": "x + 1",
	}, map[string]interface{}{"x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean")
}

func TestConditionExecutorRequiresExpression(t *testing.T) {
	e := NewConditionExecutor()
	_, err := e.Execute(context.Background(), &executor.Context{}, map[string]interface{}{}, nil)
	require.Error(t, err)

	assert.Error(t, e.Validate(map[string]interface{}{}))
	assert.NoError(t, e.Validate(map[string]interface{}{"condition": "a == b"}))
	assert.Error(t, e.Validate(map[string]interface{}{"condition": "a =="}))
}

func TestSwitchExecutorMatchesCase(t *testing.T) {
	e := NewSwitchExecutor()

	output, err := e.Execute(context.Background(), &executor.Context{}, map[string]interface{}{
		"expression": "tier",
		"cases":      []interface{}{"gold", "silver", "bronze"},
	}, map[string]interface{}{"tier": "silver"})
	require.NoError(t, err)
	assert.Equal(t, "silver", output[executor.OutputBranch])
}

func TestSwitchExecutorUnmatchedValueHasNoBranch(t *testing.T) {
	e := NewSwitchExecutor()

	output, err := e.Execute(context.Background(), &executor.Context{}, map[string]interface{}{
		"expression": "tier",
		"cases":      []interface{}{"gold"},
	}, map[string]interface{}{"tier": "wood"})
	require.NoError(t, err)
	_, hasBranch := output[executor.OutputBranch]
	assert.False(t, hasBranch)
}

func TestTriggerExecutorPassesInputThrough(t *testing.T) {
	e := NewTriggerExecutor()
	input := map[string]interface{}{"a": 1, "b": "two"}

	output, err := e.Execute(context.Background(), &executor.Context{}, nil, input)
	require.NoError(t, err)
	assert.Equal(t, input, output)
}

func TestWaitSignalExecutorEmitsSentinel(t *testing.T) {
	e := NewWaitSignalExecutor()

	output, err := e.Execute(context.Background(), &executor.Context{}, map[string]interface{}{
		"signal_type": "approval",
		"selector":    `data.kind == "invoice"`,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "approval", output[executor.OutputWaitSignal])
	assert.Equal(t, `data.kind == "invoice"`, output["selector"])

	assert.Error(t, e.Validate(map[string]interface{}{}))
}
