package builtin

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/smilemakc/flowforge/pkg/executor"
)

// ConditionExecutor evaluates a boolean expression against the execution
// data and reports the branch to take ("true" / "false"). Routing itself is
// the engine's job.
type ConditionExecutor struct {
	*executor.BaseExecutor
}

// NewConditionExecutor creates a condition handler.
func NewConditionExecutor() *ConditionExecutor {
	return &ConditionExecutor{BaseExecutor: executor.NewBaseExecutor("condition")}
}

// Execute compiles and runs the configured expression. The expression sees
// the blackboard keys directly plus the whole snapshot as `data`.
func (e *ConditionExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	exprStr := e.GetStringDefault(config, "condition", "")
	if exprStr == "" {
		exprStr = e.GetStringDefault(config, "expression", "")
	}
	if exprStr == "" {
		return nil, fmt.Errorf("condition expression is required for condition node")
	}

	result, err := evalBool(exprStr, input)
	if err != nil {
		return nil, err
	}

	branch := "false"
	if result {
		branch = "true"
	}
	return map[string]interface{}{
		"condition_result":     result,
		executor.OutputBranch:  branch,
		"condition_expression": exprStr,
	}, nil
}

// Validate compiles the expression so bad conditions fail at workflow
// validation time.
func (e *ConditionExecutor) Validate(config map[string]interface{}) error {
	exprStr := e.GetStringDefault(config, "condition", "")
	if exprStr == "" {
		exprStr = e.GetStringDefault(config, "expression", "")
	}
	if exprStr == "" {
		return fmt.Errorf("condition expression is required")
	}
	_, err := expr.Compile(exprStr, expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("invalid condition expression: %w", err)
	}
	return nil
}

// evalBool evaluates an expression expected to yield a boolean.
func evalBool(exprStr string, input map[string]interface{}) (bool, error) {
	value, err := evalExpr(exprStr, input)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return a boolean, got %T", exprStr, value)
	}
	return b, nil
}

// evalExpr evaluates an expression against the blackboard snapshot. The
// snapshot's keys are in scope directly and via `data`.
func evalExpr(exprStr string, input map[string]interface{}) (interface{}, error) {
	env := make(map[string]interface{}, len(input)+1)
	for k, v := range input {
		env[k] = v
	}
	env["data"] = input

	program, err := expr.Compile(exprStr, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", err)
	}
	value, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}
	return value, nil
}
