package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// evalSelector evaluates a wait_signal selector expression against signal
// data. The data keys are in scope directly and via `data`.
func evalSelector(selector string, data map[string]interface{}) (bool, error) {
	env := make(map[string]interface{}, len(data)+1)
	for k, v := range data {
		env[k] = v
	}
	env["data"] = data

	program, err := expr.Compile(selector, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return false, fmt.Errorf("invalid signal selector: %w", err)
	}
	value, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("signal selector failed: %w", err)
	}
	accepted, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("signal selector did not return a boolean")
	}
	return accepted, nil
}
