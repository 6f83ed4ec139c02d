package builtin

import (
	"context"
	"fmt"

	"github.com/smilemakc/flowforge/pkg/executor"
)

// SwitchExecutor evaluates an expression and matches its value against the
// configured case labels; the matched label becomes the branch. Unmatched
// values fall through to the engine's "default" edge handling.
type SwitchExecutor struct {
	*executor.BaseExecutor
}

// NewSwitchExecutor creates a switch handler.
func NewSwitchExecutor() *SwitchExecutor {
	return &SwitchExecutor{BaseExecutor: executor.NewBaseExecutor("switch")}
}

// Execute evaluates config.expression and resolves the case label.
//
// Config:
//
//	expression: expr-lang expression over the blackboard
//	cases:      list of labels, or map of label -> literal value
func (e *SwitchExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	exprStr := e.GetStringDefault(config, "expression", "")
	if exprStr == "" {
		return nil, fmt.Errorf("expression is required for switch node")
	}

	value, err := evalExpr(exprStr, input)
	if err != nil {
		return nil, err
	}

	branch := ""
	switch cases := config["cases"].(type) {
	case []interface{}:
		// Labels matched by string value.
		str := fmt.Sprint(value)
		for _, c := range cases {
			if label, ok := c.(string); ok && label == str {
				branch = label
				break
			}
		}
	case map[string]interface{}:
		// label -> literal; first declared match wins, but Go maps are
		// unordered so equal literals must not appear twice.
		str := fmt.Sprint(value)
		for label, literal := range cases {
			if fmt.Sprint(literal) == str {
				branch = label
				break
			}
		}
	default:
		branch = fmt.Sprint(value)
	}

	output := map[string]interface{}{
		"value": value,
	}
	if branch != "" {
		output[executor.OutputBranch] = branch
	}
	return output, nil
}

// Validate checks the switch config.
func (e *SwitchExecutor) Validate(config map[string]interface{}) error {
	return e.ValidateRequired(config, "expression")
}
