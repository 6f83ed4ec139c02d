package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/runner"
)

// CodeExecutor delegates to the external code-runner interface. Output
// carries stdout, exit_code and the parsed result when the script yields
// JSON. A non-zero exit code fails the node.
type CodeExecutor struct {
	*executor.BaseExecutor
	runner runner.CodeRunner
}

// NewCodeExecutor creates a code handler over the given runner.
func NewCodeExecutor(r runner.CodeRunner) *CodeExecutor {
	return &CodeExecutor{
		BaseExecutor: executor.NewBaseExecutor("code"),
		runner:       r,
	}
}

// Execute runs config.source in the sandbox with the blackboard as input.
func (e *CodeExecutor) Execute(ctx context.Context, ec *executor.Context, config map[string]interface{}, input map[string]interface{}) (map[string]interface{}, error) {
	source, err := e.GetString(config, "source")
	if err != nil {
		return nil, err
	}
	language := e.GetStringDefault(config, "language", "javascript")
	timeout := time.Duration(e.GetIntDefault(config, "timeout_seconds", 0)) * time.Second

	result, err := e.runner.Run(ctx, language, source, input, timeout)
	if err != nil {
		return nil, fmt.Errorf("code execution failed: %w", err)
	}

	output := map[string]interface{}{
		"stdout":    result.Stdout,
		"exit_code": result.ExitCode,
	}
	if result.Stderr != "" {
		output["stderr"] = result.Stderr
	}
	if result.ParsedJSON != nil {
		output["result"] = result.ParsedJSON
	}
	if result.ExitCode != 0 {
		return output, fmt.Errorf("script exited with code %d: %s", result.ExitCode, result.Stderr)
	}
	return output, nil
}

// Validate checks the code node config.
func (e *CodeExecutor) Validate(config map[string]interface{}) error {
	return e.ValidateRequired(config, "source")
}
