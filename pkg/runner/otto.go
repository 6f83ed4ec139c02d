package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robertkrimen/otto"
)

// ottoHalt is thrown into the VM when the run deadline elapses.
var ottoHalt = fmt.Errorf("script interrupted: deadline exceeded")

// OttoRunner runs JavaScript in an embedded otto VM. The script sees the
// node input as the global `input`, may print via `console.log`, and its
// final expression value becomes the run result.
type OttoRunner struct {
	maxDuration time.Duration
}

// NewOttoRunner creates a runner with a hard per-run duration cap. The cap
// bounds runaway scripts even when callers pass a longer timeout.
func NewOttoRunner(maxDuration time.Duration) *OttoRunner {
	if maxDuration <= 0 {
		maxDuration = 30 * time.Second
	}
	return &OttoRunner{maxDuration: maxDuration}
}

// Run implements CodeRunner for language "javascript".
func (r *OttoRunner) Run(ctx context.Context, language, source string, input map[string]interface{}, timeout time.Duration) (result *RunResult, err error) {
	if language != "javascript" && language != "js" {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	if timeout <= 0 || timeout > r.maxDuration {
		timeout = r.maxDuration
	}

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	var stdout strings.Builder
	logFn := func(call otto.FunctionCall) otto.Value {
		parts := make([]string, 0, len(call.ArgumentList))
		for _, arg := range call.ArgumentList {
			parts = append(parts, arg.String())
		}
		stdout.WriteString(strings.Join(parts, " "))
		stdout.WriteString("\n")
		return otto.UndefinedValue()
	}
	console, _ := vm.Object(`({})`)
	_ = console.Set("log", logFn)
	_ = console.Set("error", logFn)
	_ = vm.Set("console", console)

	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("failed to bind input: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-runCtx.Done():
			vm.Interrupt <- func() { panic(ottoHalt) }
		case <-watchdogDone:
		}
	}()

	// otto reports interrupts by panicking out of Run.
	defer func() {
		if r := recover(); r != nil {
			if r == ottoHalt || fmt.Sprint(r) == ottoHalt.Error() {
				result = nil
				err = ottoHalt
				return
			}
			panic(r)
		}
	}()

	value, runErr := vm.Run(source)
	res := &RunResult{Stdout: stdout.String()}
	if runErr != nil {
		res.Stderr = runErr.Error()
		res.ExitCode = 1
		return res, nil
	}

	if value.IsDefined() {
		exported, expErr := value.Export()
		if expErr == nil {
			res.ParsedJSON = exported
			if res.Stdout == "" {
				if encoded, mErr := json.Marshal(exported); mErr == nil {
					res.Stdout = string(encoded)
				}
			}
		}
	}
	if res.ParsedJSON == nil && res.Stdout != "" {
		var decoded interface{}
		if jErr := json.Unmarshal([]byte(strings.TrimSpace(res.Stdout)), &decoded); jErr == nil {
			res.ParsedJSON = decoded
		}
	}
	return res, nil
}
