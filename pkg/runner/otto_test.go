package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOttoRunnerReturnValueBecomesResult(t *testing.T) {
	r := NewOttoRunner(0)

	result, err := r.Run(context.Background(), "javascript",
		`({doubled: input.n * 2})`,
		map[string]interface{}{"n": 21}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)

	parsed, ok := result.ParsedJSON.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 42, parsed["doubled"])
}

func TestOttoRunnerConsoleLogIsStdout(t *testing.T) {
	r := NewOttoRunner(0)

	result, err := r.Run(context.Background(), "js",
		`console.log("hello", input.who);`,
		map[string]interface{}{"who": "world"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", result.Stdout)
}

func TestOttoRunnerScriptErrorSetsExitCode(t *testing.T) {
	r := NewOttoRunner(0)

	result, err := r.Run(context.Background(), "javascript",
		`throw new Error("bad input")`, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Stderr, "bad input")
}

func TestOttoRunnerRejectsUnknownLanguage(t *testing.T) {
	r := NewOttoRunner(0)
	_, err := r.Run(context.Background(), "cobol", `DISPLAY "HI"`, nil, time.Second)
	require.Error(t, err)
}

func TestOttoRunnerInterruptsRunawayScript(t *testing.T) {
	r := NewOttoRunner(200 * time.Millisecond)

	start := time.Now()
	_, err := r.Run(context.Background(), "javascript", `while (true) {}`, nil, 10*time.Second)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
