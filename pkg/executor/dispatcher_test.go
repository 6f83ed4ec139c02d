package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/pkg/models"
)

func testNode(nodeType models.NodeType, config map[string]interface{}) *models.Node {
	if config == nil {
		config = map[string]interface{}{}
	}
	return &models.Node{ID: "n1", Type: nodeType, Config: config}
}

func register(t *testing.T, registry *Registry, nodeType models.NodeType, fn func(ctx context.Context) (map[string]interface{}, error)) {
	t.Helper()
	require.NoError(t, registry.Register(nodeType, &Func{
		ExecuteFn: func(ctx context.Context, _ *Context, _ map[string]interface{}, _ map[string]interface{}) (map[string]interface{}, error) {
			return fn(ctx)
		},
	}))
}

func TestDispatchSuccessMeasuresDuration(t *testing.T) {
	registry := NewRegistry()
	register(t, registry, models.NodeTypeTrigger, func(context.Context) (map[string]interface{}, error) {
		time.Sleep(20 * time.Millisecond)
		return map[string]interface{}{"ok": true}, nil
	})
	d := NewDispatcher(registry, time.Second)

	result := d.Dispatch(context.Background(), &Context{NodeID: "n1"}, testNode(models.NodeTypeTrigger, nil), nil)
	assert.Equal(t, models.NodeResultSuccess, result.Status)
	assert.GreaterOrEqual(t, result.DurationMs, int64(20))
	require.NotNil(t, result.CompletedAt)
	assert.Equal(t, true, result.Output["ok"])
}

func TestDispatchErrorBecomesFailedResult(t *testing.T) {
	registry := NewRegistry()
	register(t, registry, models.NodeTypeCode, func(context.Context) (map[string]interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	d := NewDispatcher(registry, time.Second)

	result := d.Dispatch(context.Background(), &Context{NodeID: "n1"}, testNode(models.NodeTypeCode, nil), nil)
	assert.Equal(t, models.NodeResultFailed, result.Status)
	assert.Equal(t, "boom", result.Error)
}

func TestDispatchCapturesPanic(t *testing.T) {
	registry := NewRegistry()
	register(t, registry, models.NodeTypeCode, func(context.Context) (map[string]interface{}, error) {
		panic("unexpected state")
	})
	d := NewDispatcher(registry, time.Second)

	result := d.Dispatch(context.Background(), &Context{NodeID: "n1"}, testNode(models.NodeTypeCode, nil), nil)
	assert.Equal(t, models.NodeResultFailed, result.Status)
	assert.Contains(t, result.Error, "handler panic")
}

func TestDispatchTimeout(t *testing.T) {
	registry := NewRegistry()
	register(t, registry, models.NodeTypeCode, func(ctx context.Context) (map[string]interface{}, error) {
		<-time.After(5 * time.Second) // ignores cancellation
		return nil, nil
	})
	d := NewDispatcher(registry, time.Hour)

	start := time.Now()
	result := d.Dispatch(context.Background(), &Context{NodeID: "n1"},
		testNode(models.NodeTypeCode, map[string]interface{}{"timeout_seconds": 0.05}), nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.NodeResultFailed, result.Status)
	assert.Equal(t, "timeout", result.Error)
}

func TestDispatchCooperativeTimeout(t *testing.T) {
	registry := NewRegistry()
	register(t, registry, models.NodeTypeCode, func(ctx context.Context) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := NewDispatcher(registry, 50*time.Millisecond)

	result := d.Dispatch(context.Background(), &Context{NodeID: "n1"}, testNode(models.NodeTypeCode, nil), nil)
	assert.Equal(t, models.NodeResultFailed, result.Status)
	assert.Contains(t, result.Error, "context deadline exceeded")
}

func TestDispatchUnknownNodeType(t *testing.T) {
	d := NewDispatcher(NewRegistry(), time.Second)
	result := d.Dispatch(context.Background(), &Context{NodeID: "n1"}, testNode(models.NodeTypeAgent, nil), nil)
	assert.Equal(t, models.NodeResultFailed, result.Status)
	assert.Contains(t, result.Error, models.ErrExecutorNotFound.Error())
}

func TestTimeoutResolution(t *testing.T) {
	d := NewDispatcher(NewRegistry(), 3*time.Minute)

	assert.Equal(t, 3*time.Minute, d.Timeout(testNode(models.NodeTypeTrigger, nil)))
	assert.Equal(t, 10*time.Second, d.Timeout(testNode(models.NodeTypeTrigger, map[string]interface{}{"timeout_seconds": float64(10)})))
	assert.Equal(t, 7*time.Second, d.Timeout(testNode(models.NodeTypeTrigger, map[string]interface{}{"timeout_seconds": 7})))
}

func TestIdempotencyKeyIsStablePerAttempt(t *testing.T) {
	ec := &Context{ExecutionID: "exec-1", NodeID: "n", Attempt: 2}
	assert.Equal(t, "exec-1/n/2", ec.IdempotencyKey())
}
