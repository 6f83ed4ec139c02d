package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/internal/application/engine"
	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/application/schedule"
	signallayer "github.com/smilemakc/flowforge/internal/application/signal"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/storage"
	"github.com/smilemakc/flowforge/pkg/credentials"
	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/executor/builtin"
	"github.com/smilemakc/flowforge/pkg/models"
)

type workerEnv struct {
	store  *storage.MemoryStore
	engine *engine.Manager
	worker *Worker
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	registry := executor.NewRegistry()
	dispatcher := executor.NewDispatcher(registry, 10*time.Second)
	eng := engine.NewManager(store, dispatcher, engine.DefaultRetryManager(), observer.NewManager(), logger.Nop(), engine.Config{})
	require.NoError(t, builtin.Register(registry, builtin.Deps{
		Credentials: &credentials.StaticProvider{},
		SubWorkflow: eng,
	}))

	signals := signallayer.NewService(store, nil, logger.Nop(), signallayer.Config{})
	scheduler := schedule.NewScheduler(store, eng, nil, logger.Nop())

	w := New(store, eng, scheduler, signals, nil, logger.Nop(), Config{
		Concurrency:  4,
		Batch:        8,
		PollInterval: 20 * time.Millisecond,
		LeaseTTL:     time.Minute,
	})
	eng.SetWaker(w)
	signals.SetWaker(w)

	return &workerEnv{store: store, engine: eng, worker: w}
}

func (e *workerEnv) seedWorkflow(t *testing.T, id string) {
	t.Helper()
	workflow := &models.Workflow{
		ID:       id,
		Name:     id,
		Version:  1,
		IsActive: true,
		Nodes: []*models.Node{
			{ID: "trigger", Type: models.NodeTypeTrigger, Config: map[string]interface{}{}},
			{ID: "check", Type: models.NodeTypeCondition, Config: map[string]interface{}{"condition": "n > 0"}},
			{ID: "done", Type: models.NodeTypeTrigger, Config: map[string]interface{}{}},
		},
		Edges: []*models.Edge{
			{From: "trigger", To: "check"},
			{From: "check", To: "done", Branch: "true"},
			{From: "check", To: "done", Branch: "false"},
		},
	}
	require.NoError(t, e.store.Workflows().Create(context.Background(), workflow))
}

func (e *workerEnv) waitTerminal(t *testing.T, executionID string, timeout time.Duration) *models.Execution {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		execution, err := e.store.Executions().Get(context.Background(), executionID)
		require.NoError(t, err)
		if execution.IsTerminal() {
			return execution
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("execution %s not terminal within %s", executionID, timeout)
	return nil
}

func TestWorkerDrivesExecutionToCompletion(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedWorkflow(t, "wf-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.worker.Run(ctx) }()

	execution, err := env.engine.CreateExecution(ctx, "wf-1", map[string]interface{}{"n": 5})
	require.NoError(t, err)

	final := env.waitTerminal(t, execution.ID, 5*time.Second)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.Equal(t, []string{"trigger", "check", "done"}, final.State.CompletedNodeIDs)
}

func TestWorkerProcessesManyExecutionsConcurrently(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedWorkflow(t, "wf-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.worker.Run(ctx) }()

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		execution, err := env.engine.CreateExecution(ctx, "wf-1", map[string]interface{}{"n": i})
		require.NoError(t, err)
		ids = append(ids, execution.ID)
	}

	for _, id := range ids {
		final := env.waitTerminal(t, id, 10*time.Second)
		assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	}
}

func TestWorkerFiresDueSchedules(t *testing.T) {
	env := newWorkerEnv(t)
	env.seedWorkflow(t, "wf-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	past := time.Now().Add(-time.Second)
	require.NoError(t, env.store.Schedules().Create(ctx, &models.Schedule{
		ID:         "sched-1",
		WorkflowID: "wf-1",
		CronExpr:   "*/5 * * * *",
		NextFireAt: past,
		Active:     true,
		CreatedAt:  past,
	}))

	go func() { _ = env.worker.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		executions, err := env.store.Executions().List(ctx, "wf-1", 10, 0)
		require.NoError(t, err)
		if len(executions) == 1 {
			data := executions[0].State.ExecutionData
			assert.Equal(t, "schedule", data["trigger_type"])
			assert.Equal(t, "sched-1", data["schedule_id"])
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("schedule did not fire")
}

func TestWorkerDeliversSignalToParkedExecution(t *testing.T) {
	env := newWorkerEnv(t)
	workflow := &models.Workflow{
		ID:       "wf-wait",
		Name:     "wf-wait",
		Version:  1,
		IsActive: true,
		Nodes: []*models.Node{
			{ID: "trigger", Type: models.NodeTypeTrigger, Config: map[string]interface{}{}},
			{ID: "gate", Type: models.NodeTypeWaitSignal, Config: map[string]interface{}{"signal_type": "go"}},
		},
		Edges: []*models.Edge{{From: "trigger", To: "gate"}},
	}
	require.NoError(t, env.store.Workflows().Create(context.Background(), workflow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.worker.Run(ctx) }()

	execution, err := env.engine.CreateExecution(ctx, "wf-wait", nil)
	require.NoError(t, err)

	// wait for the park
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := env.store.Executions().Get(ctx, execution.ID)
		require.NoError(t, err)
		if current.Status == models.ExecutionStatusWaitingForSignal {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, env.engine.ProcessSignal(ctx, execution.ID, "go", map[string]interface{}{"ok": true}))

	final := env.waitTerminal(t, execution.ID, 5*time.Second)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
}
