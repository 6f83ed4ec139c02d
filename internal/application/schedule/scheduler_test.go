package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/internal/infrastructure/storage"
	"github.com/smilemakc/flowforge/pkg/models"
)

type recordingCreator struct {
	created []map[string]interface{}
	fail    error
}

func (r *recordingCreator) CreateExecution(_ context.Context, workflowID string, triggerData map[string]interface{}) (*models.Execution, error) {
	if r.fail != nil {
		return nil, r.fail
	}
	r.created = append(r.created, triggerData)
	return &models.Execution{ID: "exec-test", WorkflowID: workflowID}, nil
}

func seedWorkflow(t *testing.T, store *storage.MemoryStore) *models.Workflow {
	t.Helper()
	workflow := &models.Workflow{
		ID:       "wf-1",
		Name:     "nightly",
		Version:  1,
		IsActive: true,
		Nodes:    []*models.Node{{ID: "t", Type: models.NodeTypeTrigger, Config: map[string]interface{}{}}},
	}
	require.NoError(t, store.Workflows().Create(context.Background(), workflow))
	return workflow
}

func TestNextFire(t *testing.T) {
	after := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

	next, err := NextFire("0 12 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), next)

	next, err = NextFire("@hourly", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = NextFire("not a rule", after)
	require.Error(t, err)
}

func TestCreateScheduleValidatesRule(t *testing.T) {
	store := storage.NewMemoryStore()
	seedWorkflow(t, store)
	scheduler := NewScheduler(store, &recordingCreator{}, nil, logger.Nop())

	created, err := scheduler.CreateSchedule(context.Background(), "wf-1", "*/5 * * * *")
	require.NoError(t, err)
	assert.True(t, created.Active)
	assert.True(t, created.NextFireAt.After(time.Now()))

	_, err = scheduler.CreateSchedule(context.Background(), "wf-1", "every day at noon")
	require.Error(t, err)

	_, err = scheduler.CreateSchedule(context.Background(), "wf-missing", "*/5 * * * *")
	assert.ErrorIs(t, err, models.ErrWorkflowNotFound)
}

func TestFireDueCreatesExecutionWithMetadata(t *testing.T) {
	store := storage.NewMemoryStore()
	seedWorkflow(t, store)
	creator := &recordingCreator{}
	scheduler := NewScheduler(store, creator, nil, logger.Nop())

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Schedules().Create(context.Background(), &models.Schedule{
		ID:         "sched-1",
		WorkflowID: "wf-1",
		CronExpr:   "*/5 * * * *",
		NextFireAt: past,
		Active:     true,
		CreatedAt:  past,
	}))

	fired, err := scheduler.FireDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	require.Len(t, creator.created, 1)
	assert.Equal(t, "schedule", creator.created[0]["trigger_type"])
	assert.Equal(t, "sched-1", creator.created[0]["schedule_id"])

	// next_fire_at advanced: nothing is due any more
	fired, err = scheduler.FireDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	updated, err := store.Schedules().Get(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.True(t, updated.NextFireAt.After(time.Now().Add(-time.Second)))
}

func TestFireDueSkipsFailingWorkflow(t *testing.T) {
	store := storage.NewMemoryStore()
	seedWorkflow(t, store)
	creator := &recordingCreator{fail: models.ErrWorkflowInactive}
	scheduler := NewScheduler(store, creator, nil, logger.Nop())

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Schedules().Create(context.Background(), &models.Schedule{
		ID:         "sched-1",
		WorkflowID: "wf-1",
		CronExpr:   "*/5 * * * *",
		NextFireAt: past,
		Active:     true,
		CreatedAt:  past,
	}))

	fired, err := scheduler.FireDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	// the miss is skipped, not retried
	fired, err = scheduler.FireDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)
}

func TestFireDueDeactivatesUnparseableRule(t *testing.T) {
	store := storage.NewMemoryStore()
	seedWorkflow(t, store)
	scheduler := NewScheduler(store, &recordingCreator{}, nil, logger.Nop())

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.Schedules().Create(context.Background(), &models.Schedule{
		ID:         "sched-bad",
		WorkflowID: "wf-1",
		CronExpr:   "garbage",
		NextFireAt: past,
		Active:     true,
		CreatedAt:  past,
	}))

	fired, err := scheduler.FireDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, fired)

	updated, err := store.Schedules().Get(context.Background(), "sched-bad")
	require.NoError(t, err)
	assert.False(t, updated.Active)
}
