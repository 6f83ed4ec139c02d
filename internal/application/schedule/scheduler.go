// Package schedule turns cron rules into executions. A schedule is a pure
// (rule -> next fire time) function over the store's next_fire_at column;
// firing is fire-and-forget and never queues the same instant twice.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/pkg/models"
)

// ExecutionCreator is the slice of the engine the scheduler needs.
type ExecutionCreator interface {
	CreateExecution(ctx context.Context, workflowID string, triggerData map[string]interface{}) (*models.Execution, error)
}

// cronParser accepts the standard five-field spec plus descriptors
// (@hourly, @every ...).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextFire computes the next fire time of a rule strictly after the given
// time, in UTC.
func NextFire(rule string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(rule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron rule %q: %w", rule, err)
	}
	return schedule.Next(after.UTC()), nil
}

// Scheduler fires due schedules into executions.
type Scheduler struct {
	store     repository.Store
	engine    ExecutionCreator
	observers *observer.Manager
	log       *logger.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(store repository.Store, engine ExecutionCreator, observers *observer.Manager, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{
		store:     store,
		engine:    engine,
		observers: observers,
		log:       log,
	}
}

// CreateSchedule validates the rule, stamps the first fire time and
// persists the schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, workflowID, rule string) (*models.Schedule, error) {
	if _, err := s.store.Workflows().FindByID(ctx, workflowID); err != nil {
		return nil, err
	}
	now := time.Now()
	nextFire, err := NextFire(rule, now)
	if err != nil {
		return nil, &models.ValidationError{Field: "cron_expr", Message: err.Error()}
	}
	schedule := &models.Schedule{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		CronExpr:   rule,
		NextFireAt: nextFire,
		Active:     true,
		CreatedAt:  now,
	}
	if err := s.store.Schedules().Create(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// FireDue fires every due schedule: each one creates an execution carrying
// schedule metadata in its trigger data. Creation failures (deleted or
// inactive workflow) log and skip; next_fire_at already advanced, so the
// miss is not retried.
func (s *Scheduler) FireDue(ctx context.Context, now time.Time, max int) (int, error) {
	due, err := s.store.Schedules().Due(ctx, now, max, NextFire)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, schedule := range due {
		triggerData := map[string]interface{}{
			"trigger_type":       "schedule",
			"schedule_id":        schedule.ID,
			"scheduled_fire_at":  schedule.NextFireAt.Format(time.RFC3339),
			"schedule_cron_expr": schedule.CronExpr,
		}
		execution, err := s.engine.CreateExecution(ctx, schedule.WorkflowID, triggerData)
		if err != nil {
			s.log.Warn("schedule fire skipped",
				"schedule_id", schedule.ID, "workflow_id", schedule.WorkflowID, "error", err)
			continue
		}
		fired++
		if s.observers != nil {
			s.observers.Notify(ctx, observer.Event{
				Type:        observer.EventTypeScheduleFired,
				ExecutionID: execution.ID,
				WorkflowID:  schedule.WorkflowID,
				Data:        map[string]interface{}{"schedule_id": schedule.ID},
			})
		}
	}
	return fired, nil
}
