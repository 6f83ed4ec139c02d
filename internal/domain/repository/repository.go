// Package repository defines the persistence contracts of the orchestration
// core. The store is the sole durable truth: the engine and workers never
// hold state across steps, and execution rows are mutated only under a
// lease.
package repository

import (
	"context"
	"time"

	"github.com/smilemakc/flowforge/pkg/models"
)

// SaveOptions qualifies an execution save.
type SaveOptions struct {
	// LeaseOwner must match the live lease on the row; the save releases
	// the lease atomically with the write. Empty skips the lease check
	// (used by lifecycle transitions that do not run inside a step).
	LeaseOwner string

	// KeepLease retains the lease after the write. The engine's step saves
	// leave it unset.
	KeepLease bool

	// ProcessedSignalID marks the signal processed in the same atomic unit
	// as the execution write. A signal is consumed by at most one
	// transition.
	ProcessedSignalID string
}

// WorkflowRepository stores workflow definitions and their immutable
// versions.
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	// Update writes the workflow and snapshots the new graph as a new
	// immutable version (workflow.Version must already be bumped).
	Update(ctx context.Context, workflow *models.Workflow) error
	FindByID(ctx context.Context, id string) (*models.Workflow, error)
	FindVersion(ctx context.Context, id string, version int) (*models.WorkflowVersion, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	SoftDelete(ctx context.Context, id string) error
}

// ExecutionRepository stores executions with their embedded state blobs and
// implements the worker's claim queries.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Get(ctx context.Context, id string) (*models.Execution, error)
	List(ctx context.Context, workflowID string, limit, offset int) ([]*models.Execution, error)

	// Save persists status, state blob, retry bookkeeping and completion
	// time. With opts.LeaseOwner set it fails with models.ErrLeaseNotHeld
	// when the caller no longer holds the lease, and otherwise releases it
	// (unless opts.KeepLease) atomically with the write.
	Save(ctx context.Context, execution *models.Execution, opts SaveOptions) error

	// ClaimRunnable leases up to max executions that are runnable at now:
	// running without a live lease, failed with next_retry_at <= now, or
	// waiting_for_signal with a matching unprocessed signal. Terminal
	// executions are never returned.
	ClaimRunnable(ctx context.Context, owner string, max int, now time.Time, leaseTTL time.Duration) ([]*models.Execution, error)

	// ReleaseLease drops the lease without writing state (step error path).
	ReleaseLease(ctx context.Context, id, owner string) error
}

// SignalRepository stores signals, their consumption and dead-lettering.
type SignalRepository interface {
	Append(ctx context.Context, signal *models.Signal) error
	// OldestPending returns the oldest unprocessed signal addressed to the
	// execution with the given type, or nil.
	OldestPending(ctx context.Context, executionID, signalType string) (*models.Signal, error)
	// OldestUnrouted returns the oldest unprocessed signal of the type with
	// no execution id, or nil.
	OldestUnrouted(ctx context.Context, signalType string) (*models.Signal, error)
	// HasPending reports whether any unprocessed signal targets the
	// execution.
	HasPending(ctx context.Context, executionID string) (bool, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
	// DeadLetterExpired moves unprocessed signals older than the TTL to the
	// dead-letter area and returns how many moved.
	DeadLetterExpired(ctx context.Context, ttl time.Duration, now time.Time, reason string) (int, error)
}

// NextFireFunc computes the next fire time of a schedule rule strictly after
// the given time.
type NextFireFunc func(rule string, after time.Time) (time.Time, error)

// ScheduleRepository stores schedules and implements the due-schedule scan.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *models.Schedule) error
	Update(ctx context.Context, schedule *models.Schedule) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context, workflowID string) ([]*models.Schedule, error)

	// Due returns active schedules with next_fire_at <= now, advancing each
	// one's next_fire_at via next atomically with the read so concurrent
	// pollers never double-fire the same instant.
	Due(ctx context.Context, now time.Time, max int, next NextFireFunc) ([]*models.Schedule, error)
}

// LogRepository stores the append-only execution audit log.
type LogRepository interface {
	Append(ctx context.Context, log *models.ExecutionLog) error
	ListByExecution(ctx context.Context, executionID string, limit int) ([]*models.ExecutionLog, error)
}

// SubscriptionRepository stores webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.WebhookSubscription) error
	Update(ctx context.Context, sub *models.WebhookSubscription) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.WebhookSubscription, error)
	// FindByTrigger resolves the active subscriptions for a connector's
	// trigger id; webhook ingress verifies against each until one matches.
	FindByTrigger(ctx context.Context, connectorSlug, triggerID string) ([]*models.WebhookSubscription, error)
}

// Store bundles every repository behind one handle.
type Store interface {
	Workflows() WorkflowRepository
	Executions() ExecutionRepository
	Signals() SignalRepository
	Schedules() ScheduleRepository
	Logs() LogRepository
	Subscriptions() SubscriptionRepository
	Ping(ctx context.Context) error
	Close() error
}
