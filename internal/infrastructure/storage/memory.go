package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smilemakc/flowforge/internal/domain/repository"
	storagemodels "github.com/smilemakc/flowforge/internal/infrastructure/storage/models"
	"github.com/smilemakc/flowforge/pkg/models"
)

// MemoryStore implements repository.Store entirely in memory, with the same
// lease, terminal-freeze and signal-consumption semantics as the Postgres
// store. It backs unit tests and the embedded/standalone mode.
type MemoryStore struct {
	mu sync.Mutex

	workflows     map[string]*models.Workflow
	versions      map[string]map[int]*models.WorkflowVersion
	executions    map[string]*models.Execution
	signals       map[string]*models.Signal
	deadLetters   []*models.DeadLetterSignal
	schedules     map[string]*models.Schedule
	logs          map[string][]*models.ExecutionLog
	subscriptions map[string]*models.WebhookSubscription
	logSeq        int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:     make(map[string]*models.Workflow),
		versions:      make(map[string]map[int]*models.WorkflowVersion),
		executions:    make(map[string]*models.Execution),
		signals:       make(map[string]*models.Signal),
		schedules:     make(map[string]*models.Schedule),
		logs:          make(map[string][]*models.ExecutionLog),
		subscriptions: make(map[string]*models.WebhookSubscription),
	}
}

func (s *MemoryStore) Workflows() repository.WorkflowRepository   { return (*memWorkflows)(s) }
func (s *MemoryStore) Executions() repository.ExecutionRepository { return (*memExecutions)(s) }
func (s *MemoryStore) Signals() repository.SignalRepository       { return (*memSignals)(s) }
func (s *MemoryStore) Schedules() repository.ScheduleRepository   { return (*memSchedules)(s) }
func (s *MemoryStore) Logs() repository.LogRepository             { return (*memLogs)(s) }
func (s *MemoryStore) Subscriptions() repository.SubscriptionRepository {
	return (*memSubscriptions)(s)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

// DeadLetters returns the dead-letter area (test inspection).
func (s *MemoryStore) DeadLetters() []*models.DeadLetterSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DeadLetterSignal, len(s.deadLetters))
	copy(out, s.deadLetters)
	return out
}

// --- workflows ---

type memWorkflows MemoryStore

func (s *memWorkflows) Create(_ context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[workflow.ID] = workflow
	s.snapshotVersion(workflow)
	return nil
}

func (s *memWorkflows) Update(_ context.Context, workflow *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.workflows[workflow.ID]
	if !ok || existing.Deleted {
		return models.ErrWorkflowNotFound
	}
	workflow.UpdatedAt = time.Now()
	s.workflows[workflow.ID] = workflow
	s.snapshotVersion(workflow)
	return nil
}

func (s *memWorkflows) snapshotVersion(workflow *models.Workflow) {
	if s.versions[workflow.ID] == nil {
		s.versions[workflow.ID] = make(map[int]*models.WorkflowVersion)
	}
	if _, exists := s.versions[workflow.ID][workflow.Version]; exists {
		return // versions are immutable
	}
	s.versions[workflow.ID][workflow.Version] = &models.WorkflowVersion{
		WorkflowID: workflow.ID,
		Version:    workflow.Version,
		Nodes:      workflow.Nodes,
		Edges:      workflow.Edges,
		CreatedAt:  time.Now(),
	}
}

func (s *memWorkflows) FindByID(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	workflow, ok := s.workflows[id]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}
	return workflow, nil
}

func (s *memWorkflows) FindVersion(_ context.Context, id string, version int) (*models.WorkflowVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.versions[id][version]
	if !ok {
		return nil, models.ErrWorkflowNotFound
	}
	return snapshot, nil
}

func (s *memWorkflows) List(_ context.Context) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		if !w.Deleted {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memWorkflows) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	workflow, ok := s.workflows[id]
	if !ok {
		return models.ErrWorkflowNotFound
	}
	workflow.Deleted = true
	workflow.IsActive = false
	return nil
}

// --- executions ---

type memExecutions MemoryStore

func (s *memExecutions) Create(_ context.Context, execution *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = cloneExecution(execution)
	return nil
}

func (s *memExecutions) Get(_ context.Context, id string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, models.ErrExecutionNotFound
	}
	return cloneExecution(execution), nil
}

func (s *memExecutions) List(_ context.Context, workflowID string, limit, offset int) ([]*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		if workflowID == "" || e.WorkflowID == workflowID {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset > 0 && offset < len(out) {
		out = out[offset:]
	} else if offset >= len(out) {
		out = nil
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memExecutions) Save(_ context.Context, execution *models.Execution, opts repository.SaveOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[execution.ID]
	if !ok {
		return models.ErrExecutionNotFound
	}
	if stored.IsTerminal() {
		return models.ErrExecutionTerminal
	}
	if opts.LeaseOwner != "" {
		if stored.LeaseOwner != opts.LeaseOwner || stored.LeaseUntil == nil || stored.LeaseUntil.Before(time.Now()) {
			return models.ErrLeaseNotHeld
		}
	}
	if opts.ProcessedSignalID != "" {
		signal, ok := s.signals[opts.ProcessedSignalID]
		if !ok || signal.Processed {
			return models.ErrSignalNotFound
		}
		now := time.Now()
		signal.Processed = true
		signal.ProcessedAt = &now
	}

	updated := cloneExecution(execution)
	if opts.LeaseOwner != "" && !opts.KeepLease {
		updated.LeaseOwner = ""
		updated.LeaseUntil = nil
	} else {
		updated.LeaseOwner = stored.LeaseOwner
		updated.LeaseUntil = stored.LeaseUntil
	}
	s.executions[execution.ID] = updated
	return nil
}

func (s *memExecutions) ClaimRunnable(_ context.Context, owner string, max int, now time.Time, leaseTTL time.Duration) ([]*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*models.Execution, 0)
	for _, e := range s.executions {
		if e.IsTerminal() || e.Status == models.ExecutionStatusPaused {
			continue
		}
		if e.LeaseOwner != "" && e.LeaseUntil != nil && e.LeaseUntil.After(now) {
			continue
		}
		switch e.Status {
		case models.ExecutionStatusRunning:
		case models.ExecutionStatusFailed:
			if e.NextRetryAt == nil || e.NextRetryAt.After(now) {
				continue
			}
		case models.ExecutionStatusWaitingForSignal:
			if !s.hasMatchingSignalLocked(e) {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].StartedAt.Before(candidates[j].StartedAt) })
	if len(candidates) > max {
		candidates = candidates[:max]
	}

	leaseUntil := now.Add(leaseTTL)
	claimed := make([]*models.Execution, 0, len(candidates))
	for _, e := range candidates {
		e.LeaseOwner = owner
		until := leaseUntil
		e.LeaseUntil = &until
		claimed = append(claimed, cloneExecution(e))
	}
	return claimed, nil
}

func (s *memExecutions) hasMatchingSignalLocked(e *models.Execution) bool {
	waitingType := ""
	if e.State != nil {
		waitingType = e.State.WaitingSignalType
	}
	for _, signal := range s.signals {
		if signal.Processed || signal.SignalType != waitingType {
			continue
		}
		if signal.ExecutionID == e.ID || signal.ExecutionID == "" {
			return true
		}
	}
	return false
}

func (s *memExecutions) ReleaseLease(_ context.Context, id, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return models.ErrExecutionNotFound
	}
	if execution.LeaseOwner == owner {
		execution.LeaseOwner = ""
		execution.LeaseUntil = nil
	}
	return nil
}

// cloneExecution guards the store's copy against caller mutation between
// load and save. The state machine is deep-copied through the same msgpack
// codec the Postgres store persists with, so a discarded step can never
// leak partial mutations into the stored row.
func cloneExecution(e *models.Execution) *models.Execution {
	out := *e
	if e.State != nil {
		version, blob, err := storagemodels.EncodeState(e.State)
		if err == nil {
			if state, err := storagemodels.DecodeState(version, blob); err == nil {
				out.State = state
			}
		}
	}
	return &out
}

// --- signals ---

type memSignals MemoryStore

func (s *memSignals) Append(_ context.Context, signal *models.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.ID] = signal
	return nil
}

func (s *memSignals) OldestPending(_ context.Context, executionID, signalType string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oldestLocked(func(sig *models.Signal) bool {
		return sig.ExecutionID == executionID && (signalType == "" || sig.SignalType == signalType)
	}), nil
}

func (s *memSignals) OldestUnrouted(_ context.Context, signalType string) (*models.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oldestLocked(func(sig *models.Signal) bool {
		return sig.ExecutionID == "" && sig.SignalType == signalType
	}), nil
}

func (s *memSignals) oldestLocked(match func(*models.Signal) bool) *models.Signal {
	var oldest *models.Signal
	for _, sig := range s.signals {
		if sig.Processed || !match(sig) {
			continue
		}
		if oldest == nil || sig.ReceivedAt.Before(oldest.ReceivedAt) {
			oldest = sig
		}
	}
	return oldest
}

func (s *memSignals) HasPending(_ context.Context, executionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if !sig.Processed && sig.ExecutionID == executionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memSignals) MarkProcessed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	signal, ok := s.signals[id]
	if !ok || signal.Processed {
		return models.ErrSignalNotFound
	}
	signal.Processed = true
	signal.ProcessedAt = &at
	return nil
}

func (s *memSignals) DeadLetterExpired(_ context.Context, ttl time.Duration, now time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-ttl)
	moved := 0
	for id, sig := range s.signals {
		if sig.Processed || !sig.ReceivedAt.Before(cutoff) {
			continue
		}
		s.deadLetters = append(s.deadLetters, &models.DeadLetterSignal{
			Signal:    *sig,
			Reason:    reason,
			DroppedAt: now,
		})
		delete(s.signals, id)
		moved++
	}
	return moved, nil
}

// --- schedules ---

type memSchedules MemoryStore

func (s *memSchedules) Create(_ context.Context, schedule *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *memSchedules) Update(_ context.Context, schedule *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[schedule.ID]; !ok {
		return models.ErrScheduleNotFound
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *memSchedules) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return models.ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *memSchedules) Get(_ context.Context, id string) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schedule, ok := s.schedules[id]
	if !ok {
		return nil, models.ErrScheduleNotFound
	}
	return schedule, nil
}

func (s *memSchedules) List(_ context.Context, workflowID string) ([]*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		if workflowID == "" || sc.WorkflowID == workflowID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memSchedules) Due(_ context.Context, now time.Time, max int, next repository.NextFireFunc) ([]*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fired := make([]*models.Schedule, 0)
	for _, sc := range s.schedules {
		if len(fired) >= max {
			break
		}
		if !sc.Active || sc.NextFireAt.After(now) {
			continue
		}
		nextFire, err := next(sc.CronExpr, now)
		if err != nil {
			sc.Active = false
			continue
		}
		snapshot := *sc
		sc.NextFireAt = nextFire
		fired = append(fired, &snapshot)
	}
	return fired, nil
}

// --- logs ---

type memLogs MemoryStore

func (s *memLogs) Append(_ context.Context, log *models.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logSeq++
	log.ID = s.logSeq
	s.logs[log.ExecutionID] = append(s.logs[log.ExecutionID], log)
	return nil
}

func (s *memLogs) ListByExecution(_ context.Context, executionID string, limit int) ([]*models.ExecutionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.logs[executionID]
	if limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	out := make([]*models.ExecutionLog, len(logs))
	copy(out, logs)
	return out, nil
}

// --- webhook subscriptions ---

type memSubscriptions MemoryStore

func (s *memSubscriptions) Create(_ context.Context, sub *models.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *memSubscriptions) Update(_ context.Context, sub *models.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return models.ErrSubscriptionNotFound
	}
	s.subscriptions[sub.ID] = sub
	return nil
}

func (s *memSubscriptions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[id]; !ok {
		return models.ErrSubscriptionNotFound
	}
	delete(s.subscriptions, id)
	return nil
}

func (s *memSubscriptions) Get(_ context.Context, id string) (*models.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, models.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *memSubscriptions) FindByTrigger(_ context.Context, connectorSlug, triggerID string) ([]*models.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.WebhookSubscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Active && sub.ConnectorSlug == connectorSlug && sub.TriggerID == triggerID {
			out = append(out, sub)
		}
	}
	return out, nil
}
