// Package engine implements the durable execution engine: creating
// executions, advancing them one node step at a time under a lease,
// retry scheduling, signals, replay and lifecycle transitions.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/models"
)

// Waker is notified when state changes outside the worker loop make work
// runnable (signal ingress, child termination). Implementations must not
// block.
type Waker interface {
	Wake()
}

// Config holds engine tunables.
type Config struct {
	// MaxParallelNodes bounds concurrent members of one fan-out group.
	MaxParallelNodes int
	// WorkflowTimeout, when positive, becomes the deadline of every new
	// execution; exceeded deadlines terminate at the next step boundary.
	WorkflowTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxParallelNodes: 10,
	}
}

// Manager is the execution engine. All state lives in the store; a Manager
// is stateless between calls and safe for concurrent use.
type Manager struct {
	store      repository.Store
	dispatcher *executor.Dispatcher
	retry      *RetryManager
	observers  *observer.Manager
	log        *logger.Logger
	waker      Waker
	cfg        Config
}

// NewManager creates an execution engine.
func NewManager(
	store repository.Store,
	dispatcher *executor.Dispatcher,
	retry *RetryManager,
	observers *observer.Manager,
	log *logger.Logger,
	cfg Config,
) *Manager {
	if retry == nil {
		retry = DefaultRetryManager()
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.MaxParallelNodes <= 0 {
		cfg.MaxParallelNodes = DefaultConfig().MaxParallelNodes
	}
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		retry:      retry,
		observers:  observers,
		log:        log,
		cfg:        cfg,
	}
}

// SetWaker installs the worker wake hook.
func (m *Manager) SetWaker(w Waker) {
	m.waker = w
}

func (m *Manager) wake() {
	if m.waker != nil {
		m.waker.Wake()
	}
}

// newExecutionID builds the external-facing short id.
func newExecutionID() string {
	return "exec-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// CreateExecution loads the workflow at its current version, validates the
// graph and every node config, and persists a new running execution seeded
// with the trigger data. The new execution is immediately claimable.
func (m *Manager) CreateExecution(ctx context.Context, workflowID string, triggerData map[string]interface{}) (*models.Execution, error) {
	workflow, err := m.store.Workflows().FindByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !workflow.IsActive || workflow.Deleted {
		return nil, models.ErrWorkflowInactive
	}

	if _, err := BuildGraph(workflow.Nodes, workflow.Edges); err != nil {
		return nil, err
	}
	if err := m.validateNodeConfigs(workflow.Nodes); err != nil {
		return nil, err
	}

	executionID := newExecutionID()
	state := models.NewExecutionState(executionID, workflowID, workflow.Version, triggerData)
	if m.cfg.WorkflowTimeout > 0 {
		deadline := time.Now().Add(m.cfg.WorkflowTimeout)
		state.Deadline = &deadline
	}

	execution := &models.Execution{
		ID:              executionID,
		WorkflowID:      workflowID,
		WorkflowVersion: workflow.Version,
		Status:          models.ExecutionStatusRunning,
		StartedAt:       time.Now(),
		State:           state,
	}
	if err := m.store.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	m.appendLog(ctx, executionID, "start", "info", "workflow execution started: "+executionID)
	m.notify(ctx, observer.Event{
		Type:        observer.EventTypeExecutionStarted,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Status:      string(execution.Status),
	})
	m.wake()
	return execution, nil
}

// ValidateWorkflow checks the graph and every node config without touching
// the store; the API boundary rejects invalid definitions here.
func (m *Manager) ValidateWorkflow(workflow *models.Workflow) error {
	if _, err := BuildGraph(workflow.Nodes, workflow.Edges); err != nil {
		return err
	}
	return m.validateNodeConfigs(workflow.Nodes)
}

// validateNodeConfigs runs each registered handler's Validate over its node
// configs so invalid workflows are rejected at the API boundary.
func (m *Manager) validateNodeConfigs(nodes []*models.Node) error {
	for _, node := range nodes {
		handler, err := m.dispatcher.Registry().Get(node.Type)
		if err != nil {
			return fmt.Errorf("%w: %s", models.ErrInvalidNodeType, node.Type)
		}
		if err := handler.Validate(node.Config); err != nil {
			return &models.ValidationError{Field: "nodes." + node.ID, Message: err.Error()}
		}
	}
	return nil
}

// GetExecution loads an execution.
func (m *Manager) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	return m.store.Executions().Get(ctx, executionID)
}

// Pause transitions running -> paused.
func (m *Manager) Pause(ctx context.Context, executionID string) error {
	execution, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status != models.ExecutionStatusRunning {
		return fmt.Errorf("%w: pause from %s", models.ErrInvalidTransition, execution.Status)
	}
	execution.Status = models.ExecutionStatusPaused
	if err := m.store.Executions().Save(ctx, execution, repository.SaveOptions{}); err != nil {
		return err
	}
	m.appendLog(ctx, executionID, systemNode(execution), "info", "execution paused")
	m.notify(ctx, observer.Event{Type: observer.EventTypeExecutionPaused, ExecutionID: executionID, WorkflowID: execution.WorkflowID, Status: string(execution.Status)})
	return nil
}

// Resume transitions paused/waiting_for_signal -> running.
func (m *Manager) Resume(ctx context.Context, executionID string) error {
	execution, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status != models.ExecutionStatusPaused && execution.Status != models.ExecutionStatusWaitingForSignal {
		return fmt.Errorf("%w: resume from %s", models.ErrInvalidTransition, execution.Status)
	}
	execution.Status = models.ExecutionStatusRunning
	if err := m.store.Executions().Save(ctx, execution, repository.SaveOptions{}); err != nil {
		return err
	}
	m.appendLog(ctx, executionID, systemNode(execution), "info", "execution resumed")
	m.notify(ctx, observer.Event{Type: observer.EventTypeExecutionResumed, ExecutionID: executionID, WorkflowID: execution.WorkflowID, Status: string(execution.Status)})
	m.wake()
	return nil
}

// Terminate transitions running/paused/waiting_for_signal -> terminated.
// The terminal status is observed by any in-flight step at its save
// boundary; that step's result is discarded.
func (m *Manager) Terminate(ctx context.Context, executionID, reason string) error {
	execution, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return err
	}
	switch execution.Status {
	case models.ExecutionStatusRunning, models.ExecutionStatusPaused, models.ExecutionStatusWaitingForSignal:
	default:
		return fmt.Errorf("%w: terminate from %s", models.ErrInvalidTransition, execution.Status)
	}

	if reason == "" {
		reason = "execution terminated by user"
	}
	now := time.Now()
	execution.Status = models.ExecutionStatusTerminated
	execution.CompletedAt = &now
	execution.Error = reason
	execution.NextRetryAt = nil
	if err := m.store.Executions().Save(ctx, execution, repository.SaveOptions{}); err != nil {
		return err
	}
	m.appendLog(ctx, executionID, systemNode(execution), "warn", "execution terminated: "+reason)
	m.notify(ctx, observer.Event{Type: observer.EventTypeExecutionTerminated, ExecutionID: executionID, WorkflowID: execution.WorkflowID, Status: string(execution.Status), Error: reason})
	m.wake() // a waiting parent may be unblocked
	return nil
}

// WaitForSignal parks the execution on a signal type.
func (m *Manager) WaitForSignal(ctx context.Context, executionID, signalType string) error {
	execution, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status.IsTerminal() {
		return models.ErrExecutionTerminal
	}
	execution.Status = models.ExecutionStatusWaitingForSignal
	execution.State.WaitingSignalType = signalType
	if err := m.store.Executions().Save(ctx, execution, repository.SaveOptions{}); err != nil {
		return err
	}
	m.appendLog(ctx, executionID, systemNode(execution), "info", "execution waiting for signal: "+signalType)
	return nil
}

// ProcessSignal records a signal for an execution and resumes it when it is
// parked on the type. Signals arriving before the wait node is reached are
// stored and delivered when the execution parks.
func (m *Manager) ProcessSignal(ctx context.Context, executionID, signalType string, signalData map[string]interface{}) error {
	signal := &models.Signal{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		SignalType:  signalType,
		SignalData:  signalData,
		ReceivedAt:  time.Now(),
	}
	if err := m.store.Signals().Append(ctx, signal); err != nil {
		return err
	}
	m.notify(ctx, observer.Event{Type: observer.EventTypeSignalReceived, ExecutionID: executionID, Data: map[string]interface{}{"signal_type": signalType}})

	execution, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status == models.ExecutionStatusWaitingForSignal && execution.State.WaitingSignalType == signalType {
		execution.State.MergeSignal(signalType, signalData)
		execution.State.WaitingSignalType = ""
		execution.State.WaitingSelector = ""
		execution.Status = models.ExecutionStatusRunning
		if err := m.store.Executions().Save(ctx, execution, repository.SaveOptions{ProcessedSignalID: signal.ID}); err != nil {
			return err
		}
		m.appendLog(ctx, executionID, systemNode(execution), "info", "signal received and processed: "+signalType)
	}
	m.wake()
	return nil
}

// ReplayExecution creates a new execution of the same workflow version. With
// fromNodeID set, node results and execution data are copied from the source
// up to but not including that node; earlier side effects are never re-run.
func (m *Manager) ReplayExecution(ctx context.Context, executionID, fromNodeID string) (*models.Execution, error) {
	source, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	newID := newExecutionID()
	triggerData := map[string]interface{}{
		"trigger_type":          "replay",
		"original_execution_id": executionID,
	}
	if fromNodeID != "" {
		triggerData["replay_from_node"] = fromNodeID
	}

	state := models.NewExecutionState(newID, source.WorkflowID, source.WorkflowVersion, triggerData)
	if fromNodeID != "" {
		for k, v := range source.State.ExecutionData {
			state.ExecutionData[k] = v
		}
		for _, nodeID := range source.State.CompletedNodeIDs {
			if nodeID == fromNodeID {
				break
			}
			if result, ok := source.State.NodeResult(nodeID); ok {
				state.MarkNodeCompleted(nodeID, result)
			}
		}
	}

	execution := &models.Execution{
		ID:              newID,
		WorkflowID:      source.WorkflowID,
		WorkflowVersion: source.WorkflowVersion,
		Status:          models.ExecutionStatusRunning,
		StartedAt:       time.Now(),
		State:           state,
	}
	if err := m.store.Executions().Create(ctx, execution); err != nil {
		return nil, err
	}

	if fromNodeID != "" {
		m.appendLog(ctx, newID, "system", "info", "replay started from node: "+fromNodeID)
	} else {
		m.appendLog(ctx, newID, "system", "info", "replay started from beginning of execution "+executionID)
	}
	m.wake()
	return execution, nil
}

// SpawnChild implements builtin.SubWorkflowService: it creates a child
// execution for a sub_workflow node.
func (m *Manager) SpawnChild(ctx context.Context, parentExecutionID, nodeID, workflowID string, triggerData map[string]interface{}) (string, error) {
	data := make(map[string]interface{}, len(triggerData)+2)
	for k, v := range triggerData {
		data[k] = v
	}
	data["parent_execution_id"] = parentExecutionID
	data["parent_node_id"] = nodeID

	child, err := m.CreateExecution(ctx, workflowID, data)
	if err != nil {
		return "", err
	}
	return child.ID, nil
}

// ChildState implements builtin.SubWorkflowService: status plus final
// execution data of a child execution. A failed child that still has a
// retry pending is reported as running so the parent keeps waiting.
func (m *Manager) ChildState(ctx context.Context, childExecutionID string) (models.ExecutionStatus, map[string]interface{}, error) {
	child, err := m.store.Executions().Get(ctx, childExecutionID)
	if err != nil {
		return "", nil, err
	}
	var data map[string]interface{}
	if child.State != nil {
		data = child.State.ExecutionData
	}
	status := child.Status
	if !child.IsTerminal() && status == models.ExecutionStatusFailed {
		status = models.ExecutionStatusRunning
	}
	return status, data, nil
}

// appendLog writes one audit line; log write failures are reported but never
// fail the operation that produced them.
func (m *Manager) appendLog(ctx context.Context, executionID, nodeID, level, message string) {
	err := m.store.Logs().Append(ctx, &models.ExecutionLog{
		ExecutionID: executionID,
		NodeID:      nodeID,
		Level:       level,
		Message:     message,
		Timestamp:   time.Now(),
	})
	if err != nil {
		m.log.Warn("failed to append execution log", "execution_id", executionID, "error", err)
	}
}

func (m *Manager) notify(ctx context.Context, event observer.Event) {
	if m.observers != nil {
		m.observers.Notify(ctx, event)
	}
}

func systemNode(execution *models.Execution) string {
	if execution.State != nil && execution.State.CurrentNodeID != "" {
		return execution.State.CurrentNodeID
	}
	return "system"
}
