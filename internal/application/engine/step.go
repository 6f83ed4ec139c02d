package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/smilemakc/flowforge/internal/application/observer"
	"github.com/smilemakc/flowforge/internal/domain/repository"
	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/models"
)

// stepTarget is the outcome of next-node selection: a single node to run, a
// parallel group to run, or nothing left (terminal completed).
type stepTarget struct {
	nodeID string
	group  *models.ParallelGroup
	done   bool
}

// ExecuteStep performs one atomic advance of the execution under the
// caller's lease: pick the next node, dispatch it, record the result, select
// the successor, persist and release. Long-running handlers block only this
// step.
func (m *Manager) ExecuteStep(ctx context.Context, executionID, leaseOwner string) error {
	execution, err := m.store.Executions().Get(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.IsTerminal() || execution.Status == models.ExecutionStatusPaused {
		return m.store.Executions().ReleaseLease(ctx, executionID, leaseOwner)
	}
	state := execution.State

	var processedSignalID string

	switch execution.Status {
	case models.ExecutionStatusFailed:
		// Claimed because the retry is due; retry_count was already
		// incremented when the retry was scheduled.
		execution.Status = models.ExecutionStatusRunning
		execution.NextRetryAt = nil
		m.appendLog(ctx, executionID, systemNode(execution), "info", fmt.Sprintf("retrying execution (attempt %d)", execution.RetryCount))

	case models.ExecutionStatusWaitingForSignal:
		signal, err := m.matchSignal(ctx, execution)
		if err != nil {
			return err
		}
		if signal == nil {
			return m.store.Executions().ReleaseLease(ctx, executionID, leaseOwner)
		}
		state.MergeSignal(signal.SignalType, signal.SignalData)
		state.WaitingSignalType = ""
		state.WaitingSelector = ""
		execution.Status = models.ExecutionStatusRunning
		processedSignalID = signal.ID
		m.appendLog(ctx, executionID, systemNode(execution), "info", "signal received and processed: "+signal.SignalType)
	}

	// Workflow deadline is enforced as a terminate at the step boundary.
	if state.Deadline != nil && time.Now().After(*state.Deadline) {
		now := time.Now()
		execution.Status = models.ExecutionStatusTerminated
		execution.CompletedAt = &now
		execution.Error = "workflow timeout exceeded"
		execution.NextRetryAt = nil
		return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
	}

	graph, err := m.loadGraph(ctx, execution.WorkflowID, execution.WorkflowVersion)
	if err != nil {
		_ = m.store.Executions().ReleaseLease(ctx, executionID, leaseOwner)
		return fmt.Errorf("failed to load workflow graph: %w", err)
	}

	target, err := m.pickTarget(graph, state)
	if err != nil {
		return m.failPermanently(ctx, execution, leaseOwner, processedSignalID, err.Error())
	}
	if target.done {
		return m.completeExecution(ctx, execution, leaseOwner, processedSignalID)
	}

	if target.group != nil {
		return m.runParallelGroup(ctx, graph, execution, target.group, leaseOwner, processedSignalID)
	}
	return m.runSingleNode(ctx, graph, execution, target.nodeID, leaseOwner, processedSignalID)
}

// loadGraph compiles the immutable graph of the version the execution
// observed.
func (m *Manager) loadGraph(ctx context.Context, workflowID string, version int) (*Graph, error) {
	snapshot, err := m.store.Workflows().FindVersion(ctx, workflowID, version)
	if err != nil {
		return nil, err
	}
	return BuildGraph(snapshot.Nodes, snapshot.Edges)
}

// pickTarget resolves what to run next: the pinned current node, the entry
// node, or the successor of the last completed node.
func (m *Manager) pickTarget(graph *Graph, state *models.ExecutionState) (stepTarget, error) {
	if state.CurrentNodeID != "" {
		if _, ok := graph.Node(state.CurrentNodeID); !ok {
			return stepTarget{}, fmt.Errorf("%w: %s", models.ErrNodeNotFound, state.CurrentNodeID)
		}
		return stepTarget{nodeID: state.CurrentNodeID}, nil
	}
	// An unfinished fan-out group takes precedence: a retry re-runs its
	// unsuccessful members before anything else advances.
	for _, g := range state.ParallelGroups {
		if !g.Done {
			return stepTarget{group: g}, nil
		}
	}
	if len(state.CompletedNodeIDs) == 0 {
		return stepTarget{nodeID: graph.Entry()}, nil
	}
	last := state.CompletedNodeIDs[len(state.CompletedNodeIDs)-1]
	return m.selectNext(graph, state, last)
}

// selectNext applies the routing rules from the node that just completed.
// Priority: parallel fan-out, loop bookkeeping, condition/switch branch,
// try/catch/finally, then the single plain edge. No successor and no pending
// groups means the execution completed.
func (m *Manager) selectNext(graph *Graph, state *models.ExecutionState, fromID string) (stepTarget, error) {
	node, ok := graph.Node(fromID)
	if !ok {
		return stepTarget{}, fmt.Errorf("%w: %s", models.ErrNodeNotFound, fromID)
	}
	result, _ := state.NodeResult(fromID)

	// Parallel fan-out: all parallel-tagged successors start as one group.
	if groups := graph.ParallelEdges(fromID); len(groups) > 0 {
		for groupID, edges := range groups {
			if existing, ok := state.Group(groupID); ok {
				if !existing.Done {
					return stepTarget{group: existing}, nil
				}
				continue
			}
			members := make([]string, 0, len(edges))
			for _, e := range edges {
				members = append(members, e.To)
			}
			group := &models.ParallelGroup{
				GroupID:  groupID,
				Members:  members,
				WaitMode: waitModeOf(node),
				WaitN:    waitNOf(node),
				Results:  make(map[string]*models.NodeExecutionResult),
				JoinNode: graph.JoinFor(members),
			}
			state.PutGroup(group)
			return stepTarget{group: group}, nil
		}
	}

	// Loop bookkeeping.
	if node.Type == models.NodeTypeLoop {
		return m.selectAfterLoop(graph, state, node)
	}

	// Condition / switch routing by the recorded branch. An empty branch
	// (unmatched switch value) can only take the default edge.
	if node.Type == models.NodeTypeCondition || node.Type == models.NodeTypeSwitch {
		branch := ""
		if result != nil && result.Output != nil {
			branch, _ = result.Output[executor.OutputBranch].(string)
		}
		var edge *models.Edge
		var found bool
		if branch != "" {
			edge, found = graph.BranchEdge(fromID, branch)
		} else {
			edge, found = graph.LabeledEdge(fromID, models.BranchDefault)
		}
		if !found {
			return stepTarget{}, fmt.Errorf("%w: node %s branch %q", models.ErrNoMatchingBranch, fromID, branch)
		}
		return stepTarget{nodeID: edge.To}, nil
	}

	// Other handlers may also emit a branch (routing variants).
	if result != nil && result.Output != nil {
		if branch, ok := result.Output[executor.OutputBranch].(string); ok && branch != "" {
			if edge, found := graph.BranchEdge(fromID, branch); found {
				return stepTarget{nodeID: edge.To}, nil
			}
		}
	}

	// A completed catch node routes to its block's finally successor.
	if block, ok := state.TryCatch[fromID]; ok && block.CatchNode == fromID {
		delete(state.TryCatch, fromID)
		if block.FinallyNode != "" {
			return stepTarget{nodeID: block.FinallyNode}, nil
		}
	}

	plain := graph.PlainEdges(fromID)
	switch len(plain) {
	case 1:
		return stepTarget{nodeID: plain[0].To}, nil
	case 0:
		// A try node without a plain successor falls through to finally.
		if finallyEdge, ok := graph.LabeledEdge(fromID, models.BranchFinally); ok {
			return stepTarget{nodeID: finallyEdge.To}, nil
		}
		if state.PendingGroups() {
			return stepTarget{}, fmt.Errorf("parallel group pending without claimable members")
		}
		return stepTarget{done: true}, nil
	default:
		return stepTarget{}, fmt.Errorf("%w: node %s has %d unlabeled successors", models.ErrAmbiguousEdge, fromID, len(plain))
	}
}

// selectAfterLoop advances loop iteration state for a completed loop node.
func (m *Manager) selectAfterLoop(graph *Graph, state *models.ExecutionState, node *models.Node) (stepTarget, error) {
	role, _ := node.Config["role"].(string)
	if role == "start" {
		frame, ok := state.TopLoopFrame(node.ID)
		if !ok {
			frame = &models.LoopFrame{}
			if itemsKey, ok := node.Config["items_key"].(string); ok {
				if items, ok := state.ExecutionData[itemsKey].([]interface{}); ok {
					frame.Items = items
				}
			}
			state.PushLoopFrame(node.ID, frame)
		}
		m.exposeLoopContext(state, node.ID, frame)
		plain := graph.PlainEdges(node.ID)
		if len(plain) != 1 {
			return stepTarget{}, fmt.Errorf("%w: loop_start %s needs exactly one body edge", models.ErrAmbiguousEdge, node.ID)
		}
		return stepTarget{nodeID: plain[0].To}, nil
	}

	// role == "end"
	startID, _ := node.Config["loop_id"].(string)
	frame, ok := state.TopLoopFrame(startID)
	if !ok {
		return stepTarget{}, fmt.Errorf("loop_end %s has no active loop_start %s", node.ID, startID)
	}
	frame.Index++
	frame.Continue = false

	maxIterations := 0
	switch v := node.Config["max_iterations"].(type) {
	case float64:
		maxIterations = int(v)
	case int:
		maxIterations = v
	}

	exhausted := frame.Break ||
		(maxIterations > 0 && frame.Index >= maxIterations) ||
		(frame.Items != nil && frame.Index >= len(frame.Items))

	if exhausted {
		state.PopLoopFrame(startID)
		delete(state.ExecutionData, "loop_"+startID)
		if exit, ok := graph.LabeledEdge(node.ID, models.BranchExit); ok {
			return stepTarget{nodeID: exit.To}, nil
		}
		return stepTarget{done: true}, nil
	}

	m.exposeLoopContext(state, startID, frame)
	loopEdge, ok := graph.LabeledEdge(node.ID, models.BranchLoop)
	if !ok {
		return stepTarget{}, fmt.Errorf("%w: loop_end %s has no loop edge", models.ErrNoMatchingBranch, node.ID)
	}
	return stepTarget{nodeID: loopEdge.To}, nil
}

// exposeLoopContext publishes the iteration index (and current item) on the
// blackboard under "loop_<start id>".
func (m *Manager) exposeLoopContext(state *models.ExecutionState, startID string, frame *models.LoopFrame) {
	loopCtx := map[string]interface{}{"index": frame.Index}
	if frame.Items != nil && frame.Index < len(frame.Items) {
		loopCtx["item"] = frame.Items[frame.Index]
	}
	state.ExecutionData["loop_"+startID] = loopCtx
}

// runSingleNode dispatches one node and applies the post-processing rules:
// sentinels, success advance, or the failure path.
func (m *Manager) runSingleNode(ctx context.Context, graph *Graph, execution *models.Execution, nodeID, leaseOwner, processedSignalID string) error {
	state := execution.State
	node, ok := graph.Node(nodeID)
	if !ok {
		return m.failPermanently(ctx, execution, leaseOwner, processedSignalID, fmt.Sprintf("node %s not found in workflow", nodeID))
	}

	state.CurrentNodeID = nodeID
	m.appendLog(ctx, execution.ID, nodeID, "info", "executing node: "+nodeID)
	m.notify(ctx, observer.Event{Type: observer.EventTypeNodeStarted, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, NodeID: nodeID})

	input := state.DataSnapshot()
	if link, ok := state.SubWorkflow(nodeID); ok {
		input[executor.InputSubExecutionID] = link.ChildExecutionID
	}

	result := m.dispatcher.Dispatch(ctx, &executor.Context{
		ExecutionID: execution.ID,
		WorkflowID:  execution.WorkflowID,
		NodeID:      nodeID,
		Attempt:     execution.RetryCount,
	}, node, input)

	if result.Succeeded() {
		// Sub-workflow wait sentinel: the node is not finished, it is
		// parked on the child; re-attempted on a later claim.
		if waiting, _ := result.Output[executor.OutputSubWait].(bool); waiting {
			if childID, _ := result.Output["sub_execution_id"].(string); childID != "" {
				state.LinkSubWorkflow(nodeID, childID, true)
			}
			state.CurrentNodeID = nodeID
			return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
		}

		state.MarkNodeCompleted(nodeID, result)
		state.MergeOutput(nodeID, result.Output)
		m.appendLog(ctx, execution.ID, nodeID, "info", "node completed: "+nodeID)
		m.notify(ctx, observer.Event{Type: observer.EventTypeNodeCompleted, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, NodeID: nodeID, DurationMs: result.DurationMs})

		// Wait-signal sentinel: park unless the signal already arrived.
		if signalType, _ := result.Output[executor.OutputWaitSignal].(string); signalType != "" {
			selector, _ := result.Output["selector"].(string)
			return m.parkOnSignal(ctx, execution, signalType, selector, leaseOwner, processedSignalID)
		}

		if link, ok := state.SubWorkflow(nodeID); ok && link.Waiting {
			link.Waiting = false
		}
		return m.advanceAndSave(ctx, graph, execution, nodeID, leaseOwner, processedSignalID)
	}

	// Failure path.
	state.RecordAttempt(result)
	m.appendLog(ctx, execution.ID, nodeID, "error", fmt.Sprintf("node %s failed: %s", nodeID, result.Error))
	m.notify(ctx, observer.Event{Type: observer.EventTypeNodeFailed, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, NodeID: nodeID, Error: result.Error})

	// Catch edge: error routing instead of failure.
	if catchEdge, ok := graph.LabeledEdge(nodeID, models.BranchCatch); ok {
		finallyNode := ""
		if finallyEdge, ok := graph.LabeledEdge(nodeID, models.BranchFinally); ok {
			finallyNode = finallyEdge.To
		}
		if state.TryCatch == nil {
			state.TryCatch = make(map[string]*models.TryCatchBlock)
		}
		state.TryCatch[catchEdge.To] = &models.TryCatchBlock{
			TryNode:     nodeID,
			CatchNode:   catchEdge.To,
			FinallyNode: finallyNode,
			Error:       result.Error,
		}
		state.ExecutionData["error"] = result.Error
		state.MarkNodeCompleted(nodeID, result)
		state.CurrentNodeID = catchEdge.To
		return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
	}

	return m.applyRetryPolicy(ctx, execution, nodeID, result, leaseOwner, processedSignalID)
}

// advanceAndSave selects the successor of a completed node, updating the
// pinned current node (or terminal status) before persisting.
func (m *Manager) advanceAndSave(ctx context.Context, graph *Graph, execution *models.Execution, fromID, leaseOwner, processedSignalID string) error {
	target, err := m.selectNext(graph, execution.State, fromID)
	if err != nil {
		return m.failPermanently(ctx, execution, leaseOwner, processedSignalID, err.Error())
	}
	if target.done {
		return m.completeExecution(ctx, execution, leaseOwner, processedSignalID)
	}
	if target.group != nil {
		// Fan-out discovered after completion; the group runs on the next
		// claim of this execution.
		execution.State.CurrentNodeID = ""
		return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
	}
	execution.State.CurrentNodeID = target.nodeID
	return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
}

// parkOnSignal transitions to waiting_for_signal, unless a matching signal
// is already pending, in which case it is consumed immediately and the
// execution keeps running.
func (m *Manager) parkOnSignal(ctx context.Context, execution *models.Execution, signalType, selector, leaseOwner, processedSignalID string) error {
	state := execution.State
	state.WaitingSignalType = signalType
	state.WaitingSelector = selector

	// An early signal may already be stored for this execution.
	if processedSignalID == "" {
		pending, err := m.store.Signals().OldestPending(ctx, execution.ID, signalType)
		if err == nil && pending != nil {
			state.MergeSignal(signalType, pending.SignalData)
			state.WaitingSignalType = ""
			state.WaitingSelector = ""
			m.appendLog(ctx, execution.ID, systemNode(execution), "info", "pending signal consumed: "+signalType)
			return m.saveStep(ctx, execution, leaseOwner, pending.ID)
		}
	}

	execution.Status = models.ExecutionStatusWaitingForSignal
	m.appendLog(ctx, execution.ID, systemNode(execution), "info", "execution waiting for signal: "+signalType)
	m.notify(ctx, observer.Event{Type: observer.EventTypeExecutionWaiting, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, Status: string(execution.Status)})
	return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
}

// applyRetryPolicy schedules a retry or fails the execution terminally.
// retry_count is incremented only when a retry is actually scheduled.
// retryNode pins the node to re-attempt; empty means the retry target is
// derived from state (unfinished parallel group).
func (m *Manager) applyRetryPolicy(ctx context.Context, execution *models.Execution, retryNode string, result *models.NodeExecutionResult, leaseOwner, processedSignalID string) error {
	state := execution.State
	state.CurrentNodeID = retryNode

	if !result.PermanentFailure() && m.retry.ShouldRetry(execution.RetryCount) {
		now := time.Now()
		nextRetry := m.retry.ScheduleRetry(execution.RetryCount, now)
		execution.RetryCount++
		execution.Status = models.ExecutionStatusFailed
		execution.NextRetryAt = &nextRetry
		execution.Error = result.Error
		m.appendLog(ctx, execution.ID, result.NodeID, "warn",
			fmt.Sprintf("execution failed, retry %d/%d scheduled: %s", execution.RetryCount, m.retry.MaxRetries, result.Error))
		return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
	}

	return m.failPermanently(ctx, execution, leaseOwner, processedSignalID,
		fmt.Sprintf("node %s failed: %s", result.NodeID, result.Error))
}

// failPermanently writes the terminal failed status.
func (m *Manager) failPermanently(ctx context.Context, execution *models.Execution, leaseOwner, processedSignalID, errMsg string) error {
	now := time.Now()
	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &now
	execution.NextRetryAt = nil
	execution.Error = errMsg
	m.appendLog(ctx, execution.ID, systemNode(execution), "error", "workflow execution failed permanently: "+errMsg)
	m.notify(ctx, observer.Event{Type: observer.EventTypeExecutionFailed, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, Status: string(execution.Status), Error: errMsg})
	m.wake() // a waiting parent may be unblocked
	return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
}

// completeExecution writes the terminal completed status.
func (m *Manager) completeExecution(ctx context.Context, execution *models.Execution, leaseOwner, processedSignalID string) error {
	now := time.Now()
	execution.Status = models.ExecutionStatusCompleted
	execution.CompletedAt = &now
	execution.NextRetryAt = nil
	m.appendLog(ctx, execution.ID, "end", "info", "workflow execution completed")
	m.notify(ctx, observer.Event{Type: observer.EventTypeExecutionCompleted, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, Status: string(execution.Status)})
	m.wake() // a waiting parent may be unblocked
	return m.saveStep(ctx, execution, leaseOwner, processedSignalID)
}

// saveStep persists the step outcome, releasing the lease atomically. A
// terminate that won the race discards this step's result by design.
func (m *Manager) saveStep(ctx context.Context, execution *models.Execution, leaseOwner, processedSignalID string) error {
	err := m.store.Executions().Save(ctx, execution, repository.SaveOptions{
		LeaseOwner:        leaseOwner,
		ProcessedSignalID: processedSignalID,
	})
	if err != nil {
		if errors.Is(err, models.ErrExecutionTerminal) {
			m.log.Info("discarding step result for terminated execution", "execution_id", execution.ID)
			_ = m.store.Executions().ReleaseLease(ctx, execution.ID, leaseOwner)
			return nil
		}
		return err
	}
	return nil
}

// matchSignal finds the signal to deliver to a waiting execution: the
// oldest pending one addressed to it, else the oldest unrouted one of the
// same type whose selector accepts the data.
func (m *Manager) matchSignal(ctx context.Context, execution *models.Execution) (*models.Signal, error) {
	state := execution.State
	signal, err := m.store.Signals().OldestPending(ctx, execution.ID, state.WaitingSignalType)
	if err != nil {
		return nil, err
	}
	if signal != nil {
		return signal, nil
	}

	signal, err = m.store.Signals().OldestUnrouted(ctx, state.WaitingSignalType)
	if err != nil || signal == nil {
		return nil, err
	}
	if state.WaitingSelector != "" {
		accepted, err := evalSelector(state.WaitingSelector, signal.SignalData)
		if err != nil || !accepted {
			return nil, nil
		}
	}
	return signal, nil
}

// runParallelGroup executes the group members concurrently under the
// engine's parallelism bound, then evaluates the wait condition and either
// joins or applies the failure path.
func (m *Manager) runParallelGroup(ctx context.Context, graph *Graph, execution *models.Execution, group *models.ParallelGroup, leaseOwner, processedSignalID string) error {
	state := execution.State

	semaphore := make(chan struct{}, m.cfg.MaxParallelNodes)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, memberID := range group.Members {
		if prior, ok := group.Results[memberID]; ok && prior.Succeeded() {
			continue // a retry re-runs only members without a success
		}
		node, ok := graph.Node(memberID)
		if !ok {
			return m.failPermanently(ctx, execution, leaseOwner, processedSignalID, fmt.Sprintf("parallel member %s not found", memberID))
		}

		wg.Add(1)
		go func(node *models.Node) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			result := m.dispatcher.Dispatch(ctx, &executor.Context{
				ExecutionID: execution.ID,
				WorkflowID:  execution.WorkflowID,
				NodeID:      node.ID,
				Attempt:     execution.RetryCount,
			}, node, state.DataSnapshot())

			mu.Lock()
			group.Results[node.ID] = result
			mu.Unlock()
			m.notify(ctx, observer.Event{Type: observer.EventTypeNodeCompleted, ExecutionID: execution.ID, WorkflowID: execution.WorkflowID, NodeID: node.ID, DurationMs: result.DurationMs, Status: string(result.Status)})
		}(node)
	}
	wg.Wait()

	// Record member results; order in the completed set follows the
	// declared member order, not completion time.
	for _, memberID := range group.Members {
		result, ok := group.Results[memberID]
		if !ok {
			continue
		}
		if result.Succeeded() && !state.IsNodeCompleted(memberID) {
			state.MarkNodeCompleted(memberID, result)
			state.MergeOutput(memberID, result.Output)
		} else if !result.Succeeded() {
			state.RecordAttempt(result)
		}
	}

	if !group.Satisfied() {
		failures := make([]string, 0)
		for _, memberID := range group.Members {
			if r, ok := group.Results[memberID]; ok && !r.Succeeded() {
				failures = append(failures, fmt.Sprintf("%s: %s", memberID, r.Error))
			}
		}
		synthetic := &models.NodeExecutionResult{
			NodeID: "group:" + group.GroupID,
			Status: models.NodeResultFailed,
			Error:  fmt.Sprintf("parallel group %s unsatisfied (%s)", group.GroupID, strings.Join(failures, "; ")),
		}
		return m.applyRetryPolicy(ctx, execution, "", synthetic, leaseOwner, processedSignalID)
	}

	group.Done = true
	state.ExecutionData[group.GroupID] = joinResult(group)

	if group.JoinNode != "" {
		joinOutput := map[string]interface{}{"group_id": group.GroupID}
		now := time.Now()
		joinRes := &models.NodeExecutionResult{
			NodeID:      group.JoinNode,
			Status:      models.NodeResultSuccess,
			Output:      joinOutput,
			StartedAt:   now,
			CompletedAt: &now,
		}
		state.MarkNodeCompleted(group.JoinNode, joinRes)
		state.MergeOutput(group.JoinNode, joinResult(group))
		return m.advanceAndSave(ctx, graph, execution, group.JoinNode, leaseOwner, processedSignalID)
	}

	// No declared join node: continue from the group's last member.
	return m.advanceAndSave(ctx, graph, execution, group.Members[len(group.Members)-1], leaseOwner, processedSignalID)
}

// joinResult synthesizes the fan-in result: per-member identity-preserving
// entries plus aggregate counts.
func joinResult(group *models.ParallelGroup) map[string]interface{} {
	results := make(map[string]interface{}, len(group.Results))
	for memberID, r := range group.Results {
		results[memberID] = map[string]interface{}{
			"status": string(r.Status),
			"output": r.Output,
			"error":  r.Error,
		}
	}
	return map[string]interface{}{
		"results":       results,
		"success_count": group.SuccessCount(),
		"failed_count":  len(group.Results) - group.SuccessCount(),
		"all_completed": group.SuccessCount() == len(group.Members),
	}
}

// waitModeOf reads the fan-out node's declared wait mode (default "all").
func waitModeOf(node *models.Node) models.WaitMode {
	if mode, ok := node.Config["wait_mode"].(string); ok {
		switch models.WaitMode(mode) {
		case models.WaitModeAll, models.WaitModeAny, models.WaitModeNOfM:
			return models.WaitMode(mode)
		}
	}
	return models.WaitModeAll
}

// waitNOf reads the n for n_of_m wait mode.
func waitNOf(node *models.Node) int {
	switch v := node.Config["wait_n"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
