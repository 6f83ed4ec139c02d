package models

import (
	"time"
)

// StateSchemaVersion is the current encoding version of ExecutionState.
// The store writes it next to the serialized blob; decoders migrate older
// versions lazily on read.
const StateSchemaVersion = 1

// ExecutionState is the in-record state machine of an execution. It is the
// only state the engine carries between steps; everything here is persisted
// atomically with the execution row.
type ExecutionState struct {
	ExecutionID     string `json:"execution_id" msgpack:"execution_id"`
	WorkflowID      string `json:"workflow_id" msgpack:"workflow_id"`
	WorkflowVersion int    `json:"workflow_version" msgpack:"workflow_version"`

	// CurrentNodeID is the node to attempt next. Empty while advancing from
	// the entry node or after a node completed without a successor chosen.
	CurrentNodeID    string                          `json:"current_node_id,omitempty" msgpack:"current_node_id"`
	CompletedNodeIDs []string                        `json:"completed_node_ids" msgpack:"completed_node_ids"`
	NodeResults      map[string]*NodeExecutionResult `json:"node_results" msgpack:"node_results"`

	// NodeHistory records every attempt in order, including failed ones
	// that NodeResults no longer shows once a retry succeeds.
	NodeHistory []*NodeExecutionResult `json:"node_history,omitempty" msgpack:"node_history"`

	// ExecutionData is the blackboard: trigger data merged with each
	// completed node's output under "<node_id>_output" and signal payloads
	// under "signal_<type>".
	ExecutionData map[string]interface{} `json:"execution_data" msgpack:"execution_data"`

	// Parallel fan-out tracking.
	ParallelGroups map[string]*ParallelGroup `json:"parallel_groups,omitempty" msgpack:"parallel_groups"`

	// Loop tracking: loop node id -> stack of iteration frames.
	LoopStacks map[string][]*LoopFrame `json:"loop_stacks,omitempty" msgpack:"loop_stacks"`

	// Sub-workflow tracking: node id -> link to the child execution.
	SubWorkflows map[string]*SubWorkflowLink `json:"sub_workflows,omitempty" msgpack:"sub_workflows"`

	// Variables holds named scopes ("execution", "workflow", per-loop).
	Variables map[string]map[string]interface{} `json:"variables,omitempty" msgpack:"variables"`

	// NodeDeadlines holds per-node timeout deadlines. Nothing in this module
	// writes it; the dispatcher enforces node timeouts through the handler
	// context.
	NodeDeadlines map[string]time.Time `json:"node_deadlines,omitempty" msgpack:"node_deadlines"`

	// Deadline is the optional workflow-level deadline, checked at each step
	// boundary and enforced as a terminate.
	Deadline *time.Time `json:"deadline,omitempty" msgpack:"deadline"`

	// TryCatch tracks active try blocks: try node id -> block routing.
	TryCatch map[string]*TryCatchBlock `json:"try_catch,omitempty" msgpack:"try_catch"`

	// WaitingSignalType is the signal type the execution is parked on while
	// status is waiting_for_signal. WaitingSelector is an optional
	// expression evaluated against signal data when matching unrouted
	// signals.
	WaitingSignalType string `json:"waiting_signal_type,omitempty" msgpack:"waiting_signal_type"`
	WaitingSelector   string `json:"waiting_selector,omitempty" msgpack:"waiting_selector"`
}

// ParallelGroup tracks one fan-out group in flight.
type ParallelGroup struct {
	GroupID  string                          `json:"group_id" msgpack:"group_id"`
	Members  []string                        `json:"members" msgpack:"members"`
	WaitMode WaitMode                        `json:"wait_mode" msgpack:"wait_mode"`
	WaitN    int                             `json:"wait_n,omitempty" msgpack:"wait_n"`
	Results  map[string]*NodeExecutionResult `json:"results" msgpack:"results"`
	JoinNode string                          `json:"join_node,omitempty" msgpack:"join_node"`
	Done     bool                            `json:"done" msgpack:"done"`
}

// SuccessCount returns the number of successful member results.
func (g *ParallelGroup) SuccessCount() int {
	n := 0
	for _, r := range g.Results {
		if r.Succeeded() {
			n++
		}
	}
	return n
}

// Satisfied reports whether the group's wait condition is met.
func (g *ParallelGroup) Satisfied() bool {
	switch g.WaitMode {
	case WaitModeAny:
		return g.SuccessCount() >= 1
	case WaitModeNOfM:
		return g.SuccessCount() >= g.WaitN
	default: // all
		return len(g.Results) == len(g.Members) && g.SuccessCount() == len(g.Members)
	}
}

// LoopFrame is one iteration context on a loop stack.
type LoopFrame struct {
	Index    int           `json:"index" msgpack:"index"`
	Items    []interface{} `json:"items,omitempty" msgpack:"items"`
	Break    bool          `json:"break,omitempty" msgpack:"break"`
	Continue bool          `json:"continue,omitempty" msgpack:"continue"`
}

// SubWorkflowLink records a spawned child execution.
type SubWorkflowLink struct {
	ChildExecutionID string `json:"child_execution_id" msgpack:"child_execution_id"`
	Waiting          bool   `json:"waiting" msgpack:"waiting"`
}

// TryCatchBlock records error routing for a try block.
type TryCatchBlock struct {
	TryNode     string `json:"try_node" msgpack:"try_node"`
	CatchNode   string `json:"catch_node,omitempty" msgpack:"catch_node"`
	FinallyNode string `json:"finally_node,omitempty" msgpack:"finally_node"`
	Error       string `json:"error,omitempty" msgpack:"error"`
}

// NewExecutionState creates the initial state for a fresh execution.
func NewExecutionState(executionID, workflowID string, version int, triggerData map[string]interface{}) *ExecutionState {
	data := make(map[string]interface{}, len(triggerData))
	for k, v := range triggerData {
		data[k] = v
	}
	return &ExecutionState{
		ExecutionID:      executionID,
		WorkflowID:       workflowID,
		WorkflowVersion:  version,
		CompletedNodeIDs: []string{},
		NodeResults:      make(map[string]*NodeExecutionResult),
		ExecutionData:    data,
	}
}

// MarkNodeCompleted appends the node to the completed set (once) and records
// its result. The current node pointer is cleared; next-node selection sets
// it again.
func (s *ExecutionState) MarkNodeCompleted(nodeID string, result *NodeExecutionResult) {
	if !s.IsNodeCompleted(nodeID) {
		s.CompletedNodeIDs = append(s.CompletedNodeIDs, nodeID)
	}
	if s.NodeResults == nil {
		s.NodeResults = make(map[string]*NodeExecutionResult)
	}
	s.NodeResults[nodeID] = result
	s.NodeHistory = append(s.NodeHistory, result)
	s.CurrentNodeID = ""
}

// RecordAttempt appends a result to the attempt history without touching
// the completed set (failed attempts that will be retried).
func (s *ExecutionState) RecordAttempt(result *NodeExecutionResult) {
	if s.NodeResults == nil {
		s.NodeResults = make(map[string]*NodeExecutionResult)
	}
	s.NodeResults[result.NodeID] = result
	s.NodeHistory = append(s.NodeHistory, result)
}

// AttemptsFor returns every recorded attempt for a node, oldest first.
func (s *ExecutionState) AttemptsFor(nodeID string) []*NodeExecutionResult {
	var out []*NodeExecutionResult
	for _, r := range s.NodeHistory {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// IsNodeCompleted reports whether the node is in the completed set.
func (s *ExecutionState) IsNodeCompleted(nodeID string) bool {
	for _, id := range s.CompletedNodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// NodeResult returns the recorded result for a node, if any.
func (s *ExecutionState) NodeResult(nodeID string) (*NodeExecutionResult, bool) {
	r, ok := s.NodeResults[nodeID]
	return r, ok
}

// MergeOutput stores a successful node's output on the blackboard under
// "<node_id>_output".
func (s *ExecutionState) MergeOutput(nodeID string, output map[string]interface{}) {
	if s.ExecutionData == nil {
		s.ExecutionData = make(map[string]interface{})
	}
	s.ExecutionData[nodeID+"_output"] = output
}

// MergeSignal stores a delivered signal payload on the blackboard under
// "signal_<type>".
func (s *ExecutionState) MergeSignal(signalType string, data map[string]interface{}) {
	if s.ExecutionData == nil {
		s.ExecutionData = make(map[string]interface{})
	}
	s.ExecutionData["signal_"+signalType] = data
}

// DataSnapshot returns a shallow copy of the blackboard for handler input.
func (s *ExecutionState) DataSnapshot() map[string]interface{} {
	snap := make(map[string]interface{}, len(s.ExecutionData))
	for k, v := range s.ExecutionData {
		snap[k] = v
	}
	return snap
}

// Group returns the parallel group by id.
func (s *ExecutionState) Group(groupID string) (*ParallelGroup, bool) {
	g, ok := s.ParallelGroups[groupID]
	return g, ok
}

// PutGroup registers a parallel group.
func (s *ExecutionState) PutGroup(g *ParallelGroup) {
	if s.ParallelGroups == nil {
		s.ParallelGroups = make(map[string]*ParallelGroup)
	}
	s.ParallelGroups[g.GroupID] = g
}

// PendingGroups reports whether any parallel group has not yet joined.
func (s *ExecutionState) PendingGroups() bool {
	for _, g := range s.ParallelGroups {
		if !g.Done {
			return true
		}
	}
	return false
}

// PushLoopFrame pushes an iteration context for a loop node.
func (s *ExecutionState) PushLoopFrame(loopID string, frame *LoopFrame) {
	if s.LoopStacks == nil {
		s.LoopStacks = make(map[string][]*LoopFrame)
	}
	s.LoopStacks[loopID] = append(s.LoopStacks[loopID], frame)
}

// TopLoopFrame returns the innermost iteration context for a loop node.
func (s *ExecutionState) TopLoopFrame(loopID string) (*LoopFrame, bool) {
	stack := s.LoopStacks[loopID]
	if len(stack) == 0 {
		return nil, false
	}
	return stack[len(stack)-1], true
}

// PopLoopFrame removes the innermost iteration context for a loop node.
func (s *ExecutionState) PopLoopFrame(loopID string) {
	stack := s.LoopStacks[loopID]
	if len(stack) == 0 {
		return
	}
	s.LoopStacks[loopID] = stack[:len(stack)-1]
}

// LinkSubWorkflow records a spawned child execution for a node.
func (s *ExecutionState) LinkSubWorkflow(nodeID, childID string, waiting bool) {
	if s.SubWorkflows == nil {
		s.SubWorkflows = make(map[string]*SubWorkflowLink)
	}
	s.SubWorkflows[nodeID] = &SubWorkflowLink{ChildExecutionID: childID, Waiting: waiting}
}

// SubWorkflow returns the child link for a node, if any.
func (s *ExecutionState) SubWorkflow(nodeID string) (*SubWorkflowLink, bool) {
	l, ok := s.SubWorkflows[nodeID]
	return l, ok
}

// SetVariable sets a variable in the named scope.
func (s *ExecutionState) SetVariable(scope, key string, value interface{}) {
	if s.Variables == nil {
		s.Variables = make(map[string]map[string]interface{})
	}
	if s.Variables[scope] == nil {
		s.Variables[scope] = make(map[string]interface{})
	}
	s.Variables[scope][key] = value
}

// Clone copies the state for replay: identity, current node, completed set,
// node results, blackboard, waiting-signal fields and deadline. Node results
// are shared (they are immutable once written); the copied maps and slices
// are fresh. Node history, parallel groups, loop stacks, sub-workflow links,
// variables, try/catch blocks and node deadlines are not copied.
func (s *ExecutionState) Clone() *ExecutionState {
	out := &ExecutionState{
		ExecutionID:       s.ExecutionID,
		WorkflowID:        s.WorkflowID,
		WorkflowVersion:   s.WorkflowVersion,
		CurrentNodeID:     s.CurrentNodeID,
		CompletedNodeIDs:  append([]string{}, s.CompletedNodeIDs...),
		NodeResults:       make(map[string]*NodeExecutionResult, len(s.NodeResults)),
		ExecutionData:     make(map[string]interface{}, len(s.ExecutionData)),
		WaitingSignalType: s.WaitingSignalType,
		WaitingSelector:   s.WaitingSelector,
		Deadline:          s.Deadline,
	}
	for k, v := range s.NodeResults {
		out.NodeResults[k] = v
	}
	for k, v := range s.ExecutionData {
		out.ExecutionData[k] = v
	}
	return out
}
