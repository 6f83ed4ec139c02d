package models

import (
	"time"
)

// Workflow represents a versioned workflow definition.
// The Version field is monotonic per workflow identity; once an execution
// has observed a version, that version's graph is immutable and updates
// produce a new WorkflowVersion row.
type Workflow struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description,omitempty"`
	Version       int                    `json:"version"`
	IsActive      bool                   `json:"is_active"`
	OwnerID       string                 `json:"owner_id,omitempty"` // external principal, opaque to the core
	Nodes         []*Node                `json:"nodes"`
	Edges         []*Edge                `json:"edges"`
	TriggerConfig map[string]interface{} `json:"trigger_config,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Deleted       bool                   `json:"deleted,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// WorkflowVersion is an immutable snapshot of a workflow's graph at a
// specific version number.
type WorkflowVersion struct {
	WorkflowID string    `json:"workflow_id"`
	Version    int       `json:"version"`
	Nodes      []*Node   `json:"nodes"`
	Edges      []*Edge   `json:"edges"`
	CreatedAt  time.Time `json:"created_at"`
}

// NodeType identifies the behaviour of a node. The set is closed: unknown
// types fail at workflow validation, never at runtime.
type NodeType string

const (
	NodeTypeTrigger      NodeType = "trigger"
	NodeTypeHTTPRequest  NodeType = "http_request"
	NodeTypeCode         NodeType = "code"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeSwitch       NodeType = "switch"
	NodeTypeConnector    NodeType = "connector"
	NodeTypeAgent        NodeType = "agent"
	NodeTypeSubWorkflow  NodeType = "sub_workflow"
	NodeTypeParallelJoin NodeType = "parallel_join"
	NodeTypeWaitSignal   NodeType = "wait_signal"
	NodeTypeLoop         NodeType = "loop"
)

// KnownNodeTypes lists every node type the engine accepts.
var KnownNodeTypes = map[NodeType]bool{
	NodeTypeTrigger:      true,
	NodeTypeHTTPRequest:  true,
	NodeTypeCode:         true,
	NodeTypeCondition:    true,
	NodeTypeSwitch:       true,
	NodeTypeConnector:    true,
	NodeTypeAgent:        true,
	NodeTypeSubWorkflow:  true,
	NodeTypeParallelJoin: true,
	NodeTypeWaitSignal:   true,
	NodeTypeLoop:         true,
}

// Node represents a single vertex in the workflow graph.
type Node struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name,omitempty"`
	Type     NodeType               `json:"type"`
	Config   map[string]interface{} `json:"config"`
	Position *Position              `json:"position,omitempty"` // cosmetic, ignored by the engine
}

// Position represents the visual position of a node in the editor.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects two nodes. Branch carries the routing label for
// condition/switch nodes ("true", "false", case names, "default"), loop
// routing ("loop", "exit"), error routing ("catch", "finally"), or is empty
// for plain sequential edges. ParallelGroup tags the edge as a member of a
// fan-out group.
type Edge struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Branch        string `json:"branch,omitempty"`
	ParallelGroup string `json:"parallel_group,omitempty"`
}

// WaitMode defines when a parallel join completes.
type WaitMode string

const (
	WaitModeAll  WaitMode = "all"
	WaitModeAny  WaitMode = "any"
	WaitModeNOfM WaitMode = "n_of_m"
)

// Branch labels with engine-level meaning.
const (
	BranchTrue    = "true"
	BranchFalse   = "false"
	BranchDefault = "default"
	BranchLoop    = "loop"
	BranchExit    = "exit"
	BranchCatch   = "catch"
	BranchFinally = "finally"
)
