package builtin

import (
	"github.com/smilemakc/flowforge/pkg/credentials"
	"github.com/smilemakc/flowforge/pkg/executor"
	"github.com/smilemakc/flowforge/pkg/models"
	"github.com/smilemakc/flowforge/pkg/runner"
)

// Deps carries the external collaborators the built-in handlers consume.
// A nil CodeRunner falls back to the embedded otto runner and nil
// Credentials to an empty static provider; with a nil Chat client the agent
// handler fails at execution, and a nil SubWorkflow leaves sub_workflow
// unregistered.
type Deps struct {
	CodeRunner  runner.CodeRunner
	Credentials credentials.Provider
	Chat        ChatClient
	AgentModel  string
	SubWorkflow SubWorkflowService
}

// Register wires every built-in handler into the registry.
func Register(registry *executor.Registry, deps Deps) error {
	codeRunner := deps.CodeRunner
	if codeRunner == nil {
		codeRunner = runner.NewOttoRunner(0)
	}
	creds := deps.Credentials
	if creds == nil {
		creds = &credentials.StaticProvider{}
	}

	handlers := map[models.NodeType]executor.Executor{
		models.NodeTypeTrigger:      NewTriggerExecutor(),
		models.NodeTypeHTTPRequest:  NewHTTPRequestExecutor(),
		models.NodeTypeCode:         NewCodeExecutor(codeRunner),
		models.NodeTypeCondition:    NewConditionExecutor(),
		models.NodeTypeSwitch:       NewSwitchExecutor(),
		models.NodeTypeConnector:    NewConnectorExecutor(creds),
		models.NodeTypeAgent:        NewAgentExecutor(deps.Chat, deps.AgentModel),
		models.NodeTypeParallelJoin: NewParallelJoinExecutor(),
		models.NodeTypeWaitSignal:   NewWaitSignalExecutor(),
		models.NodeTypeLoop:         NewLoopExecutor(),
	}
	if deps.SubWorkflow != nil {
		handlers[models.NodeTypeSubWorkflow] = NewSubWorkflowExecutor(deps.SubWorkflow)
	}

	for nodeType, h := range handlers {
		if err := registry.Register(nodeType, h); err != nil {
			return err
		}
	}
	return nil
}
