package executor

import (
	"fmt"
	"sync"

	"github.com/smilemakc/flowforge/pkg/models"
)

// Registry is a thread-safe mapping from node type to handler. Node types
// outside models.KnownNodeTypes are rejected at workflow validation; a known
// type with no registered handler fails at dispatch with ErrExecutorNotFound.
type Registry struct {
	mu        sync.RWMutex
	executors map[models.NodeType]Executor
}

// NewRegistry creates an empty registry. Built-in handlers are registered
// separately by the builtin package to avoid import cycles.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[models.NodeType]Executor),
	}
}

// Register registers a handler for a node type, replacing any previous one.
func (r *Registry) Register(nodeType models.NodeType, exec Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nodeType == "" {
		return fmt.Errorf("node type cannot be empty")
	}
	if exec == nil {
		return fmt.Errorf("executor cannot be nil")
	}
	r.executors[nodeType] = exec
	return nil
}

// Get retrieves the handler for a node type.
func (r *Registry) Get(nodeType models.NodeType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrExecutorNotFound, nodeType)
	}
	return exec, nil
}

// Has checks whether a handler is registered for the node type.
func (r *Registry) Has(nodeType models.NodeType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.executors[nodeType]
	return ok
}

// List returns the registered node types.
func (r *Registry) List() []models.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.NodeType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
