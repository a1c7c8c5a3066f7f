package tools

import (
	"sync"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
)

// Registry maps tool names to their workers. A flow may declare tools
// that have no registered worker; dispatching one of those is a
// tool.error, not a panic.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]ports.ToolWorker
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]ports.ToolWorker)}
}

// Register binds a worker to a tool name, replacing any previous one.
func (r *Registry) Register(name string, worker ports.ToolWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[name] = worker
}

// RegisterFunc is a convenience for function workers.
func (r *Registry) RegisterFunc(name string, fn ports.ToolWorkerFunc) {
	r.Register(name, fn)
}

// Lookup returns the worker for name.
func (r *Registry) Lookup(name string) (ports.ToolWorker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	worker, ok := r.workers[name]
	if !ok {
		return nil, domain.ErrToolNotFound
	}
	return worker, nil
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}
