package handler

import (
	"fmt"
	"sync"
)

// Registry maps handler names (as referenced by the "handler" field of a
// WorkflowDefinition's step entries) to registered Func implementations.
// It is safe for concurrent use.
//
// Handlers must be registered in Go code before a WorkflowDefinition
// that references them by name can be resolved and run.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register adds a named handler. Registering the same name twice
// overwrites the previous registration.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Get returns the handler registered under name.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// MustGet returns the handler registered under name, or panics — for use
// during startup validation where a missing handler is a configuration
// error, not a runtime condition to recover from.
func (r *Registry) MustGet(name string) Func {
	fn, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("handler: no handler registered for %q", name))
	}
	return fn
}

// Names returns every registered handler name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
