// Package agents provides the name -> handler indirection used by the trigger
// rule engine and the anomaly poller, so routing never references handler
// implementations directly.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/c7lavinder/gunner-backend/pkg/models"
)

// ErrHandlerNotFound is returned when a handler name is not registered.
// A resolve miss at dispatch time is a configuration error: callers log it
// and skip the invocation.
var ErrHandlerNotFound = errors.New("handler not found")

// Handler is a named automation invoked with an event.
type Handler interface {
	Handle(ctx context.Context, event *models.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *models.Event) error

func (f HandlerFunc) Handle(ctx context.Context, event *models.Event) error {
	return f(ctx, event)
}

// Registry maps handler names to implementations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a new handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler under a name, replacing any previous entry.
func (r *Registry) Register(name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

// Resolve returns the handler registered under name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return handler, nil
}

// Names returns all registered handler names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
