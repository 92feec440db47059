// Package service provides the registry of invocable actions. Each table
// instance registers its handlers under its own identifier, so several
// tables can be served side by side and removed independently.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"duneweaver/internal/patterns"
)

// Action names as exposed to Home Assistant
const (
	ActionRunRandomPattern  = "run_random_pattern"
	ActionRunFittingPattern = "run_fitting_pattern"
)

// ErrServiceNotFound is returned when calling a service nobody registered
var ErrServiceNotFound = errors.New("service not found")

// Handler performs one action
type Handler func(ctx context.Context) (patterns.Outcome, error)

// Key identifies a registered handler
type Key struct {
	InstanceID string `json:"instance_id"`
	Action     string `json:"action"`
}

// Name returns the flat service name, e.g. "run_random_pattern_<instance id>"
func (k Key) Name() string {
	return fmt.Sprintf("%s_%s", k.Action, k.InstanceID)
}

// Info describes one registered service
type Info struct {
	Key
	Service string `json:"service"`
}

// Registry maps (instance, action) to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[Key]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[Key]Handler),
	}
}

// Register adds a handler. Registering the same key twice is an error;
// an instance must be unregistered before it is set up again.
func (r *Registry) Register(instanceID, action string, handler Handler) error {
	if instanceID == "" {
		return fmt.Errorf("instance id cannot be empty")
	}
	if action == "" {
		return fmt.Errorf("action cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("service %s_%s: handler cannot be nil", action, instanceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{InstanceID: instanceID, Action: action}
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("service %s already registered", key.Name())
	}

	r.handlers[key] = handler
	return nil
}

// Unregister removes one handler. Removing a missing handler is a no-op.
func (r *Registry) Unregister(instanceID, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, Key{InstanceID: instanceID, Action: action})
}

// UnregisterInstance removes every handler of an instance
func (r *Registry) UnregisterInstance(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key := range r.handlers {
		if key.InstanceID == instanceID {
			delete(r.handlers, key)
			removed++
		}
	}
	return removed
}

// Call invokes a handler and waits for it
func (r *Registry) Call(ctx context.Context, instanceID, action string) (patterns.Outcome, error) {
	r.mu.RLock()
	handler, ok := r.handlers[Key{InstanceID: instanceID, Action: action}]
	r.mu.RUnlock()

	if !ok {
		return patterns.Outcome{}, fmt.Errorf("%w: %s_%s", ErrServiceNotFound, action, instanceID)
	}
	return handler(ctx)
}

// CallByName invokes a handler by its flat service name
func (r *Registry) CallByName(ctx context.Context, name string) (patterns.Outcome, error) {
	key, ok := r.lookup(name)
	if !ok {
		return patterns.Outcome{}, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return r.Call(ctx, key.InstanceID, key.Action)
}

// lookup resolves a flat name back to its key. Instance ids may contain
// underscores, so the name is matched against registered keys instead of
// being split.
func (r *Registry) lookup(name string) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key := range r.handlers {
		if key.Name() == name {
			return key, true
		}
	}
	return Key{}, false
}

// List returns all registered services sorted by name
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.handlers))
	for key := range r.handlers {
		result = append(result, Info{Key: key, Service: key.Name()})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Service < result[j].Service
	})
	return result
}

// Has reports whether a handler is registered
func (r *Registry) Has(instanceID, action string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[Key{InstanceID: instanceID, Action: action}]
	return ok
}
