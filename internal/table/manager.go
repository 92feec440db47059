package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"duneweaver/internal/config"

	"go.uber.org/zap"
)

// ButtonBinder mirrors buttons into an external system
type ButtonBinder interface {
	BindButton(uniqueID string, press func(ctx context.Context)) error
	UnbindButton(uniqueID string)
}

// Manager owns the set-up instances
type Manager struct {
	deps   *Deps
	binder ButtonBinder
	logger *zap.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewManager creates a manager. binder may be nil.
func NewManager(deps *Deps, binder ButtonBinder) *Manager {
	return &Manager{
		deps:      deps,
		binder:    binder,
		logger:    deps.Logger.Named("tables"),
		instances: make(map[string]*Instance),
	}
}

// Load sets up every device. A device that fails does not prevent the
// others from loading; all failures are returned joined.
func (m *Manager) Load(devices []config.Device) error {
	var errs []error
	for _, d := range devices {
		if _, err := m.Add(d); err != nil {
			m.logger.Error("Failed to set up table", zap.String("device", d.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", d.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Add sets up a single device
func (m *Manager) Add(device config.Device) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[device.ID]; exists {
		return nil, fmt.Errorf("table %q already set up", device.ID)
	}

	inst, err := Setup(device, m.deps)
	if err != nil {
		return nil, err
	}

	if m.binder != nil {
		for _, b := range inst.Buttons() {
			if err := m.binder.BindButton(b.UniqueID, b.Press); err != nil {
				m.logger.Warn("Failed to bind button", zap.String("unique_id", b.UniqueID), zap.Error(err))
			}
		}
	}

	m.instances[device.ID] = inst
	return inst, nil
}

// Remove unloads the instance with id
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	delete(m.instances, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("table %q not found", id)
	}
	m.unload(inst)
	return nil
}

func (m *Manager) unload(inst *Instance) {
	if m.binder != nil {
		for _, b := range inst.Buttons() {
			m.binder.UnbindButton(b.UniqueID)
		}
	}
	inst.Unload()
}

// Get returns the instance with id
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Instances returns all instances ordered by id
func (m *Manager) Instances() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Button finds a button by its unique id
func (m *Manager) Button(uniqueID string) (*Button, bool) {
	for _, inst := range m.Instances() {
		for _, b := range inst.Buttons() {
			if b.UniqueID == uniqueID {
				return b, true
			}
		}
	}
	return nil, false
}

// Close unloads every instance
func (m *Manager) Close() {
	m.mu.Lock()
	instances := m.instances
	m.instances = make(map[string]*Instance)
	m.mu.Unlock()

	for _, inst := range instances {
		m.unload(inst)
	}
}
