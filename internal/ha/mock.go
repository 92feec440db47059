package ha

import (
	"fmt"
	"sync"
	"time"
)

// ServiceCall records a service call made through MockClient
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// MockClient implements HAClient in memory for tests
type MockClient struct {
	mu        sync.Mutex
	connected bool
	subs      *handlerSet
	calls     []ServiceCall
	callErr   error
}

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{subs: newHandlerSet()}
}

func (m *MockClient) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// CallService records the call and returns the configured error
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ServiceCall{Domain: domain, Service: service, Data: data, Time: time.Now()})
	return m.callErr
}

// FailServiceCalls makes subsequent CallService invocations return err
func (m *MockClient) FailServiceCalls(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callErr = err
}

func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.mu.Lock()
	id := m.subs.add(entityID, handler)
	m.mu.Unlock()

	return &subscription{remove: func() {
		m.mu.Lock()
		m.subs.remove(entityID, id)
		m.mu.Unlock()
	}}, nil
}

// SimulateStateChange delivers a state change to the entity's handlers
func (m *MockClient) SimulateStateChange(entityID, oldState, newState string) {
	now := time.Now()
	var old *State
	if oldState != "" {
		old = &State{EntityID: entityID, State: oldState, LastChanged: now, LastUpdated: now}
	}
	updated := &State{EntityID: entityID, State: newState, LastChanged: now, LastUpdated: now}

	m.mu.Lock()
	handlers := m.subs.forEntity(entityID)
	m.mu.Unlock()

	for _, h := range handlers {
		h(entityID, old, updated)
	}
}

// SubscriberCount returns the number of handlers registered for entityID
func (m *MockClient) SubscriberCount(entityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs.handlers[entityID])
}

// ServiceCalls returns a copy of all recorded service calls
func (m *MockClient) ServiceCalls() []ServiceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ServiceCall(nil), m.calls...)
}
