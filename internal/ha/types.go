package ha

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is the envelope of every websocket frame exchanged with Home Assistant
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error is an error result returned for a request
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage carries the access token during the handshake
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is a pushed event from a subscription
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the payload of a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is an entity state
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// CallServiceRequest invokes a Home Assistant service
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

// SubscribeEventsRequest subscribes the connection to an event type
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// StateChangeHandler is called for every state change of a subscribed entity
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active per-entity handler registration
type Subscription interface {
	Unsubscribe() error
}

// handlerSet is a set of state change handlers keyed by entity
type handlerSet struct {
	nextID   int
	handlers map[string]map[int]StateChangeHandler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{handlers: make(map[string]map[int]StateChangeHandler)}
}

func (s *handlerSet) add(entityID string, handler StateChangeHandler) int {
	s.nextID++
	if s.handlers[entityID] == nil {
		s.handlers[entityID] = make(map[int]StateChangeHandler)
	}
	s.handlers[entityID][s.nextID] = handler
	return s.nextID
}

func (s *handlerSet) remove(entityID string, id int) {
	delete(s.handlers[entityID], id)
	if len(s.handlers[entityID]) == 0 {
		delete(s.handlers, entityID)
	}
}

func (s *handlerSet) forEntity(entityID string) []StateChangeHandler {
	out := make([]StateChangeHandler, 0, len(s.handlers[entityID]))
	for _, h := range s.handlers[entityID] {
		out = append(out, h)
	}
	return out
}

// subscription removes its handler through the supplied unsubscribe func
type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(s.remove)
	return nil
}
