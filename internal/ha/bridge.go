package ha

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ButtonDomain is the Home Assistant domain that mirrors table buttons
const ButtonDomain = "input_button"

// Bridge exposes table buttons to Home Assistant: a press of
// input_button.<unique_id> in Home Assistant presses the matching button,
// and failures are reported as persistent notifications.
type Bridge struct {
	client HAClient
	logger *zap.Logger

	mu    sync.Mutex
	bound map[string]Subscription
}

// NewBridge creates a bridge on top of client
func NewBridge(client HAClient, logger *zap.Logger) *Bridge {
	return &Bridge{
		client: client,
		logger: logger.Named("bridge"),
		bound:  make(map[string]Subscription),
	}
}

// EntityID returns the Home Assistant entity mirroring a button. Object ids
// only allow [a-z0-9_], so anything else in uniqueID becomes an underscore.
func EntityID(uniqueID string) string {
	return fmt.Sprintf("%s.%s", ButtonDomain, objectID(uniqueID))
}

func objectID(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, s)
}

// BindButton presses the button whenever its Home Assistant entity is pressed.
// Binding the same unique id twice replaces the earlier binding.
func (b *Bridge) BindButton(uniqueID string, press func(ctx context.Context)) error {
	entityID := EntityID(uniqueID)

	sub, err := b.client.SubscribeStateChanges(entityID, func(_ string, oldState, newState *State) {
		if !isPress(oldState, newState) {
			return
		}
		b.logger.Info("Button pressed in Home Assistant", zap.String("entity_id", entityID))
		press(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", entityID, err)
	}

	b.mu.Lock()
	prev := b.bound[uniqueID]
	b.bound[uniqueID] = sub
	b.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
	b.logger.Debug("Bound button", zap.String("entity_id", entityID))
	return nil
}

// UnbindButton stops forwarding presses for uniqueID
func (b *Bridge) UnbindButton(uniqueID string) {
	b.mu.Lock()
	sub, ok := b.bound[uniqueID]
	delete(b.bound, uniqueID)
	b.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

// Bound returns the number of bound buttons
func (b *Bridge) Bound() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bound)
}

// Notify creates a persistent notification in Home Assistant
func (b *Bridge) Notify(title, message string) error {
	return b.client.CallService("persistent_notification", "create", map[string]interface{}{
		"title":   title,
		"message": message,
	})
}

// isPress reports whether a state change is a real press. An input_button's
// state is the timestamp of its last press, so every new value counts except
// transitions into or out of "unavailable" seen on restarts.
func isPress(oldState, newState *State) bool {
	if oldState == nil || newState == nil || oldState.State == "unavailable" {
		return false
	}
	switch newState.State {
	case "", "unavailable", "unknown":
		return false
	}
	return oldState.State != newState.State
}
