package ha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned for requests made without a live connection
	ErrNotConnected = errors.New("not connected")
	// ErrClientClosed is returned by Connect after Disconnect
	ErrClientClosed = errors.New("client closed")
	// ErrAuthFailed is returned when Home Assistant rejects the token
	ErrAuthFailed = errors.New("authentication failed: invalid token")
)

const (
	requestTimeout = 10 * time.Second
	minBackoff     = time.Second
	maxBackoff     = 30 * time.Second
)

// HAClient is the subset of the Home Assistant websocket API the bridge uses
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	CallService(domain, service string, data map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
}

// Client is a websocket client for Home Assistant
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc

	writeMu sync.Mutex

	msgMu   sync.Mutex
	msgID   int
	pending map[int]chan Message

	subsMu sync.RWMutex
	subs   *handlerSet
}

// NewClient creates a client for the websocket endpoint at url
// (for example ws://homeassistant.local:8123/api/websocket).
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:       url,
		token:     token,
		logger:    logger.Named("ha"),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[int]chan Message),
		subs:      newHandlerSet(),
	}
}

// Connect dials, authenticates and subscribes to state_changed events.
// Handlers registered before a reconnect stay registered.
func (c *Client) Connect() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return ErrClientClosed
	}
	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return err
	}

	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.connected = true
	ctx := c.ctx
	c.connMu.Unlock()

	c.logger.Info("Connected to Home Assistant")
	go c.receiveMessages(ctx, conn)

	_, err = c.request(&SubscribeEventsRequest{
		ID:        c.nextMsgID(),
		Type:      "subscribe_events",
		EventType: "state_changed",
	})
	if err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}
	return nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if msg.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", msg.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch msg.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return ErrAuthFailed
	default:
		return fmt.Errorf("expected auth_ok, got %s", msg.Type)
	}
}

// Disconnect closes the connection and stops reconnect attempts. The client
// cannot be connected again afterwards.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.closed = true
	c.cancel()

	if !c.connected {
		return nil
	}
	c.connected = false

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.conn.Close()
	c.conn = nil

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the client holds an authenticated connection
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	c.msgID++
	return c.msgID
}

// request sends a frame with an id and waits for its result
func (c *Client) request(req interface{ requestID() int }) (*Message, error) {
	c.connMu.RLock()
	conn, ctx, connected := c.conn, c.ctx, c.connected
	c.connMu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	id := req.requestID()
	ch := make(chan Message, 1)
	c.msgMu.Lock()
	c.pending[id] = ch
	c.msgMu.Unlock()
	defer func() {
		c.msgMu.Lock()
		delete(c.pending, id)
		c.msgMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

func (r *CallServiceRequest) requestID() int     { return r.ID }
func (r *SubscribeEventsRequest) requestID() int { return r.ID }

func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		if msg.Type == "event" {
			c.dispatchEvent(msg.Event)
			continue
		}

		if msg.ID > 0 {
			c.msgMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.msgMu.Unlock()
		}
	}
}

func (c *Client) dispatchEvent(event *Event) {
	if event == nil || event.EventType != "state_changed" {
		return
	}

	var data StateChangedEvent
	if err := json.Unmarshal(event.Data, &data); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	handlers := c.subs.forEntity(data.EntityID)
	c.subsMu.RUnlock()

	for _, h := range handlers {
		h(data.EntityID, data.OldState, data.NewState)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	conn.Close()
	reconnect := !c.closed
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")
	if reconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries Connect with exponential backoff until it succeeds
// or Disconnect is called.
func (c *Client) reconnectLoop() {
	backoff := minBackoff
	for {
		time.Sleep(backoff)

		c.connMu.RLock()
		stop := c.closed
		c.connMu.RUnlock()
		if stop {
			return
		}

		c.logger.Info("Attempting to reconnect...", zap.Duration("backoff", backoff))
		if err := c.Connect(); err != nil {
			if errors.Is(err, ErrClientClosed) {
				return
			}
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff = nextBackoff(backoff)
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// CallService calls a Home Assistant service and waits for its result
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	_, err := c.request(&CallServiceRequest{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// SubscribeStateChanges registers handler for state changes of entityID
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	id := c.subs.add(entityID, handler)
	c.subsMu.Unlock()

	return &subscription{remove: func() {
		c.subsMu.Lock()
		c.subs.remove(entityID, id)
		c.subsMu.Unlock()
	}}, nil
}
