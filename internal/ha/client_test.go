package ha

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const testToken = "test_token"

// mockHAServer starts a websocket server running handler for each connection
func mockHAServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// standardAuthFlow performs the server side of the handshake
func standardAuthFlow(t *testing.T, conn *websocket.Conn) {
	require.NoError(t, conn.WriteJSON(Message{Type: "auth_required"}))

	var auth AuthMessage
	require.NoError(t, conn.ReadJSON(&auth))
	assert.Equal(t, "auth", auth.Type)
	assert.Equal(t, testToken, auth.AccessToken)

	require.NoError(t, conn.WriteJSON(Message{Type: "auth_ok"}))
}

// serveRequests answers every request with respond until the connection closes
func serveRequests(conn *websocket.Conn, respond func(req map[string]interface{}) Message) {
	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := respond(req)
		if id, ok := req["id"].(float64); ok {
			resp.ID = int(id)
		}
		conn.WriteJSON(resp)
	}
}

func ok() Message {
	success := true
	return Message{Type: "result", Success: &success}
}

func TestClient_Connect(t *testing.T) {
	logger := zap.NewNop()

	t.Run("successful connection subscribes to state changes", func(t *testing.T) {
		var subscribed atomic.Bool
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn)
			serveRequests(conn, func(req map[string]interface{}) Message {
				if req["type"] == "subscribe_events" && req["event_type"] == "state_changed" {
					subscribed.Store(true)
				}
				return ok()
			})
		})

		client := NewClient(wsURL(server), testToken, logger)
		require.NoError(t, client.Connect())
		defer client.Disconnect()

		assert.True(t, client.IsConnected())
		assert.Eventually(t, subscribed.Load, time.Second, 10*time.Millisecond)
	})

	t.Run("invalid token", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "auth_required"})
			var auth AuthMessage
			conn.ReadJSON(&auth)
			conn.WriteJSON(Message{Type: "auth_invalid"})
		})

		client := NewClient(wsURL(server), "wrong", logger)
		err := client.Connect()
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.False(t, client.IsConnected())
	})

	t.Run("unexpected first message", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			conn.WriteJSON(Message{Type: "hello"})
		})

		client := NewClient(wsURL(server), testToken, logger)
		err := client.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected auth_required")
	})

	t.Run("unreachable server", func(t *testing.T) {
		client := NewClient("ws://127.0.0.1:1/api/websocket", testToken, logger)
		err := client.Connect()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect")
	})

	t.Run("connect twice", func(t *testing.T) {
		server := mockHAServer(t, func(conn *websocket.Conn) {
			standardAuthFlow(t, conn)
			serveRequests(conn, func(map[string]interface{}) Message { return ok() })
		})

		client := NewClient(wsURL(server), testToken, logger)
		require.NoError(t, client.Connect())
		defer client.Disconnect()

		assert.Error(t, client.Connect())
	})
}

func TestClient_CallService(t *testing.T) {
	logger := zap.NewNop()
	calls := make(chan CallServiceRequest, 4)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)
		serveRequests(conn, func(req map[string]interface{}) Message {
			if req["type"] != "call_service" {
				return ok()
			}
			raw, _ := json.Marshal(req)
			var call CallServiceRequest
			json.Unmarshal(raw, &call)
			calls <- call

			if call.Service == "explode" {
				failed := false
				return Message{Type: "result", Success: &failed, Error: &Error{Code: "not_found", Message: "Service not found"}}
			}
			return ok()
		})
	})

	client := NewClient(wsURL(server), testToken, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	err := client.CallService("persistent_notification", "create", map[string]interface{}{
		"title":   "Dune Weaver",
		"message": "run failed",
	})
	require.NoError(t, err)

	call := <-calls
	assert.Equal(t, "persistent_notification", call.Domain)
	assert.Equal(t, "create", call.Service)
	assert.Equal(t, "run failed", call.ServiceData["message"])

	err = client.CallService("persistent_notification", "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_found")
}

func TestClient_CallServiceNotConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/api/websocket", testToken, zap.NewNop())
	err := client.CallService("persistent_notification", "create", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_StateChangeDispatch(t *testing.T) {
	logger := zap.NewNop()
	push := make(chan StateChangedEvent, 1)

	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)

		var sub SubscribeEventsRequest
		require.NoError(t, conn.ReadJSON(&sub))
		resp := ok()
		resp.ID = sub.ID
		conn.WriteJSON(resp)

		for ev := range push {
			data, _ := json.Marshal(ev)
			conn.WriteJSON(Message{Type: "event", Event: &Event{EventType: "state_changed", Data: data}})
		}
	})

	defer close(push)

	client := NewClient(wsURL(server), testToken, logger)
	require.NoError(t, client.Connect())
	defer client.Disconnect()

	entity := "input_button.duneweaver_t1_run_random"
	got := make(chan *State, 4)
	sub, err := client.SubscribeStateChanges(entity, func(entityID string, oldState, newState *State) {
		got <- newState
	})
	require.NoError(t, err)

	// events for other entities are ignored
	push <- StateChangedEvent{EntityID: "light.kitchen", NewState: &State{State: "on"}}
	push <- StateChangedEvent{
		EntityID: entity,
		OldState: &State{EntityID: entity, State: "2025-01-01T00:00:00+00:00"},
		NewState: &State{EntityID: entity, State: "2025-01-02T00:00:00+00:00"},
	}

	select {
	case s := <-got:
		assert.Equal(t, "2025-01-02T00:00:00+00:00", s.State)
	case <-time.After(2 * time.Second):
		t.Fatal("state change not delivered")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	push <- StateChangedEvent{EntityID: entity, NewState: &State{State: "later"}}

	select {
	case s := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %v", s.State)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_Disconnect(t *testing.T) {
	server := mockHAServer(t, func(conn *websocket.Conn) {
		standardAuthFlow(t, conn)
		serveRequests(conn, func(map[string]interface{}) Message { return ok() })
	})

	client := NewClient(wsURL(server), testToken, zap.NewNop())
	require.NoError(t, client.Connect())
	require.NoError(t, client.Disconnect())

	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Disconnect())
}

func TestClient_ConnectAfterDisconnectFails(t *testing.T) {
	var dials atomic.Int32
	server := mockHAServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		standardAuthFlow(t, conn)
		serveRequests(conn, func(map[string]interface{}) Message { return ok() })
	})

	client := NewClient(wsURL(server), testToken, zap.NewNop())
	require.NoError(t, client.Disconnect())

	err := client.Connect()
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.False(t, client.IsConnected())
	assert.Zero(t, dials.Load())

	// a reconnect attempt racing shutdown gives up without dialing
	done := make(chan struct{})
	go func() {
		client.reconnectLoop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * minBackoff):
		t.Fatal("reconnect loop kept running after Disconnect")
	}
	assert.Zero(t, dials.Load())
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 16*time.Second, nextBackoff(8*time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(20*time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(maxBackoff))
}
