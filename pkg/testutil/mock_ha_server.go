package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper serializes writes to one websocket connection
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(v interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteJSON(v)
}

// MockHAServer simulates the Home Assistant websocket API: the auth
// handshake, subscribe_events, call_service, and state_changed pushes.
type MockHAServer struct {
	server *httptest.Server
	token  string

	connsMu sync.Mutex
	conns   []*connWrapper

	statesMu sync.Mutex
	states   map[string]string

	callsMu      sync.Mutex
	serviceCalls []ServiceCall
}

type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

type entityState struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewMockHAServer starts a server accepting token
func NewMockHAServer(token string) *MockHAServer {
	s := &MockHAServer{
		token:  token,
		states: make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the websocket endpoint
func (s *MockHAServer) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/websocket"
}

// Close drops every connection and stops the server
func (s *MockHAServer) Close() {
	s.connsMu.Lock()
	for _, w := range s.conns {
		w.conn.Close()
	}
	s.conns = nil
	s.connsMu.Unlock()

	s.server.Close()
}

// Connections returns the number of authenticated connections
func (s *MockHAServer) Connections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// SetState changes an entity and broadcasts state_changed
func (s *MockHAServer) SetState(entityID, state string) {
	now := time.Now().UTC()

	s.statesMu.Lock()
	old, existed := s.states[entityID]
	s.states[entityID] = state
	s.statesMu.Unlock()

	data := map[string]interface{}{
		"entity_id": entityID,
		"new_state": entityState{EntityID: entityID, State: state, LastChanged: now, LastUpdated: now},
	}
	if existed {
		data["old_state"] = entityState{EntityID: entityID, State: old}
	}

	rawData, _ := json.Marshal(data)
	event, _ := json.Marshal(map[string]interface{}{
		"event_type": "state_changed",
		"data":       json.RawMessage(rawData),
		"origin":     "LOCAL",
		"time_fired": now,
	})

	s.connsMu.Lock()
	conns := append([]*connWrapper(nil), s.conns...)
	s.connsMu.Unlock()

	for _, w := range conns {
		w.write(wsMessage{Type: "event", Event: event})
	}
}

// PressButton simulates pressing an input_button: its state becomes the
// press timestamp.
func (s *MockHAServer) PressButton(entityID string) {
	s.statesMu.Lock()
	if _, ok := s.states[entityID]; !ok {
		s.states[entityID] = "unknown"
	}
	s.statesMu.Unlock()

	s.SetState(entityID, time.Now().UTC().Format(time.RFC3339Nano))
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer s.drop(wrapper)

	wrapper.write(wsMessage{Type: "auth_required"})

	var auth struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(wsMessage{Type: "auth_invalid"})
		return
	}
	wrapper.write(wsMessage{Type: "auth_ok"})

	s.connsMu.Lock()
	s.conns = append(s.conns, wrapper)
	s.connsMu.Unlock()

	for {
		var req struct {
			ID          int                    `json:"id"`
			Type        string                 `json:"type"`
			Domain      string                 `json:"domain"`
			Service     string                 `json:"service"`
			ServiceData map[string]interface{} `json:"service_data"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		if req.Type == "call_service" {
			s.callsMu.Lock()
			s.serviceCalls = append(s.serviceCalls, ServiceCall{
				Timestamp:   time.Now(),
				Domain:      req.Domain,
				Service:     req.Service,
				ServiceData: req.ServiceData,
			})
			s.callsMu.Unlock()
		}

		success := true
		wrapper.write(wsMessage{ID: req.ID, Type: "result", Success: &success})
	}
}

func (s *MockHAServer) drop(wrapper *connWrapper) {
	s.connsMu.Lock()
	for i, w := range s.conns {
		if w == wrapper {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			break
		}
	}
	s.connsMu.Unlock()
	wrapper.conn.Close()
}

// ServiceCalls returns all service calls received so far
func (s *MockHAServer) ServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	return append([]ServiceCall(nil), s.serviceCalls...)
}

// CountServiceCalls counts calls to domain.service
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.ServiceCalls(), domain, service))
}
