// Package testutil provides a fake Home Assistant WebSocket server, a fake
// FPL API and a harness wiring the sensor against both for integration tests.
package testutil

import (
	stdjson "encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper pairs a connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.WriteJSON(msg)
}

// MockHAServer simulates the parts of the Home Assistant WebSocket API the
// sensor uses: auth, get_states, call_service, fire_event and state_changed
// broadcasts.
type MockHAServer struct {
	server   *http.Server
	listener net.Listener
	token    string
	logger   *zap.Logger

	states   map[string]*EntityState
	statesMu sync.RWMutex

	connections []*connWrapper
	connsMu     sync.Mutex

	serviceCalls []ServiceCall
	firedEvents  []FiredEvent
	callsMu      sync.Mutex
}

// EntityState is an entity as Home Assistant reports it
type EntityState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// FiredEvent records a fire_event request
type FiredEvent struct {
	Timestamp time.Time
	EventType string
	Data      map[string]interface{}
}

type message struct {
	ID      int                `json:"id,omitempty"`
	Type    string             `json:"type"`
	Success *bool              `json:"success,omitempty"`
	Result  stdjson.RawMessage `json:"result,omitempty"`
	Event   *event             `json:"event,omitempty"`
}

type event struct {
	EventType string             `json:"event_type"`
	Data      stdjson.RawMessage `json:"data"`
	Origin    string             `json:"origin"`
	TimeFired time.Time          `json:"time_fired"`
}

type stateChangedData struct {
	EntityID string       `json:"entity_id"`
	NewState *EntityState `json:"new_state"`
	OldState *EntityState `json:"old_state"`
}

type request struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	AccessToken string                 `json:"access_token,omitempty"`
	Domain      string                 `json:"domain,omitempty"`
	Service     string                 `json:"service,omitempty"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
	EventType   string                 `json:"event_type,omitempty"`
	EventData   map[string]interface{} `json:"event_data,omitempty"`
}

// NewMockHAServer creates a server that accepts token
func NewMockHAServer(token string, logger *zap.Logger) *MockHAServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockHAServer{
		token:  token,
		logger: logger.Named("mock_ha"),
		states: make(map[string]*EntityState),
	}
}

// Start listens on a free loopback port
func (s *MockHAServer) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Mock HA server error", zap.Error(err))
		}
	}()
	return nil
}

// URL is the WebSocket endpoint clients connect to
func (s *MockHAServer) URL() string {
	return fmt.Sprintf("ws://%s/api/websocket", s.listener.Addr().String())
}

// Stop closes every connection and the listener
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// InitializeStates creates the sensor's helper entities with empty values
func (s *MockHAServer) InitializeStates() {
	for _, name := range []string{"fpl_new_goal", "fpl_match_live", "fpl_reset"} {
		s.SetState("input_boolean."+name, "off", map[string]interface{}{"friendly_name": name})
	}
	s.SetState("input_number.fpl_gameweek", "0", map[string]interface{}{"min": 0, "max": 38})
	s.SetState("input_text.fpl_status", "", map[string]interface{}{"max": 255})
	s.SetState("input_text.fpl_last_error", "", map[string]interface{}{"max": 255})
	s.SetState("input_text.fpl_match_tally", "{}", map[string]interface{}{"max": 255})
}

// SetState stores a state and broadcasts state_changed
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]
	now := time.Now()
	newState := &EntityState{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// GetState returns the stored state, or nil
func (s *MockHAServer) GetState(entityID string) *EntityState {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// StateValue returns the state string of entityID, empty if unknown
func (s *MockHAServer) StateValue(entityID string) string {
	if st := s.GetState(entityID); st != nil {
		return st.State
	}
	return ""
}

func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	wrapper := &connWrapper{conn: conn}
	defer s.dropConnection(wrapper)

	wrapper.write(message{Type: "auth_required"})

	var auth request
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth.AccessToken != s.token {
		wrapper.write(message{Type: "auth_invalid"})
		return
	}
	wrapper.write(message{Type: "auth_ok"})

	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("Connection closed", zap.Error(err))
			return
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		switch req.Type {
		case "subscribe_events":
			s.reply(wrapper, req.ID, nil)
		case "get_states":
			s.handleGetStates(wrapper, req)
		case "call_service":
			s.handleCallService(wrapper, req)
		case "fire_event":
			s.handleFireEvent(wrapper, req)
		}
	}
}

func (s *MockHAServer) dropConnection(wrapper *connWrapper) {
	s.connsMu.Lock()
	for i, w := range s.connections {
		if w == wrapper {
			s.connections = append(s.connections[:i], s.connections[i+1:]...)
			break
		}
	}
	s.connsMu.Unlock()
	wrapper.conn.Close()
}

func (s *MockHAServer) reply(wrapper *connWrapper, id int, result interface{}) {
	success := true
	msg := message{ID: id, Type: "result", Success: &success}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			s.logger.Error("Failed to encode result", zap.Error(err))
			return
		}
		msg.Result = data
	}
	wrapper.write(msg)
}

func (s *MockHAServer) handleGetStates(wrapper *connWrapper, req request) {
	s.statesMu.RLock()
	states := make([]*EntityState, 0, len(s.states))
	for _, st := range s.states {
		states = append(states, st)
	}
	s.statesMu.RUnlock()

	s.reply(wrapper, req.ID, states)
}

func (s *MockHAServer) handleCallService(wrapper *connWrapper, req request) {
	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	})
	s.callsMu.Unlock()

	// Ack before broadcasting so the caller never waits behind its own event
	s.reply(wrapper, req.ID, nil)

	entityID, _ := req.ServiceData["entity_id"].(string)
	existing := s.GetState(entityID)
	if existing == nil {
		return
	}

	switch req.Domain {
	case "input_boolean":
		newState := "off"
		if req.Service == "turn_on" {
			newState = "on"
		}
		s.SetState(entityID, newState, existing.Attributes)
	case "input_number":
		if value, ok := req.ServiceData["value"].(float64); ok {
			s.SetState(entityID, strconv.FormatFloat(value, 'f', -1, 64), existing.Attributes)
		}
	case "input_text":
		if value, ok := req.ServiceData["value"].(string); ok {
			s.SetState(entityID, value, existing.Attributes)
		}
	}
}

func (s *MockHAServer) handleFireEvent(wrapper *connWrapper, req request) {
	s.callsMu.Lock()
	s.firedEvents = append(s.firedEvents, FiredEvent{
		Timestamp: time.Now(),
		EventType: req.EventType,
		Data:      req.EventData,
	})
	s.callsMu.Unlock()

	s.reply(wrapper, req.ID, nil)
}

func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *EntityState) {
	data, err := json.Marshal(stateChangedData{EntityID: entityID, NewState: newState, OldState: oldState})
	if err != nil {
		return
	}
	msg := message{
		Type: "event",
		Event: &event{
			EventType: "state_changed",
			Data:      data,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(msg)
	}
}

// GetServiceCalls returns all service calls since the last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// GetFiredEvents returns all fired events since the last clear
func (s *MockHAServer) GetFiredEvents() []FiredEvent {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	events := make([]FiredEvent, len(s.firedEvents))
	copy(events, s.firedEvents)
	return events
}

// ClearServiceCalls resets the service call and event logs
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
	s.firedEvents = nil
}
