package ha

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ServiceCall records a service call made against MockClient
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// FiredEvent records an event fired through MockClient
type FiredEvent struct {
	EventType string
	Data      map[string]interface{}
	Time      time.Time
}

// MockClient is an in-memory HAClient for tests. Service calls on input
// helpers update the stored state and notify subscribers like Home
// Assistant would.
type MockClient struct {
	connMu    sync.RWMutex
	connected bool

	statesMu sync.RWMutex
	states   map[string]*State

	subsMu sync.RWMutex
	subs   subscribers

	recordMu     sync.Mutex
	serviceCalls []ServiceCall
	events       []FiredEvent
	failNext     error
}

// NewMockClient creates a disconnected mock client
func NewMockClient() *MockClient {
	return &MockClient{
		states: make(map[string]*State),
		subs:   newSubscribers(),
	}
}

// Connect marks the mock as connected
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect marks the mock as disconnected and drops subscribers
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subs = newSubscribers()
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns the connection flag
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState returns a stored state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates returns every stored state
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()
	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// FailNext makes the next CallService or FireEvent return err
func (m *MockClient) FailNext(err error) {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	m.failNext = err
}

func (m *MockClient) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

// CallService records the call and applies it to input helper states
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.recordMu.Lock()
	if err := m.takeFailure(); err != nil {
		m.recordMu.Unlock()
		return err
	}
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	m.recordMu.Unlock()

	if entityID, ok := data["entity_id"].(string); ok {
		m.applyServiceCall(entityID, domain, service, data)
	}
	return nil
}

// FireEvent records the event
func (m *MockClient) FireEvent(eventType string, data map[string]interface{}) error {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.events = append(m.events, FiredEvent{EventType: eventType, Data: data, Time: time.Now()})
	return nil
}

// SubscribeStateChanges registers handler for entityID
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.Lock()
	subID := m.subs.add(entityID, handler)
	m.subsMu.Unlock()

	return &subscription{entityID: entityID, subID: subID, remove: m.unsubscribe}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs.remove(entityID, subID)
}

// SetInputBoolean turns a mock input_boolean on or off
func (m *MockClient) SetInputBoolean(name string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}
	return m.CallService("input_boolean", service, map[string]interface{}{
		"entity_id": "input_boolean." + name,
	})
}

// SetInputNumber sets a mock input_number
func (m *MockClient) SetInputNumber(name string, value float64) error {
	return m.CallService("input_number", "set_value", map[string]interface{}{
		"entity_id": "input_number." + name,
		"value":     value,
	})
}

// SetInputText sets a mock input_text
func (m *MockClient) SetInputText(name string, value string) error {
	return m.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": "input_text." + name,
		"value":     value,
	})
}

// SetState stores a state and notifies subscribers, as if changed in Home Assistant
func (m *MockClient) SetState(entityID string, value string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	old, updated := m.storeLocked(entityID, value, attributes)
	m.statesMu.Unlock()

	m.notify(entityID, old, updated)
}

// GetServiceCalls returns a copy of the recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	return append([]ServiceCall(nil), m.serviceCalls...)
}

// ServiceCallsFor returns recorded calls targeting entityID
func (m *MockClient) ServiceCallsFor(entityID string) []ServiceCall {
	var out []ServiceCall
	for _, call := range m.GetServiceCalls() {
		if id, _ := call.Data["entity_id"].(string); id == entityID {
			out = append(out, call)
		}
	}
	return out
}

// GetFiredEvents returns a copy of the recorded events
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	return append([]FiredEvent(nil), m.events...)
}

// ClearServiceCalls forgets recorded service calls and events
func (m *MockClient) ClearServiceCalls() {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()
	m.serviceCalls = nil
	m.events = nil
}

func (m *MockClient) applyServiceCall(entityID, domain, service string, data map[string]interface{}) {
	m.statesMu.Lock()
	value := ""
	var attributes map[string]interface{}
	if current := m.states[entityID]; current != nil {
		value = current.State
		attributes = current.Attributes
	}

	switch {
	case domain == "input_boolean" && service == "turn_on":
		value = "on"
	case domain == "input_boolean" && service == "turn_off":
		value = "off"
	case domain == "input_number":
		if v, ok := data["value"].(float64); ok {
			value = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
		}
	case domain == "input_text":
		if v, ok := data["value"].(string); ok {
			value = v
		}
	}

	old, updated := m.storeLocked(entityID, value, attributes)
	m.statesMu.Unlock()

	m.notify(entityID, old, updated)
}

func (m *MockClient) storeLocked(entityID, value string, attributes map[string]interface{}) (old, updated *State) {
	if attributes == nil {
		attributes = make(map[string]interface{})
	}
	now := time.Now()
	old = m.states[entityID]
	updated = &State{
		EntityID:    entityID,
		State:       value,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = updated
	return old, updated
}

func (m *MockClient) notify(entityID string, old, updated *State) {
	m.subsMu.RLock()
	entries := m.subs.handlers(entityID)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, old, updated)
	}
}
