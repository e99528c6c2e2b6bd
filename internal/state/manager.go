// Package state mirrors the sensor's outputs into Home Assistant helper
// entities and keeps a local cache that follows changes made in Home
// Assistant.
package state

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"fpllive/internal/ha"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StateChangeHandler is called when a state variable changes
type StateChangeHandler func(key string, oldValue, newValue interface{})

// Subscription is an active state change subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	key     string
	id      int
	manager *Manager
}

func (s *subscription) Unsubscribe() {
	s.manager.unsubscribe(s.key, s.id)
}

type handlerEntry struct {
	id      int
	handler StateChangeHandler
}

// Manager caches state variables and pushes writes to Home Assistant.
// In read-only mode writes only touch the cache.
type Manager struct {
	client    ha.HAClient
	logger    *zap.Logger
	readOnly  bool
	variables map[string]StateVariable

	cacheMu sync.RWMutex
	cache   map[string]interface{}

	subsMu      sync.RWMutex
	subscribers map[string][]handlerEntry
	nextSubID   int
	haSubs      []ha.Subscription
}

// NewManager creates a state manager over client
func NewManager(client ha.HAClient, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		client:      client,
		logger:      logger.Named("state"),
		readOnly:    readOnly,
		variables:   VariablesByKey(),
		cache:       make(map[string]interface{}),
		subscribers: make(map[string][]handlerEntry),
	}
}

// SyncFromHA loads every synced variable from Home Assistant and subscribes
// to its changes. Entities missing in HA keep their default.
func (m *Manager) SyncFromHA() error {
	m.logger.Info("Syncing state from Home Assistant...")

	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}
	byEntity := make(map[string]*ha.State, len(states))
	for _, s := range states {
		byEntity[s.EntityID] = s
	}

	m.unsubscribeHA()

	synced := 0
	for _, variable := range AllVariables {
		value := variable.Default
		if !variable.LocalOnly {
			if s, ok := byEntity[variable.EntityID]; ok {
				parsed, err := parseStateValue(s.State, variable.Type)
				if err != nil {
					m.logger.Error("Failed to parse state value",
						zap.String("entity_id", variable.EntityID),
						zap.Error(err))
				} else {
					value = parsed
					synced++
				}
			} else {
				m.logger.Warn("Entity not found in HA, using default",
					zap.String("entity_id", variable.EntityID))
			}
			m.subscribeToEntity(variable)
		}

		m.cacheMu.Lock()
		m.cache[variable.Key] = value
		m.cacheMu.Unlock()
	}

	m.logger.Info("State sync complete",
		zap.Int("synced", synced),
		zap.Int("total", len(AllVariables)),
		zap.Bool("read_only", m.readOnly))
	return nil
}

func parseStateValue(raw string, typ StateType) (interface{}, error) {
	switch typ {
	case TypeBool:
		return raw == "on", nil
	case TypeNumber:
		return strconv.ParseFloat(raw, 64)
	case TypeString:
		return raw, nil
	case TypeJSON:
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return map[string]interface{}{}, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown type: %s", typ)
	}
}

func (m *Manager) subscribeToEntity(variable StateVariable) {
	sub, err := m.client.SubscribeStateChanges(variable.EntityID, func(entityID string, oldState, newState *ha.State) {
		if newState == nil {
			return
		}
		value, err := parseStateValue(newState.State, variable.Type)
		if err != nil {
			m.logger.Error("Failed to parse state change",
				zap.String("entity_id", entityID),
				zap.Error(err))
			return
		}
		m.store(variable.Key, value)
	})
	if err != nil {
		m.logger.Warn("Failed to subscribe to entity",
			zap.String("entity_id", variable.EntityID),
			zap.Error(err))
		return
	}

	m.subsMu.Lock()
	m.haSubs = append(m.haSubs, sub)
	m.subsMu.Unlock()
}

func (m *Manager) unsubscribeHA() {
	m.subsMu.Lock()
	subs := m.haSubs
	m.haSubs = nil
	m.subsMu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// store updates the cache and notifies subscribers when the value changed
func (m *Manager) store(key string, value interface{}) (old interface{}) {
	m.cacheMu.Lock()
	old = m.cache[key]
	m.cache[key] = value
	m.cacheMu.Unlock()

	if !equalValues(old, value) {
		m.logger.Debug("State changed",
			zap.String("key", key),
			zap.Any("old", old),
			zap.Any("new", value))
		m.notifySubscribers(key, old, value)
	}
	return old
}

func equalValues(a, b interface{}) bool {
	switch a.(type) {
	case bool, string, float64, nil:
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func (m *Manager) notifySubscribers(key string, oldValue, newValue interface{}) {
	m.subsMu.RLock()
	entries := append([]handlerEntry(nil), m.subscribers[key]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		go entry.handler(key, oldValue, newValue)
	}
}

func (m *Manager) lookup(key string, typ StateType) (StateVariable, error) {
	variable, ok := m.variables[key]
	if !ok {
		return StateVariable{}, fmt.Errorf("variable %s not found", key)
	}
	if variable.Type != typ {
		return StateVariable{}, fmt.Errorf("variable %s is %s, not %s", key, variable.Type, typ)
	}
	return variable, nil
}

func (m *Manager) get(key string, typ StateType) (interface{}, error) {
	variable, err := m.lookup(key, typ)
	if err != nil {
		return nil, err
	}
	m.cacheMu.RLock()
	value, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if !ok {
		return variable.Default, nil
	}
	return value, nil
}

// set caches value and pushes it to HA. The cache is rolled back if the
// push fails.
func (m *Manager) set(key string, typ StateType, value interface{}, push func(name string) error) error {
	variable, err := m.lookup(key, typ)
	if err != nil {
		return err
	}

	old := m.store(key, value)
	if variable.LocalOnly {
		return nil
	}
	if m.readOnly {
		m.logger.Debug("READ-ONLY: Would update Home Assistant",
			zap.String("entity_id", variable.EntityID),
			zap.Any("value", value))
		return nil
	}

	if err := push(entityName(variable.EntityID)); err != nil {
		if old == nil {
			old = variable.Default
		}
		m.store(key, old)
		return fmt.Errorf("failed to set %s: %w", variable.EntityID, err)
	}
	return nil
}

// GetBool returns a boolean variable
func (m *Manager) GetBool(key string) (bool, error) {
	value, err := m.get(key, TypeBool)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("cached value for %s is not a boolean", key)
	}
	return b, nil
}

// SetBool sets a boolean variable
func (m *Manager) SetBool(key string, value bool) error {
	return m.set(key, TypeBool, value, func(name string) error {
		return m.client.SetInputBoolean(name, value)
	})
}

// CompareAndSwapBool sets key to new only if it currently equals old
func (m *Manager) CompareAndSwapBool(key string, old, new bool) (bool, error) {
	variable, err := m.lookup(key, TypeBool)
	if err != nil {
		return false, err
	}

	m.cacheMu.Lock()
	current, ok := m.cache[key]
	if !ok {
		current = variable.Default
	}
	if b, _ := current.(bool); b != old {
		m.cacheMu.Unlock()
		return false, nil
	}
	m.cache[key] = new
	m.cacheMu.Unlock()

	if variable.LocalOnly || m.readOnly {
		return true, nil
	}
	if err := m.client.SetInputBoolean(entityName(variable.EntityID), new); err != nil {
		m.cacheMu.Lock()
		m.cache[key] = old
		m.cacheMu.Unlock()
		return false, fmt.Errorf("failed to set %s: %w", variable.EntityID, err)
	}
	return true, nil
}

// GetString returns a string variable
func (m *Manager) GetString(key string) (string, error) {
	value, err := m.get(key, TypeString)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("cached value for %s is not a string", key)
	}
	return s, nil
}

// SetString sets a string variable
func (m *Manager) SetString(key string, value string) error {
	return m.set(key, TypeString, value, func(name string) error {
		return m.client.SetInputText(name, value)
	})
}

// GetNumber returns a number variable
func (m *Manager) GetNumber(key string) (float64, error) {
	value, err := m.get(key, TypeNumber)
	if err != nil {
		return 0, err
	}
	n, ok := value.(float64)
	if !ok {
		return 0, fmt.Errorf("cached value for %s is not a number", key)
	}
	return n, nil
}

// SetNumber sets a number variable
func (m *Manager) SetNumber(key string, value float64) error {
	return m.set(key, TypeNumber, value, func(name string) error {
		return m.client.SetInputNumber(name, value)
	})
}

// GetJSON decodes a JSON variable into target
func (m *Manager) GetJSON(key string, target interface{}) error {
	value, err := m.get(key, TypeJSON)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cached value: %w", err)
	}
	return json.Unmarshal(data, target)
}

// SetJSON sets a JSON variable. HA receives the encoded text.
func (m *Manager) SetJSON(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	// Cache the decoded form so it compares equal to what HA echoes back
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to normalise %s: %w", key, err)
	}
	return m.set(key, TypeJSON, generic, func(name string) error {
		return m.client.SetInputText(name, string(data))
	})
}

// Subscribe registers handler for changes of key
func (m *Manager) Subscribe(key string, handler StateChangeHandler) (Subscription, error) {
	if _, ok := m.variables[key]; !ok {
		return nil, fmt.Errorf("variable %s not found", key)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[key] = append(m.subscribers[key], handlerEntry{id: id, handler: handler})
	return &subscription{key: key, id: id, manager: m}, nil
}

func (m *Manager) unsubscribe(key string, id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	entries := m.subscribers[key]
	for i, entry := range entries {
		if entry.id == id {
			m.subscribers[key] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// GetAllValues returns a copy of the cache
func (m *Manager) GetAllValues() map[string]interface{} {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	values := make(map[string]interface{}, len(m.cache))
	for k, v := range m.cache {
		values[k] = v
	}
	return values
}

// IsReadOnly reports whether writes are kept local
func (m *Manager) IsReadOnly() bool {
	return m.readOnly
}

// entityName strips the domain: "input_boolean.fpl_new_goal" -> "fpl_new_goal"
func entityName(entityID string) string {
	if i := strings.LastIndexByte(entityID, '.'); i >= 0 {
		return entityID[i+1:]
	}
	return entityID
}
