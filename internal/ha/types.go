package ha

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the envelope of every frame exchanged with Home Assistant
type Message struct {
	ID      int                 `json:"id,omitempty"`
	Type    string              `json:"type"`
	Success *bool               `json:"success,omitempty"`
	Result  jsoniter.RawMessage `json:"result,omitempty"`
	Error   *Error              `json:"error,omitempty"`
	Event   *Event              `json:"event,omitempty"`
}

// Error is the error payload of a failed result
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage is sent in reply to auth_required
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// Event is an event pushed on a subscription
type Event struct {
	EventType string              `json:"event_type"`
	Data      jsoniter.RawMessage `json:"data"`
	Origin    string              `json:"origin"`
	TimeFired time.Time           `json:"time_fired"`
}

// StateChangedEvent is the data of a state_changed event
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is the state of one entity
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// request is any command that expects a result frame with the same id
type request interface {
	requestID() int
}

// CallServiceRequest invokes a service
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
}

func (r *CallServiceRequest) requestID() int { return r.ID }

// FireEventRequest fires an event on the Home Assistant bus
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

func (r *FireEventRequest) requestID() int { return r.ID }

// GetStatesRequest asks for every entity state
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

func (r *GetStatesRequest) requestID() int { return r.ID }

// SubscribeEventsRequest subscribes to one event type
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

func (r *SubscribeEventsRequest) requestID() int { return r.ID }

// StateChangeHandler is called when a subscribed entity changes
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active entity subscription
type Subscription interface {
	Unsubscribe() error
}

// subscriberEntry is one handler registered for an entity
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// subscribers is the entity -> handlers table shared by Client and MockClient
type subscribers struct {
	entries map[string][]subscriberEntry
	nextID  int
}

func newSubscribers() subscribers {
	return subscribers{entries: make(map[string][]subscriberEntry)}
}

func (s *subscribers) add(entityID string, handler StateChangeHandler) int {
	id := s.nextID
	s.nextID++
	s.entries[entityID] = append(s.entries[entityID], subscriberEntry{subID: id, handler: handler})
	return id
}

func (s *subscribers) remove(entityID string, subID int) {
	entries := s.entries[entityID]
	for i, entry := range entries {
		if entry.subID != subID {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(s.entries, entityID)
		} else {
			s.entries[entityID] = entries
		}
		return
	}
}

func (s *subscribers) handlers(entityID string) []subscriberEntry {
	return append([]subscriberEntry(nil), s.entries[entityID]...)
}

// subscription unregisters one handler through remove
type subscription struct {
	entityID string
	subID    int
	remove   func(entityID string, subID int)
}

func (s *subscription) Unsubscribe() error {
	s.remove(s.entityID, s.subID)
	return nil
}
