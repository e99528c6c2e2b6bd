// Package ha is a minimal Home Assistant WebSocket API client: it
// authenticates, calls services, fires events, reads states and dispatches
// state_changed events to per-entity subscribers.
package ha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxReconnectBackoff   = 30 * time.Second
)

// ErrNotConnected is returned by requests issued while disconnected
var ErrNotConnected = errors.New("not connected to Home Assistant")

// HAClient is the subset of the Home Assistant API the sensor relies on
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}) error
	FireEvent(eventType string, data map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
	SetInputBoolean(name string, value bool) error
	SetInputNumber(name string, value float64) error
	SetInputText(name string, value string) error
}

// Client implements HAClient over a single WebSocket connection
type Client struct {
	url            string
	token          string
	logger         *zap.Logger
	requestTimeout time.Duration

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool

	writeMu sync.Mutex

	msgIDMu sync.Mutex
	msgID   int

	pendingMu sync.Mutex
	pending   map[int]chan Message

	subsMu sync.RWMutex
	subs   subscribers
}

// NewClient creates a client for the given websocket URL and long-lived token
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:            url,
		token:          token,
		logger:         logger.Named("ha"),
		requestTimeout: defaultRequestTimeout,
		ctx:            ctx,
		cancel:         cancel,
		reconnect:      true,
		pending:        make(map[int]chan Message),
		subs:           newSubscribers(),
	}
}

// Connect dials, authenticates and subscribes to state_changed events
func (c *Client) Connect() error {
	c.connMu.Lock()
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

	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.connected = true
	c.reconnect = true
	go c.receiveMessages(c.ctx, conn)
	c.connMu.Unlock()

	c.logger.Info("Connected to Home Assistant")

	req := &SubscribeEventsRequest{ID: c.nextMsgID(), Type: "subscribe_events", EventType: "state_changed"}
	if _, err := c.send(req); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}
	return nil
}

// authenticate runs the auth_required / auth / auth_ok handshake
func (c *Client) authenticate(conn *websocket.Conn) error {
	var first Message
	if err := readMessage(conn, &first); err != nil {
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if first.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", first.Type)
	}

	if err := writeMessage(conn, AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var reply Message
	if err := readMessage(conn, &reply); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch reply.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication failed: invalid token")
	default:
		return fmt.Errorf("expected auth_ok, got %s", reply.Type)
	}
}

// Disconnect closes the connection and stops reconnect attempts
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()
	if !c.connected {
		return nil
	}
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}

	c.subsMu.Lock()
	c.subs = newSubscribers()
	c.subsMu.Unlock()

	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the client is authenticated and reading
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// send writes req and waits for the result frame carrying its id
func (c *Client) send(req request) (*Message, error) {
	c.connMu.RLock()
	conn, connected, ctx := c.conn, c.connected, c.ctx
	c.connMu.RUnlock()
	if !connected {
		return nil, ErrNotConnected
	}

	id := req.requestID()
	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := writeMessage(conn, req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request %d failed", id)
		}
		return &resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("timeout waiting for response to request %d", id)
	case <-ctx.Done():
		return nil, ErrNotConnected
	}
}

// receiveMessages reads frames until the connection fails or ctx ends
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg Message
		if err := readMessage(conn, &msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Failed to read message", zap.Error(err))
				c.handleDisconnect(conn)
			}
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}
		if msg.ID == 0 {
			continue
		}

		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.ID]; ok {
			select {
			case ch <- msg:
			default:
				c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
			}
		}
		c.pendingMu.Unlock()
	}
}

func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var data StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &data); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := c.subs.handlers(data.EntityID)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(data.EntityID, data.OldState, data.NewState)
	}
}

// handleDisconnect marks conn dead and schedules a reconnect unless
// Disconnect was called.
func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	conn.Close()
	reconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")
	if reconnect {
		go c.attemptReconnect()
	}
}

// attemptReconnect retries Connect with exponential backoff capped at 30s
func (c *Client) attemptReconnect() {
	backoff := time.Second
	for {
		time.Sleep(backoff)

		c.connMu.RLock()
		reconnect := c.reconnect
		c.connMu.RUnlock()
		if !reconnect {
			return
		}

		c.logger.Info("Attempting to reconnect...")
		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err), zap.Duration("backoff", backoff))
			backoff *= 2
			if backoff > maxReconnectBackoff {
				backoff = maxReconnectBackoff
			}
			continue
		}
		c.logger.Info("Reconnected successfully")
		return
	}
}

// GetState returns the state of one entity
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}
	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}
	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates returns every entity state
func (c *Client) GetAllStates() ([]*State, error) {
	resp, err := c.send(&GetStatesRequest{ID: c.nextMsgID(), Type: "get_states"})
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	return states, nil
}

// CallService calls domain.service with data
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	_, err := c.send(&CallServiceRequest{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	})
	return err
}

// FireEvent fires eventType on the Home Assistant event bus
func (c *Client) FireEvent(eventType string, data map[string]interface{}) error {
	_, err := c.send(&FireEventRequest{
		ID:        c.nextMsgID(),
		Type:      "fire_event",
		EventType: eventType,
		EventData: data,
	})
	return err
}

// SubscribeStateChanges registers handler for state changes of entityID
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.subsMu.Lock()
	subID := c.subs.add(entityID, handler)
	c.subsMu.Unlock()

	return &subscription{entityID: entityID, subID: subID, remove: c.unsubscribe}, nil
}

func (c *Client) unsubscribe(entityID string, subID int) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs.remove(entityID, subID)
}

// SetInputBoolean turns input_boolean.<name> on or off
func (c *Client) SetInputBoolean(name string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}
	return c.CallService("input_boolean", service, map[string]interface{}{
		"entity_id": "input_boolean." + name,
	})
}

// SetInputNumber sets input_number.<name>
func (c *Client) SetInputNumber(name string, value float64) error {
	return c.CallService("input_number", "set_value", map[string]interface{}{
		"entity_id": "input_number." + name,
		"value":     value,
	})
}

// SetInputText sets input_text.<name>
func (c *Client) SetInputText(name string, value string) error {
	return c.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": "input_text." + name,
		"value":     value,
	})
}

func readMessage(conn *websocket.Conn, v interface{}) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeMessage(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
