package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RoomType is the closed set of subscription scopes.
type RoomType string

const (
	RoomOrder        RoomType = "order"
	RoomTable        RoomType = "table"
	RoomVenue        RoomType = "venue"
	RoomOrganization RoomType = "organization"
)

// Valid reports whether rt is a known room type.
func (rt RoomType) Valid() bool {
	switch rt {
	case RoomOrder, RoomTable, RoomVenue, RoomOrganization:
		return true
	default:
		return false
	}
}

func (rt RoomType) joinEvent() string {
	switch rt {
	case RoomOrder:
		return "joinOrderRoom"
	case RoomTable:
		return "joinTableRoom"
	case RoomVenue:
		return "joinVenueRoom"
	case RoomOrganization:
		return "joinOrganizationRoom"
	default:
		return ""
	}
}

// EventType is the closed set of realtime events. The first three arrive
// over the wire; the connection lifecycle events are emitted locally and
// fan out through the same listener registry.
type EventType string

const (
	EventOrderUpdated     EventType = "orderUpdated"
	EventOrderItemUpdated EventType = "orderItemUpdated"
	EventNewOrder         EventType = "newOrder"

	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventConnectError EventType = "connectError"
)

// Event is an inbound realtime notification.
type Event struct {
	Type           EventType `json:"-"`
	OrderID        string    `json:"orderId"`
	ItemID         string    `json:"itemId,omitempty"`
	Status         string    `json:"status,omitempty"`
	TableID        string    `json:"tableId,omitempty"`
	VenueID        string    `json:"venueId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Message        string    `json:"message,omitempty"`
}

// Listener is the removable handle returned by On. Handlers are not
// comparable, so removal goes through the handle identity.
type Listener struct {
	event EventType
	fn    func(Event)
}

type wsEnvelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrRouterClosed reports use of a router after Disconnect.
var ErrRouterClosed = errors.New("client: event router closed")

// EventRouter maintains one websocket connection, room subscriptions keyed
// roomType:id and a listener registry. Joins issued before the connection
// is up wait on the connected signal instead of polling. Subscriptions are
// connection-scoped: a dropped connection clears them and callers must
// re-join after the reconnect, which is signalled via EventConnected.
// Exhausting the reconnect attempts closes the router for good.
type EventRouter struct {
	url       string
	tokenFn   func() string
	dialer    *websocket.Dialer
	userAgent string

	reconnectDelay time.Duration
	maxReconnects  int

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}
	closed    bool
	gen       int
	joined    map[string]struct{}
	listeners map[EventType][]*Listener

	writeMu sync.Mutex

	onError func(error)
}

// RouterOption configures an EventRouter.
type RouterOption func(*EventRouter)

// WithReconnect bounds automatic reconnection: attempts retries spaced by
// delay. Exhausting the attempts closes the router; zero attempts closes
// it on the first drop.
func WithReconnect(attempts int, delay time.Duration) RouterOption {
	return func(r *EventRouter) {
		r.maxReconnects = attempts
		if delay > 0 {
			r.reconnectDelay = delay
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) RouterOption {
	return func(r *EventRouter) {
		if d != nil {
			r.dialer = d
		}
	}
}

// WithErrorHandler receives transport errors that the router absorbs.
func WithErrorHandler(fn func(error)) RouterOption {
	return func(r *EventRouter) { r.onError = fn }
}

// NewEventRouter builds a router for the websocket endpoint at url
// (ws:// or wss://). tokenFn supplies the current access token per dial, so
// reconnects pick up rotated tokens.
func NewEventRouter(url string, tokenFn func() string, opts ...RouterOption) (*EventRouter, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("client: websocket url is required")
	}
	if tokenFn == nil {
		return nil, errors.New("client: token source is required")
	}
	r := &EventRouter{
		url:            url,
		tokenFn:        tokenFn,
		dialer:         websocket.DefaultDialer,
		userAgent:      "tavolo-go-client",
		reconnectDelay: 2 * time.Second,
		maxReconnects:  5,
		connected:      make(chan struct{}),
		joined:         make(map[string]struct{}),
		listeners:      make(map[EventType][]*Listener),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Connect dials the endpoint and starts the read loop. Calling Connect on
// an already connected router is a no-op.
func (r *EventRouter) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	if r.conn != nil {
		r.mu.Unlock()
		return nil
	}
	gen := r.gen
	r.mu.Unlock()

	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed || r.gen != gen || r.conn != nil {
		r.mu.Unlock()
		_ = conn.Close()
		if r.closed {
			return ErrRouterClosed
		}
		return nil
	}
	r.conn = conn
	close(r.connected)
	r.mu.Unlock()

	go r.readLoop(conn)
	r.emit(Event{Type: EventConnected, Timestamp: time.Now()})
	return nil
}

// Connected returns a channel closed once the connection is established.
func (r *EventRouter) Connected() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// JoinRoom subscribes to roomType:id. It waits for the connected signal
// and sends the join frame once per connection; joining a room twice sends
// a single frame. Membership does not survive a disconnect.
func (r *EventRouter) JoinRoom(ctx context.Context, rt RoomType, id string) error {
	if !rt.Valid() || strings.TrimSpace(id) == "" {
		return fmt.Errorf("client: invalid room %s:%s", rt, id)
	}
	if err := r.awaitConnected(ctx); err != nil {
		return err
	}
	key := string(rt) + ":" + id
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	if _, ok := r.joined[key]; ok {
		r.mu.Unlock()
		return nil
	}
	r.joined[key] = struct{}{}
	r.mu.Unlock()
	if err := r.sendJoin(key); err != nil {
		// No frame went out, so the key must not swallow a later retry.
		r.mu.Lock()
		delete(r.joined, key)
		r.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom unsubscribes from roomType:id. Leaving a room that was never
// joined is a no-op.
func (r *EventRouter) LeaveRoom(ctx context.Context, rt RoomType, id string) error {
	if !rt.Valid() || strings.TrimSpace(id) == "" {
		return fmt.Errorf("client: invalid room %s:%s", rt, id)
	}
	key := string(rt) + ":" + id
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	if _, ok := r.joined[key]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.joined, key)
	connectedNow := r.conn != nil
	r.mu.Unlock()
	if !connectedNow {
		return nil
	}
	return r.writeEnvelope(wsEnvelope{Event: "leaveRoom", Room: key})
}

// On registers a handler for the event type and returns its removal handle.
func (r *EventRouter) On(evt EventType, fn func(Event)) *Listener {
	if fn == nil {
		return nil
	}
	l := &Listener{event: evt, fn: fn}
	r.mu.Lock()
	r.listeners[evt] = append(r.listeners[evt], l)
	r.mu.Unlock()
	return l
}

// Off removes exactly the listener behind the handle. Other listeners for
// the same event are untouched.
func (r *EventRouter) Off(l *Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.listeners[l.event]
	for i, candidate := range current {
		if candidate == l {
			r.listeners[l.event] = append(current[:i:i], current[i+1:]...)
			return
		}
	}
}

// Disconnect closes the connection and clears all rooms and listeners. The
// router cannot be reused afterwards.
func (r *EventRouter) Disconnect() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conn := r.conn
	r.conn = nil
	r.joined = make(map[string]struct{})
	r.listeners = make(map[EventType][]*Listener)
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (r *EventRouter) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", r.userAgent)
	if token := r.tokenFn(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := r.dialer.DialContext(ctx, r.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: websocket dial: %w", err)
	}
	return conn, nil
}

func (r *EventRouter) awaitConnected(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRouterClosed
	}
	ch := r.connected
	r.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *EventRouter) sendJoin(key string) error {
	rt, id, ok := strings.Cut(key, ":")
	if !ok {
		return fmt.Errorf("client: malformed room key %q", key)
	}
	event := RoomType(rt).joinEvent()
	if event == "" {
		return fmt.Errorf("client: malformed room key %q", key)
	}
	return r.writeEnvelope(wsEnvelope{Event: event, Room: id})
}

func (r *EventRouter) writeEnvelope(env wsEnvelope) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return errors.New("client: not connected")
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (r *EventRouter) readLoop(conn *websocket.Conn) {
	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			r.handleDisconnect(conn, err)
			return
		}
		r.dispatch(env)
	}
}

func (r *EventRouter) dispatch(env wsEnvelope) {
	evtType := EventType(env.Event)
	switch evtType {
	case EventOrderUpdated, EventOrderItemUpdated, EventNewOrder:
	default:
		return
	}
	var evt Event
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &evt); err != nil {
			r.reportError(fmt.Errorf("client: decode %s event: %w", env.Event, err))
			return
		}
	}
	evt.Type = evtType
	r.emit(evt)
}

func (r *EventRouter) emit(evt Event) {
	r.mu.Lock()
	handlers := make([]*Listener, len(r.listeners[evt.Type]))
	copy(handlers, r.listeners[evt.Type])
	r.mu.Unlock()

	for _, l := range handlers {
		r.invoke(l, evt)
	}
}

// invoke isolates handler panics so one bad listener cannot take down the
// read loop or starve its siblings.
func (r *EventRouter) invoke(l *Listener, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.reportError(fmt.Errorf("client: listener panic on %s: %v", l.event, rec))
		}
	}()
	l.fn(evt)
}

func (r *EventRouter) handleDisconnect(conn *websocket.Conn, cause error) {
	_ = conn.Close()
	r.mu.Lock()
	if r.closed || r.conn != conn {
		r.mu.Unlock()
		return
	}
	r.conn = nil
	r.gen++
	r.connected = make(chan struct{})
	// Subscriptions are connection-scoped; callers re-join on reconnect.
	r.joined = make(map[string]struct{})
	r.mu.Unlock()
	r.reportError(cause)
	r.emit(Event{Type: EventDisconnected, Timestamp: time.Now()})

	for attempt := 1; attempt <= r.maxReconnects; attempt++ {
		time.Sleep(r.reconnectDelay)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		next, err := r.dial(ctx)
		cancel()
		if err != nil {
			r.reportError(err)
			r.emit(Event{Type: EventConnectError, Timestamp: time.Now(), Message: err.Error()})
			continue
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = next.Close()
			return
		}
		r.conn = next
		close(r.connected)
		r.mu.Unlock()

		go r.readLoop(next)
		r.emit(Event{Type: EventConnected, Timestamp: time.Now()})
		return
	}

	// Retries exhausted: settle into a definite closed state instead of
	// leaving joins parked on a connect that will never come.
	r.emit(Event{Type: EventConnectError, Timestamp: time.Now(), Message: "reconnect attempts exhausted"})
	r.Disconnect()
}

func (r *EventRouter) reportError(err error) {
	if err == nil {
		return
	}
	if r.onError != nil {
		r.onError(err)
	}
}
