// Package hub fans out order lifecycle events to realtime subscribers
// grouped into per-entity rooms.
package hub

import (
	"sync"

	"tavolo.app/internal/obs"
)

const subscriberBuffer = 16

// Subscriber receives events for the rooms it has joined. Delivery drops
// events when the subscriber is slow rather than blocking the publisher.
type Subscriber struct {
	events chan Event
}

// Events returns the delivery channel. It is closed on Unregister.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Hub owns room membership and event fan-out. It is transport-agnostic;
// the websocket layer adapts connections to subscribers.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	subs  map[*Subscriber]map[string]struct{}
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		subs:  make(map[*Subscriber]map[string]struct{}),
	}
}

// Register creates a subscriber with no room memberships.
func (h *Hub) Register() *Subscriber {
	sub := &Subscriber{events: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = make(map[string]struct{})
	h.mu.Unlock()
	obs.RealtimeClients.Inc()
	return sub
}

// Unregister removes the subscriber from every room and closes its channel.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	rooms, ok := h.subs[sub]
	if !ok {
		h.mu.Unlock()
		return
	}
	for key := range rooms {
		h.removeFromRoom(key, sub)
	}
	delete(h.subs, sub)
	close(sub.events)
	h.mu.Unlock()
	obs.RealtimeClients.Dec()
}

// Join adds the subscriber to the room. Joining twice is a no-op.
func (h *Hub) Join(sub *Subscriber, rt RoomType, id string) bool {
	if !rt.Valid() || id == "" {
		return false
	}
	key := RoomKey(rt, id)
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.subs[sub]
	if !ok {
		return false
	}
	if _, joined := rooms[key]; joined {
		return true
	}
	rooms[key] = struct{}{}
	members, ok := h.rooms[key]
	if !ok {
		members = make(map[*Subscriber]struct{})
		h.rooms[key] = members
	}
	members[sub] = struct{}{}
	return true
}

// Leave removes the subscriber from the room if it was a member.
func (h *Hub) Leave(sub *Subscriber, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.subs[sub]
	if !ok {
		return false
	}
	if _, joined := rooms[key]; !joined {
		return false
	}
	delete(rooms, key)
	h.removeFromRoom(key, sub)
	return true
}

// Publish fans the event out to every member of its target rooms. A
// subscriber joined to several matching rooms receives the event once.
func (h *Hub) Publish(evt Event) {
	recipients := make(map[*Subscriber]struct{})
	h.mu.RLock()
	for _, key := range evt.Rooms() {
		for sub := range h.rooms[key] {
			recipients[sub] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for sub := range recipients {
		select {
		case sub.events <- evt:
			obs.RealtimeEventsDelivered.WithLabelValues(string(evt.Type)).Inc()
		default:
			// Drop when the subscriber is slow to avoid blocking.
			obs.RealtimeEventsDropped.WithLabelValues(string(evt.Type)).Inc()
		}
	}
}

// RoomSize reports the member count of a room (used by tests and metrics).
func (h *Hub) RoomSize(rt RoomType, id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomKey(rt, id)])
}

// caller must hold h.mu.
func (h *Hub) removeFromRoom(key string, sub *Subscriber) {
	members, ok := h.rooms[key]
	if !ok {
		return
	}
	delete(members, sub)
	if len(members) == 0 {
		delete(h.rooms, key)
	}
}
