package hub

import (
	"strings"
	"time"
)

// EventType identifies a domain notification pushed over the realtime channel.
type EventType string

const (
	EventOrderUpdated     EventType = "orderUpdated"
	EventOrderItemUpdated EventType = "orderItemUpdated"
	EventNewOrder         EventType = "newOrder"
)

// RoomType scopes a subscription to one entity kind. It is a closed set so
// an unknown room type cannot be joined.
type RoomType string

const (
	RoomOrder        RoomType = "order"
	RoomTable        RoomType = "table"
	RoomVenue        RoomType = "venue"
	RoomOrganization RoomType = "organization"
)

// Valid reports whether rt is one of the known room types.
func (rt RoomType) Valid() bool {
	switch rt {
	case RoomOrder, RoomTable, RoomVenue, RoomOrganization:
		return true
	default:
		return false
	}
}

// RoomKey builds the composite subscription key roomType:id.
func RoomKey(rt RoomType, id string) string {
	return string(rt) + ":" + id
}

// ParseRoomKey splits a composite key back into its parts.
func ParseRoomKey(key string) (RoomType, string, bool) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 || idx == len(key)-1 {
		return "", "", false
	}
	rt := RoomType(key[:idx])
	if !rt.Valid() {
		return "", "", false
	}
	return rt, key[idx+1:], true
}

// Event is a domain notification. The zero optional ids are omitted on the
// wire; Rooms derives the target subscriptions.
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

// Rooms lists the composite keys this event is delivered to.
func (e Event) Rooms() []string {
	var rooms []string
	if e.OrderID != "" {
		rooms = append(rooms, RoomKey(RoomOrder, e.OrderID))
	}
	if e.TableID != "" {
		rooms = append(rooms, RoomKey(RoomTable, e.TableID))
	}
	if e.VenueID != "" {
		rooms = append(rooms, RoomKey(RoomVenue, e.VenueID))
	}
	if e.OrganizationID != "" {
		rooms = append(rooms, RoomKey(RoomOrganization, e.OrganizationID))
	}
	return rooms
}
