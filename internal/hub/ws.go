package hub

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tavolo.app/internal/identity"
	"tavolo.app/internal/obs"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	maxMsgSize = 4 << 10
)

// Authenticator validates an access token presented during the websocket
// handshake.
type Authenticator interface {
	AuthenticateToken(ctx context.Context, token string) (*identity.User, *identity.Claims, error)
}

// inbound is a client-to-server control frame.
type inbound struct {
	Event string `json:"event"`
	Room  string `json:"room"`
}

// outbound wraps a domain event for delivery.
type outbound struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

// WSHandler upgrades authenticated requests and bridges the connection to
// hub subscriptions.
type WSHandler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
	origins  []string
}

// NewWSHandler constructs the websocket endpoint. origins restricts the
// handshake Origin header; empty means same-origin only.
func NewWSHandler(h *Hub, auth Authenticator, origins []string) *WSHandler {
	ws := &WSHandler{hub: h, auth: auth, origins: origins}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     ws.checkOrigin,
	}
	return ws
}

func (ws *WSHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range ws.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// Fall back to gorilla's same-origin check.
	return strings.EqualFold(origin, "http://"+r.Host) || strings.EqualFold(origin, "https://"+r.Host)
}

func (ws *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	user, _, err := ws.auth.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.LogEntry("warn", "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	sub := ws.hub.Register()
	obs.LogEntry("info", "realtime client connected", map[string]any{"user_id": user.ID})

	go ws.writePump(conn, sub)
	ws.readPump(conn, sub)
}

func (ws *WSHandler) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer func() {
		ws.hub.Unregister(sub)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		ws.handleControl(sub, msg)
	}
}

func (ws *WSHandler) handleControl(sub *Subscriber, msg inbound) {
	switch msg.Event {
	case "joinOrderRoom":
		ws.hub.Join(sub, RoomOrder, msg.Room)
	case "joinTableRoom":
		ws.hub.Join(sub, RoomTable, msg.Room)
	case "joinVenueRoom":
		ws.hub.Join(sub, RoomVenue, msg.Room)
	case "joinOrganizationRoom":
		ws.hub.Join(sub, RoomOrganization, msg.Room)
	case "leaveRoom":
		// Room carries the composite roomType:id key.
		ws.hub.Leave(sub, msg.Room)
	default:
		obs.LogEntry("warn", "unknown realtime control event", map[string]any{"event": msg.Event})
	}
}

func (ws *WSHandler) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case evt, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(outbound{Event: string(evt.Type), Data: evt}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
