package httpapi

import (
	"net/http"
	"strings"

	"tavolo.app/internal/audit"
	"tavolo.app/internal/hub"
	"tavolo.app/internal/identity"
	"tavolo.app/internal/ids"
)

// Order flow endpoints are thin event producers: the kitchen/waiter apps
// subscribe to rooms over the websocket and these handlers feed them.

type createOrderRequest struct {
	TableID        string `json:"tableId"`
	VenueID        string `json:"venueId"`
	OrganizationID string `json:"organizationId"`
	Message        string `json:"message"`
}

type statusUpdateRequest struct {
	Status         string `json:"status"`
	TableID        string `json:"tableId"`
	VenueID        string `json:"venueId"`
	OrganizationID string `json:"organizationId"`
	Message        string `json:"message"`
}

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if strings.TrimSpace(req.VenueID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "venueId is required")
		return
	}
	user, _ := identity.UserFromContext(r.Context())
	orgID := req.OrganizationID
	if orgID == "" && user != nil {
		orgID = user.OrganizationID
	}

	evt := hub.Event{
		Type:           hub.EventNewOrder,
		OrderID:        ids.New(),
		Status:         "created",
		TableID:        req.TableID,
		VenueID:        req.VenueID,
		OrganizationID: orgID,
		Timestamp:      a.now().UTC(),
		Message:        req.Message,
	}
	a.hub.Publish(evt)
	_ = audit.LogEvent(r.Context(), "order.created", map[string]any{"order_id": evt.OrderID, "venue_id": evt.VenueID})
	writeJSON(w, http.StatusCreated, map[string]string{"orderId": evt.OrderID})
}

func (a *API) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if !ids.IsValid(orderID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid order id")
		return
	}
	var req statusUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "status is required")
		return
	}

	evt := hub.Event{
		Type:           hub.EventOrderUpdated,
		OrderID:        orderID,
		Status:         req.Status,
		TableID:        req.TableID,
		VenueID:        req.VenueID,
		OrganizationID: req.OrganizationID,
		Timestamp:      a.now().UTC(),
		Message:        req.Message,
	}
	a.hub.Publish(evt)
	_ = audit.LogEvent(r.Context(), "order.status_changed", map[string]any{"order_id": orderID, "status": req.Status})
	writeJSON(w, http.StatusOK, map[string]string{"orderId": orderID, "status": req.Status})
}

func (a *API) handleOrderItemStatus(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	itemID := r.PathValue("itemId")
	if !ids.IsValid(orderID) || strings.TrimSpace(itemID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid order or item id")
		return
	}
	var req statusUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed body")
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "status is required")
		return
	}

	evt := hub.Event{
		Type:           hub.EventOrderItemUpdated,
		OrderID:        orderID,
		ItemID:         itemID,
		Status:         req.Status,
		TableID:        req.TableID,
		VenueID:        req.VenueID,
		OrganizationID: req.OrganizationID,
		Timestamp:      a.now().UTC(),
		Message:        req.Message,
	}
	a.hub.Publish(evt)
	_ = audit.LogEvent(r.Context(), "order.item_status_changed", map[string]any{
		"order_id": orderID, "item_id": itemID, "status": req.Status,
	})
	writeJSON(w, http.StatusOK, map[string]string{"orderId": orderID, "itemId": itemID, "status": req.Status})
}
