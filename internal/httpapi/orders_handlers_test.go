package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tavolo.app/internal/hub"
	"tavolo.app/internal/identity"
	"tavolo.app/internal/ids"
)

func loginFor(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	rec := postJSON(t, env.api, "/v1/auth/login", map[string]string{
		"email": email, "password": "s3cretpass", "fingerprint": "fp-1",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return decodeBody[sessionResponse](t, rec).AccessToken
}

func postAuthed(t *testing.T, env *testEnv, token, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.api.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrderRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := postJSON(t, env.api, "/v1/orders", map[string]string{"venueId": "ven-1"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateOrderPublishesNewOrder(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser(t, "owner@example.com", "s3cretpass", identity.StatusActive, true)
	token := loginFor(t, env, "owner@example.com")

	sub := env.hub.Register()
	defer env.hub.Unregister(sub)
	env.hub.Join(sub, hub.RoomVenue, "ven-1")

	rec := postAuthed(t, env, token, "/v1/orders", map[string]string{
		"venueId": "ven-1", "tableId": "tab-4",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]string](t, rec)
	orderID := body["orderId"]
	if !ids.IsValid(orderID) {
		t.Fatalf("expected a valid order id, got %q", orderID)
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != hub.EventNewOrder || evt.OrderID != orderID || evt.TableID != "tab-4" {
			t.Fatalf("unexpected event %+v", evt)
		}
		if evt.OrganizationID != user.OrganizationID {
			t.Fatalf("organization should default to the caller's, got %q", evt.OrganizationID)
		}
	default:
		t.Fatal("venue subscriber received nothing")
	}
}

func TestCreateOrderRequiresVenue(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "owner@example.com", "s3cretpass", identity.StatusActive, true)
	token := loginFor(t, env, "owner@example.com")

	rec := postAuthed(t, env, token, "/v1/orders", map[string]string{"tableId": "tab-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderStatusPublishesToOrderRoom(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "owner@example.com", "s3cretpass", identity.StatusActive, true)
	token := loginFor(t, env, "owner@example.com")

	orderID := ids.New()
	sub := env.hub.Register()
	defer env.hub.Unregister(sub)
	env.hub.Join(sub, hub.RoomOrder, orderID)

	rec := postAuthed(t, env, token, "/v1/orders/"+orderID+"/status", map[string]string{
		"status": "preparing",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != hub.EventOrderUpdated || evt.Status != "preparing" {
			t.Fatalf("unexpected event %+v", evt)
		}
	default:
		t.Fatal("order subscriber received nothing")
	}
}

func TestOrderStatusRejectsBadID(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "owner@example.com", "s3cretpass", identity.StatusActive, true)
	token := loginFor(t, env, "owner@example.com")

	rec := postAuthed(t, env, token, "/v1/orders/not-a-ulid/status", map[string]string{"status": "ready"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestOrderItemStatusPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "owner@example.com", "s3cretpass", identity.StatusActive, true)
	token := loginFor(t, env, "owner@example.com")

	orderID := ids.New()
	sub := env.hub.Register()
	defer env.hub.Unregister(sub)
	env.hub.Join(sub, hub.RoomOrder, orderID)

	rec := postAuthed(t, env, token, "/v1/orders/"+orderID+"/items/item-9/status", map[string]string{
		"status": "served",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case evt := <-sub.Events():
		if evt.Type != hub.EventOrderItemUpdated || evt.ItemID != "item-9" || evt.Status != "served" {
			t.Fatalf("unexpected event %+v", evt)
		}
	default:
		t.Fatal("order subscriber received nothing")
	}
}
