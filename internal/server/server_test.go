package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ruks-7/KilimoSmart-sub001/internal/database"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/inventory"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/models"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/orders"
	"github.com/Ruks-7/KilimoSmart-sub001/internal/reservations"
)

func newTestMux(store *database.MemStore) *http.ServeMux {
	ledger := inventory.NewLedger()
	reconciler := reservations.NewReconciler(ledger)
	manager := reservations.NewManager(store, reconciler, 15*time.Minute, 100, nil)
	svc := orders.NewService(store, ledger, manager, reconciler, nil, nil)

	mux := http.NewServeMux()
	New(svc).RegisterRoutes(mux)
	return mux
}

func seedStore() *database.MemStore {
	store := database.NewMemStore()
	store.PutListedItem(models.ListedItem{
		ID: "tomatoes", SellerID: "farmer1", UnitPrice: 3.5,
		QuantityAvailable: 10, Status: models.ListedItemAvailable,
	})
	return store
}

func createBody() []byte {
	body, _ := json.Marshal(models.CreateOrderRequest{
		Items:           []models.OrderItemRequest{{ListedItemID: "tomatoes", Quantity: 2, UnitPrice: 3.5}},
		DeliveryAddress: "12 Acacia Road",
		PaymentMethod:   "mpesa",
	})
	return body
}

func doCreate(t *testing.T, mux *http.ServeMux, buyerID string) models.OrderWithItems {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(createBody()))
	req.Header.Set("X-Buyer-ID", buyerID)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var order models.OrderWithItems
	if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return order
}

func TestCreateOrderEndpoint(t *testing.T) {
	mux := newTestMux(seedStore())
	order := doCreate(t, mux, "buyer1")

	if order.Status != models.OrderPending {
		t.Errorf("Expected pending order, got %s", order.Status)
	}
	if order.Total != 7.0 {
		t.Errorf("Expected total 7.0, got %.2f", order.Total)
	}
	if len(order.Items) != 1 {
		t.Errorf("Expected response to echo line items, got %d", len(order.Items))
	}
}

func TestCreateOrderRequiresPrincipal(t *testing.T) {
	mux := newTestMux(seedStore())

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(createBody()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestCreateOrderStatusMapping(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		sellerID string
		want     int
	}{
		{"invalid json", "{", "", http.StatusBadRequest},
		{"empty items", `{"items":[],"deliveryAddress":"a","paymentMethod":"cash"}`, "", http.StatusBadRequest},
		{"unknown item", `{"items":[{"listedItemId":"nope","quantity":1,"unitPrice":1}],"deliveryAddress":"a","paymentMethod":"cash"}`, "", http.StatusNotFound},
		{"insufficient stock", `{"items":[{"listedItemId":"tomatoes","quantity":99,"unitPrice":1}],"deliveryAddress":"a","paymentMethod":"cash"}`, "", http.StatusConflict},
		{"self purchase", `{"items":[{"listedItemId":"tomatoes","quantity":1,"unitPrice":1}],"deliveryAddress":"a","paymentMethod":"cash"}`, "farmer1", http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(seedStore())
			req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(tc.body)))
			req.Header.Set("X-Buyer-ID", "buyer1")
			if tc.sellerID != "" {
				req.Header.Set("X-Seller-ID", tc.sellerID)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("Expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	store := seedStore()
	mux := newTestMux(store)
	order := doCreate(t, mux, "buyer1")

	req := httptest.NewRequest(http.MethodGet, "/orders/"+order.ID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown order, got %d", rec.Code)
	}
}

func TestCancelOrderEndpoint(t *testing.T) {
	store := seedStore()
	mux := newTestMux(store)
	order := doCreate(t, mux, "buyer1")

	// A stranger may not cancel.
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/orders/%s/cancel", order.ID), nil)
	req.Header.Set("X-Buyer-ID", "intruder")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/orders/%s/cancel", order.ID), nil)
	req.Header.Set("X-Buyer-ID", "buyer1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// A second cancel hits the state guard.
	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("/orders/%s/cancel", order.ID), nil)
	req.Header.Set("X-Buyer-ID", "buyer1")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for double cancel, got %d", rec.Code)
	}
}

func TestPaymentStatusEndpoint(t *testing.T) {
	store := seedStore()
	mux := newTestMux(store)
	order := doCreate(t, mux, "buyer1")

	body := []byte(`{"status":"completed"}`)
	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/orders/%s/payment", order.ID), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/orders/%s/payment", order.ID), bytes.NewReader([]byte(`{"status":"refunded"}`)))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown status, got %d", rec.Code)
	}
}
