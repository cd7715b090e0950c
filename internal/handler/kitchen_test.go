package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/handler"
	"github.com/kiwari-pos/order-core/internal/kitchen"
	"github.com/kiwari-pos/order-core/internal/middleware"
	"github.com/kiwari-pos/order-core/internal/service"
)

// --- Mocks ---

type mockKitchenService struct {
	completeFn func(ctx context.Context, outletID, orderID, itemID uuid.UUID) (service.CompleteItemResult, error)
}

func (m *mockKitchenService) CompleteItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (service.CompleteItemResult, error) {
	return m.completeFn(ctx, outletID, orderID, itemID)
}

type mockItemApplier struct {
	applied []database.OrderItem
}

func (m *mockItemApplier) ApplyItemRow(row database.OrderItem) {
	m.applied = append(m.applied, row)
}

func setupKitchenRouter(svc handler.KitchenServicer, board handler.BoardReader, applier handler.ItemApplier) *chi.Mux {
	h := handler.NewKitchenHandler(svc, board, applier)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/outlets/{oid}/kitchen", h.RegisterRoutes)
	return r
}

// --- Board ---

func TestKitchenBoard_Snapshot(t *testing.T) {
	outletID := uuid.New()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	board := kitchen.NewBoard(kitchen.DefaultConfig(), kitchen.WithClock(func() time.Time { return now }))

	orderID := uuid.New()
	board.ApplyOrder(kitchen.OrderHeader{
		ID:            orderID,
		OutletID:      outletID,
		OrderNumber:   "KWR-001",
		OrderType:     enum.OrderTypeDineIn,
		PaymentStatus: enum.PaymentStatusPending,
		CreatedAt:     now.Add(-30 * time.Second),
	})
	board.ApplyItem(kitchen.Item{ID: uuid.New(), OrderID: orderID, Name: "Burger", Quantity: 1, IsCompleted: true})
	board.ApplyItem(kitchen.Item{ID: uuid.New(), OrderID: orderID, Name: "Fries", Quantity: 2})
	board.ApplyOrder(kitchen.OrderHeader{ID: uuid.New(), OutletID: uuid.New(), CreatedAt: now})

	claims := testClaims(outletID)
	claims.Role = "KITCHEN"
	rr := doAuthRequest(t, setupKitchenRouter(&mockKitchenService{}, board, nil), "GET", "/outlets/"+outletID.String()+"/kitchen/orders", nil, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	orders := decodeJSON(t, rr)["orders"].([]interface{})
	if len(orders) != 1 {
		t.Fatalf("orders: got %d, want 1 (other outlet excluded)", len(orders))
	}
	o := orders[0].(map[string]interface{})
	if o["progress"].(float64) != 50 {
		t.Errorf("progress: got %v, want 50", o["progress"])
	}
	if o["is_new"] != true {
		t.Errorf("is_new: got %v, want true", o["is_new"])
	}
	if o["is_complete"] != false {
		t.Errorf("is_complete: got %v, want false", o["is_complete"])
	}
}

func TestKitchenBoard_EmptyIsArray(t *testing.T) {
	outletID := uuid.New()
	board := kitchen.NewBoard(kitchen.DefaultConfig())
	rr := doAuthRequest(t, setupKitchenRouter(&mockKitchenService{}, board, nil), "GET", "/outlets/"+outletID.String()+"/kitchen/orders", nil, testClaims(outletID))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if body := rr.Body.String(); body != "{\"orders\":[]}\n" {
		t.Errorf("body: got %q", body)
	}
}

// --- Complete item ---

func TestKitchenComplete_Changed(t *testing.T) {
	outletID, orderID, itemID := uuid.New(), uuid.New(), uuid.New()
	completedAt := time.Now()
	svc := &mockKitchenService{
		completeFn: func(ctx context.Context, oid, ordID, iid uuid.UUID) (service.CompleteItemResult, error) {
			if oid != outletID || ordID != orderID || iid != itemID {
				t.Errorf("ids: got %s/%s/%s", oid, ordID, iid)
			}
			item := testOrderItem(orderID, `{}`)
			item.ID = itemID
			item.IsCompleted = true
			item.CompletedAt = pgtype.Timestamptz{Time: completedAt, Valid: true}
			return service.CompleteItemResult{Item: item, Changed: true}, nil
		},
	}
	applier := &mockItemApplier{}

	path := "/outlets/" + outletID.String() + "/kitchen/orders/" + orderID.String() + "/items/" + itemID.String() + "/complete"
	rr := doAuthRequest(t, setupKitchenRouter(svc, kitchen.NewBoard(kitchen.DefaultConfig()), applier), "POST", path, nil, testClaims(outletID))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	if resp["changed"] != true {
		t.Errorf("changed: got %v, want true", resp["changed"])
	}
	item := resp["item"].(map[string]interface{})
	if item["is_completed"] != true || item["completed_at"] == nil {
		t.Errorf("item: got %v", item)
	}
	if len(applier.applied) != 1 || applier.applied[0].ID != itemID {
		t.Errorf("board must receive the completed item, got %v", applier.applied)
	}
}

func TestKitchenComplete_AlreadyCompletedIsNoOp(t *testing.T) {
	outletID, orderID := uuid.New(), uuid.New()
	svc := &mockKitchenService{
		completeFn: func(ctx context.Context, oid, ordID, iid uuid.UUID) (service.CompleteItemResult, error) {
			item := testOrderItem(ordID, `{}`)
			item.IsCompleted = true
			return service.CompleteItemResult{Item: item, Changed: false}, nil
		},
	}
	applier := &mockItemApplier{}

	path := "/outlets/" + outletID.String() + "/kitchen/orders/" + orderID.String() + "/items/" + uuid.New().String() + "/complete"
	rr := doAuthRequest(t, setupKitchenRouter(svc, kitchen.NewBoard(kitchen.DefaultConfig()), applier), "POST", path, nil, testClaims(outletID))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if resp := decodeJSON(t, rr); resp["changed"] != false {
		t.Errorf("changed: got %v, want false", resp["changed"])
	}
	if len(applier.applied) != 0 {
		t.Errorf("no-op completion must not touch the board")
	}
}

func TestKitchenComplete_Errors(t *testing.T) {
	outletID, orderID := uuid.New(), uuid.New()
	tests := []struct {
		name     string
		itemID   string
		err      error
		wantCode int
	}{
		{"not found", uuid.New().String(), service.ErrOrderItemNotFound, http.StatusNotFound},
		{"store failure", uuid.New().String(), errors.New("timeout"), http.StatusInternalServerError},
		{"invalid item id", "nope", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockKitchenService{
				completeFn: func(ctx context.Context, oid, ordID, iid uuid.UUID) (service.CompleteItemResult, error) {
					return service.CompleteItemResult{}, tt.err
				},
			}
			path := "/outlets/" + outletID.String() + "/kitchen/orders/" + orderID.String() + "/items/" + tt.itemID + "/complete"
			rr := doAuthRequest(t, setupKitchenRouter(svc, kitchen.NewBoard(kitchen.DefaultConfig()), nil), "POST", path, nil, testClaims(outletID))
			if rr.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d", rr.Code, tt.wantCode)
			}
		})
	}
}
