package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/auth"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/handler"
	"github.com/kiwari-pos/order-core/internal/middleware"
	"github.com/kiwari-pos/order-core/internal/service"
	"github.com/shopspring/decimal"
)

// --- Mock OrderSubmitter ---

type mockOrderSubmitter struct {
	submitFn func(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error)
}

func (m *mockOrderSubmitter) SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

// --- Test helpers ---

func setupCartRouter(svc *mockOrderSubmitter) (*chi.Mux, *handler.CartSessions) {
	sessions := handler.NewCartSessions()
	h := handler.NewCartHandler(svc, sessions, decimal.NewFromInt(15))
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(testJWTSecret))
	r.Route("/outlets/{oid}/carts", h.RegisterRoutes)
	return r, sessions
}

// burgerItem is the catalog entry sent with item requests.
func burgerItem() map[string]interface{} {
	return map[string]interface{}{
		"id":         "burger",
		"name":       "Burger",
		"base_price": "10",
		"ingredients": []map[string]interface{}{
			{"id": "egg", "name": "Egg", "extra_eligible": true, "extra_price": "2"},
			{"id": "onion", "name": "Onion", "removable": true},
			{"id": "patty", "name": "Patty"},
		},
		"replacement_groups": []map[string]interface{}{
			{"name": "bread", "options": []map[string]interface{}{
				{"id": "brown", "name": "Brown bread", "price_diff": "1.5"},
				{"id": "lettuce", "name": "Lettuce wrap", "price_diff": "-1"},
			}},
		},
	}
}

func withEgg() map[string]interface{} {
	// Client-sent price is ignored in favour of the catalog.
	return map[string]interface{}{"extras": []map[string]interface{}{{"id": "egg", "price": "100"}}}
}

func createCart(t *testing.T, router http.Handler, outletID uuid.UUID, claims *auth.Claims) string {
	t.Helper()
	rr := doAuthRequest(t, router, "POST", "/outlets/"+outletID.String()+"/carts", nil, claims)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create cart: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	return decodeJSON(t, rr)["id"].(string)
}

func addBurger(t *testing.T, router http.Handler, cartPath string, quantity int, custom map[string]interface{}, claims *auth.Claims) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{"menu_item": burgerItem(), "quantity": quantity}
	if custom != nil {
		body["customization"] = custom
	}
	rr := doAuthRequest(t, router, "POST", cartPath+"/items", body, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("add item: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	return decodeJSON(t, rr)
}

func cartItems(resp map[string]interface{}) []interface{} {
	items, _ := resp["items"].([]interface{})
	return items
}

func testSubmitResult(req service.SubmitOrderRequest) *service.SubmitOrderResult {
	order := testOrder(req.OutletID, enum.PaymentStatusPending)
	order.TakenBy = req.TakenBy
	order.OrderType = req.Checkout.OrderType
	items := make([]database.OrderItem, len(req.Cart.Items))
	for i := range req.Cart.Items {
		items[i] = testOrderItem(order.ID, `{"extras":[],"removals":[],"replacements":[]}`)
	}
	return &service.SubmitOrderResult{Order: order, Items: items}
}

// --- Cart engine over HTTP ---

func TestCart_AddMergesIdenticalCustomization(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)

	addBurger(t, router, cartPath, 0, withEgg(), claims)
	resp := addBurger(t, router, cartPath, 0, withEgg(), claims)

	items := cartItems(resp)
	if len(items) != 1 {
		t.Fatalf("lines: got %d, want 1", len(items))
	}
	line := items[0].(map[string]interface{})
	if line["quantity"].(float64) != 2 {
		t.Errorf("quantity: got %v, want 2", line["quantity"])
	}
	if line["unit_price"] != "12.00" {
		t.Errorf("unit_price: got %v, want 12.00 (catalog extra price)", line["unit_price"])
	}
	if resp["subtotal"] != "24.00" || resp["vat_amount"] != "3.60" || resp["total"] != "27.60" {
		t.Errorf("totals: got subtotal=%v vat=%v total=%v", resp["subtotal"], resp["vat_amount"], resp["total"])
	}
}

func TestCart_DifferentCustomizationStaysDistinct(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)

	addBurger(t, router, cartPath, 1, nil, claims)
	resp := addBurger(t, router, cartPath, 1, withEgg(), claims)

	if n := len(cartItems(resp)); n != 2 {
		t.Fatalf("lines: got %d, want 2", n)
	}
}

func TestCart_AddRejectsInvalidCustomization(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)

	tests := []struct {
		name   string
		custom map[string]interface{}
	}{
		{"extra not eligible", map[string]interface{}{"extras": []map[string]interface{}{{"id": "onion"}}}},
		{"removal not allowed", map[string]interface{}{"removals": []map[string]interface{}{{"id": "patty"}}}},
		{"unknown replacement", map[string]interface{}{"replacements": []map[string]interface{}{{"id": "rye", "group": "bread"}}}},
		{"two replacements in group", map[string]interface{}{"replacements": []map[string]interface{}{
			{"id": "brown", "group": "bread"}, {"id": "lettuce", "group": "bread"},
		}}},
		{"extra listed twice", map[string]interface{}{"extras": []map[string]interface{}{{"id": "egg"}, {"id": "egg"}}}},
		{"extra and removal of one ingredient", map[string]interface{}{
			"extras":   []map[string]interface{}{{"id": "egg"}},
			"removals": []map[string]interface{}{{"id": "egg"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]interface{}{"menu_item": burgerItem(), "customization": tt.custom}
			rr := doAuthRequest(t, router, "POST", cartPath+"/items", body, claims)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
			}
			rr = doAuthRequest(t, router, "POST", "/outlets/"+outletID.String()+"/carts/preview", body, claims)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("preview status: got %d, want %d; body: %s", rr.Code, http.StatusBadRequest, rr.Body.String())
			}
		})
	}

	rr := doAuthRequest(t, router, "GET", cartPath, nil, claims)
	if items := cartItems(decodeJSON(t, rr)); len(items) != 0 {
		t.Fatalf("rejected adds must leave the cart empty, got %d lines", len(items))
	}
}

func TestCart_UnknownLineIsNoOp(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
	addBurger(t, router, cartPath, 2, nil, claims)

	missing := uuid.New().String()
	for _, op := range []struct{ method, path string }{
		{"POST", cartPath + "/items/" + missing + "/increment"},
		{"POST", cartPath + "/items/" + missing + "/decrement"},
		{"DELETE", cartPath + "/items/" + missing},
	} {
		rr := doAuthRequest(t, router, op.method, op.path, nil, claims)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s %s: got %d, want %d", op.method, op.path, rr.Code, http.StatusOK)
		}
		items := cartItems(decodeJSON(t, rr))
		if len(items) != 1 || items[0].(map[string]interface{})["quantity"].(float64) != 2 {
			t.Fatalf("%s %s changed the cart: %v", op.method, op.path, items)
		}
	}
}

func TestCart_IncrementDecrementRemove(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
	resp := addBurger(t, router, cartPath, 1, nil, claims)
	lineID := cartItems(resp)[0].(map[string]interface{})["id"].(string)

	rr := doAuthRequest(t, router, "POST", cartPath+"/items/"+lineID+"/increment", nil, claims)
	if q := cartItems(decodeJSON(t, rr))[0].(map[string]interface{})["quantity"].(float64); q != 2 {
		t.Fatalf("after increment: got %v, want 2", q)
	}

	doAuthRequest(t, router, "POST", cartPath+"/items/"+lineID+"/decrement", nil, claims)
	rr = doAuthRequest(t, router, "POST", cartPath+"/items/"+lineID+"/decrement", nil, claims)
	resp = decodeJSON(t, rr)
	if n := len(cartItems(resp)); n != 0 {
		t.Fatalf("decrement at 1 must remove the line, got %d lines", n)
	}
	if resp["total"] != "0.00" {
		t.Errorf("total: got %v, want 0.00", resp["total"])
	}
}

func TestCart_UpdateCustomizationMergesLines(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)

	resp := addBurger(t, router, cartPath, 2, nil, claims)
	plainID := cartItems(resp)[0].(map[string]interface{})["id"].(string)
	resp = addBurger(t, router, cartPath, 1, withEgg(), claims)
	eggID := cartItems(resp)[1].(map[string]interface{})["id"].(string)

	body := map[string]interface{}{"menu_item": burgerItem(), "customization": withEgg()}
	rr := doAuthRequest(t, router, "PUT", cartPath+"/items/"+plainID+"/customization", body, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	items := cartItems(decodeJSON(t, rr))
	if len(items) != 1 {
		t.Fatalf("lines: got %d, want 1", len(items))
	}
	line := items[0].(map[string]interface{})
	if line["id"] != eggID {
		t.Errorf("surviving line: got %v, want %s", line["id"], eggID)
	}
	if line["quantity"].(float64) != 3 {
		t.Errorf("quantity: got %v, want 3", line["quantity"])
	}
}

func TestCart_UpdateCustomizationMenuItemMismatch(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
	resp := addBurger(t, router, cartPath, 1, nil, claims)
	lineID := cartItems(resp)[0].(map[string]interface{})["id"].(string)

	other := burgerItem()
	other["id"] = "fries"
	body := map[string]interface{}{"menu_item": other}
	rr := doAuthRequest(t, router, "PUT", cartPath+"/items/"+lineID+"/customization", body, claims)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCart_Clear(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
	addBurger(t, router, cartPath, 1, nil, claims)
	addBurger(t, router, cartPath, 1, withEgg(), claims)

	rr := doAuthRequest(t, router, "DELETE", cartPath+"/items", nil, claims)
	if n := len(cartItems(decodeJSON(t, rr))); n != 0 {
		t.Fatalf("lines after clear: got %d, want 0", n)
	}
}

func TestCart_Preview(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)

	body := map[string]interface{}{
		"menu_item": burgerItem(),
		"customization": map[string]interface{}{
			"extras":       []map[string]interface{}{{"id": "egg"}},
			"replacements": []map[string]interface{}{{"id": "lettuce", "group": "bread"}},
		},
	}
	rr := doAuthRequest(t, router, "POST", "/outlets/"+outletID.String()+"/carts/preview", body, claims)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	if resp["extras_total"] != "2.00" || resp["replacement_diff"] != "-1.00" || resp["total"] != "11.00" {
		t.Errorf("breakdown: got %v", resp)
	}
}

// --- Session ownership ---

func TestCart_Ownership(t *testing.T) {
	router, _ := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartID := createCart(t, router, outletID, claims)

	rr := doAuthRequest(t, router, "GET", "/outlets/"+outletID.String()+"/carts/"+cartID, nil, testClaims(outletID))
	if rr.Code != http.StatusForbidden {
		t.Errorf("other user: got %d, want %d", rr.Code, http.StatusForbidden)
	}

	rr = doAuthRequest(t, router, "GET", "/outlets/"+uuid.New().String()+"/carts/"+cartID, nil, claims)
	if rr.Code != http.StatusNotFound {
		t.Errorf("other outlet: got %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = doAuthRequest(t, router, "GET", "/outlets/"+outletID.String()+"/carts/"+uuid.New().String(), nil, claims)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown cart: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestCart_Discard(t *testing.T) {
	router, sessions := setupCartRouter(&mockOrderSubmitter{})
	outletID := uuid.New()
	claims := testClaims(outletID)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)

	rr := doAuthRequest(t, router, "DELETE", cartPath, nil, claims)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNoContent)
	}
	if sessions.Len() != 0 {
		t.Errorf("sessions: got %d, want 0", sessions.Len())
	}
	rr = doAuthRequest(t, router, "GET", cartPath, nil, claims)
	if rr.Code != http.StatusNotFound {
		t.Errorf("after discard: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// --- Checkout ---

func TestCartCheckout_SuccessClearsCart(t *testing.T) {
	outletID := uuid.New()
	claims := testClaims(outletID)
	var got service.SubmitOrderRequest
	svc := &mockOrderSubmitter{
		submitFn: func(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
			got = req
			return testSubmitResult(req), nil
		},
	}
	router, _ := setupCartRouter(svc)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
	addBurger(t, router, cartPath, 2, withEgg(), claims)

	body := map[string]interface{}{"order_type": "DINE_IN", "paid_now": true, "payment_method": "CASH"}
	rr := doAuthRequest(t, router, "POST", cartPath+"/checkout", body, claims)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeJSON(t, rr)
	if resp["order_number"] != "KWR-001" {
		t.Errorf("order_number: got %v", resp["order_number"])
	}
	if n := len(resp["items"].([]interface{})); n != 1 {
		t.Errorf("items: got %d, want 1", n)
	}

	if got.OutletID != outletID || got.TakenBy != claims.UserID {
		t.Errorf("request: outlet=%s taken_by=%s", got.OutletID, got.TakenBy)
	}
	if len(got.Cart.Items) != 1 || got.Cart.Items[0].Quantity != 2 {
		t.Errorf("cart snapshot: %+v", got.Cart.Items)
	}
	if !got.Cart.Total.Equal(decimal.RequireFromString("27.6")) {
		t.Errorf("cart total: got %s, want 27.6", got.Cart.Total)
	}
	if !got.Checkout.PaidNow || got.Checkout.PaymentMethod != "CASH" {
		t.Errorf("checkout: %+v", got.Checkout)
	}

	rr = doAuthRequest(t, router, "GET", cartPath, nil, claims)
	if n := len(cartItems(decodeJSON(t, rr))); n != 0 {
		t.Errorf("cart after success: got %d lines, want 0", n)
	}
}

func TestCartCheckout_FailureKeepsCart(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  int
		wantFatal bool
	}{
		{"validation", service.ErrCustomerNameRequired, http.StatusBadRequest, false},
		{"wrapped validation", errors.Join(service.ErrEmptyItems), http.StatusBadRequest, false},
		{"write failure", &service.SubmissionError{Stage: service.StageItems, OrderNumber: "KWR-007", Err: errors.New("disk full")}, http.StatusInternalServerError, false},
		{"fatal", &service.SubmissionError{Stage: service.StageItems, OrderNumber: "KWR-007", Fatal: true, Err: errors.New("rollback failed")}, http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outletID := uuid.New()
			claims := testClaims(outletID)
			svc := &mockOrderSubmitter{
				submitFn: func(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
					return nil, tt.err
				},
			}
			router, _ := setupCartRouter(svc)
			cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
			addBurger(t, router, cartPath, 3, nil, claims)

			body := map[string]interface{}{"order_type": "SELF_PICKUP"}
			rr := doAuthRequest(t, router, "POST", cartPath+"/checkout", body, claims)
			if rr.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d; body: %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			resp := decodeJSON(t, rr)
			if fatal, _ := resp["fatal"].(bool); fatal != tt.wantFatal {
				t.Errorf("fatal: got %v, want %v", resp["fatal"], tt.wantFatal)
			}
			if tt.wantFatal && resp["order_number"] != "KWR-007" {
				t.Errorf("order_number: got %v", resp["order_number"])
			}

			rr = doAuthRequest(t, router, "GET", cartPath, nil, claims)
			resp = decodeJSON(t, rr)
			items := cartItems(resp)
			if len(items) != 1 || items[0].(map[string]interface{})["quantity"].(float64) != 3 {
				t.Fatalf("cart must be unchanged after failure, got %v", items)
			}
			if resp["submitting"] != false {
				t.Errorf("cart must be editable again")
			}
		})
	}
}

func TestCartCheckout_InFlightRejectsChanges(t *testing.T) {
	outletID := uuid.New()
	claims := testClaims(outletID)
	started := make(chan struct{})
	release := make(chan struct{})
	svc := &mockOrderSubmitter{
		submitFn: func(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error) {
			close(started)
			<-release
			return testSubmitResult(req), nil
		},
	}
	router, _ := setupCartRouter(svc)
	cartPath := "/outlets/" + outletID.String() + "/carts/" + createCart(t, router, outletID, claims)
	addBurger(t, router, cartPath, 1, nil, claims)

	body := map[string]interface{}{"order_type": "TAKEAWAY"}
	first := newAuthRequest(t, "POST", cartPath+"/checkout", body, claims)
	done := make(chan *httptest.ResponseRecorder)
	go func() {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, first)
		done <- rr
	}()
	<-started

	rr := doAuthRequest(t, router, "POST", cartPath+"/checkout", body, claims)
	if rr.Code != http.StatusConflict {
		t.Errorf("second checkout: got %d, want %d", rr.Code, http.StatusConflict)
	}
	rr = doAuthRequest(t, router, "POST", cartPath+"/items", map[string]interface{}{"menu_item": burgerItem()}, claims)
	if rr.Code != http.StatusConflict {
		t.Errorf("mutation during checkout: got %d, want %d", rr.Code, http.StatusConflict)
	}
	rr = doAuthRequest(t, router, "DELETE", cartPath, nil, claims)
	if rr.Code != http.StatusConflict {
		t.Errorf("discard during checkout: got %d, want %d", rr.Code, http.StatusConflict)
	}

	close(release)
	if rr := <-done; rr.Code != http.StatusCreated {
		t.Fatalf("first checkout: got %d, want %d", rr.Code, http.StatusCreated)
	}
}
