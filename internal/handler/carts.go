package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/cart"
	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/kiwari-pos/order-core/internal/menu"
	"github.com/kiwari-pos/order-core/internal/middleware"
	"github.com/kiwari-pos/order-core/internal/pricing"
	"github.com/kiwari-pos/order-core/internal/service"
	"github.com/shopspring/decimal"
)

// OrderSubmitter defines the service method needed to check out a cart.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*service.SubmitOrderResult, error)
}

// CartHandler handles cart session endpoints.
type CartHandler struct {
	svc      OrderSubmitter
	sessions *CartSessions
	vatRate  decimal.Decimal
}

// NewCartHandler creates a new CartHandler. New carts charge vatRate percent.
func NewCartHandler(svc OrderSubmitter, sessions *CartSessions, vatRate decimal.Decimal) *CartHandler {
	return &CartHandler{svc: svc, sessions: sessions, vatRate: vatRate}
}

// RegisterRoutes registers cart endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/carts
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/preview", h.Preview)
	r.Route("/{cid}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Discard)
		r.Post("/items", h.AddItem)
		r.Delete("/items", h.Clear)
		r.Post("/items/{lid}/increment", h.Increment)
		r.Post("/items/{lid}/decrement", h.Decrement)
		r.Put("/items/{lid}/customization", h.UpdateCustomization)
		r.Delete("/items/{lid}", h.RemoveItem)
		r.Post("/checkout", h.Checkout)
	})
}

// --- Request / Response types ---

type addItemRequest struct {
	MenuItem      menu.Item          `json:"menu_item"`
	Quantity      int                `json:"quantity"`
	Customization customization.Data `json:"customization"`
}

type updateCustomizationRequest struct {
	MenuItem      menu.Item          `json:"menu_item"`
	Customization customization.Data `json:"customization"`
}

type previewRequest struct {
	MenuItem      menu.Item          `json:"menu_item"`
	Customization customization.Data `json:"customization"`
}

type checkoutRequest struct {
	OrderType      string `json:"order_type"`
	CustomerName   string `json:"customer_name"`
	CustomerMobile string `json:"customer_mobile"`
	PaidNow        bool   `json:"paid_now"`
	PaymentMethod  string `json:"payment_method"`
	Notes          string `json:"notes"`
}

type cartLineResponse struct {
	ID                uuid.UUID          `json:"id"`
	MenuItemID        string             `json:"menu_item_id"`
	Name              string             `json:"name"`
	BasePrice         string             `json:"base_price"`
	Quantity          int                `json:"quantity"`
	Customization     customization.Data `json:"customization"`
	CustomizationHash string             `json:"customization_hash"`
	UnitPrice         string             `json:"unit_price"`
	LineTotal         string             `json:"line_total"`
}

type cartResponse struct {
	ID         uuid.UUID          `json:"id"`
	OutletID   uuid.UUID          `json:"outlet_id"`
	Items      []cartLineResponse `json:"items"`
	Subtotal   string             `json:"subtotal"`
	VATRate    string             `json:"vat_rate"`
	VATAmount  string             `json:"vat_amount"`
	Total      string             `json:"total"`
	Submitting bool               `json:"submitting"`
}

type previewResponse struct {
	BasePrice       string             `json:"base_price"`
	ExtrasTotal     string             `json:"extras_total"`
	ReplacementDiff string             `json:"replacement_diff"`
	Total           string             `json:"total"`
	Customization   customization.Data `json:"customization"`
}

// --- Handlers ---

// Create handles POST /outlets/{oid}/carts.
func (h *CartHandler) Create(w http.ResponseWriter, r *http.Request) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	sess := h.sessions.open(outletID, claims.UserID, h.vatRate)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	writeJSON(w, http.StatusCreated, toCartResponse(sess))
}

// Preview handles POST /outlets/{oid}/carts/preview. It prices a
// customization without touching any cart.
func (h *CartHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	c, err := resolveCustomization(req.MenuItem, req.Customization)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	b := pricing.Preview(req.MenuItem.BasePrice, c)
	writeJSON(w, http.StatusOK, previewResponse{
		BasePrice:       b.BasePrice.StringFixed(2),
		ExtrasTotal:     b.ExtrasTotal.StringFixed(2),
		ReplacementDiff: b.ReplacementDiff.StringFixed(2),
		Total:           b.Total.StringFixed(2),
		Customization:   c,
	})
}

// Get handles GET /outlets/{oid}/carts/{cid}.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	writeJSON(w, http.StatusOK, toCartResponse(sess))
}

// Discard handles DELETE /outlets/{oid}/carts/{cid}.
func (h *CartHandler) Discard(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if !h.sessions.discardIdle(sess) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cart is being submitted"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /outlets/{oid}/carts/{cid}/items.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be >= 0"})
		return
	}
	c, err := resolveCustomization(req.MenuItem, req.Customization)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	h.mutate(w, r, func(ct *cart.Cart) error {
		ct.AddItem(cart.AddRequest{
			MenuItemID:    req.MenuItem.ID,
			Name:          req.MenuItem.Name,
			BasePrice:     req.MenuItem.BasePrice,
			Quantity:      req.Quantity,
			Customization: c,
		})
		return nil
	})
}

// Increment handles POST /outlets/{oid}/carts/{cid}/items/{lid}/increment.
func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	lineID, ok := parseLineID(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(ct *cart.Cart) error {
		ct.IncrementItem(lineID)
		return nil
	})
}

// Decrement handles POST /outlets/{oid}/carts/{cid}/items/{lid}/decrement.
// A line at quantity 1 is removed.
func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	lineID, ok := parseLineID(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(ct *cart.Cart) error {
		ct.DecrementItem(lineID)
		return nil
	})
}

// UpdateCustomization handles PUT /outlets/{oid}/carts/{cid}/items/{lid}/customization.
// The line is re-priced from the submitted catalog entry and may merge into
// an existing line with the same customization.
func (h *CartHandler) UpdateCustomization(w http.ResponseWriter, r *http.Request) {
	lineID, ok := parseLineID(w, r)
	if !ok {
		return
	}

	var req updateCustomizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	c, err := resolveCustomization(req.MenuItem, req.Customization)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	h.mutate(w, r, func(ct *cart.Cart) error {
		line, found := ct.Line(lineID)
		if !found {
			return nil
		}
		if line.MenuItemID != req.MenuItem.ID {
			return errMenuItemMismatch
		}
		base := req.MenuItem.BasePrice
		ct.UpdateItemCustomization(lineID, c, &base)
		return nil
	})
}

// RemoveItem handles DELETE /outlets/{oid}/carts/{cid}/items/{lid}.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := parseLineID(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(ct *cart.Cart) error {
		ct.RemoveItem(lineID)
		return nil
	})
}

// Clear handles DELETE /outlets/{oid}/carts/{cid}/items.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ct *cart.Cart) error {
		ct.ClearCart()
		return nil
	})
}

// Checkout handles POST /outlets/{oid}/carts/{cid}/checkout.
//
// The cart is frozen while the order is written and cleared only after the
// write succeeds. Any failure leaves the cart exactly as it was.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cart not found"})
		return
	}
	if sess.submitting {
		sess.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cart is already being submitted"})
		return
	}
	state := sess.cart.State()
	sess.submitting = true
	sess.mu.Unlock()

	result, err := h.svc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		OutletID: sess.outletID,
		TakenBy:  sess.ownerID,
		Cart:     state,
		Checkout: service.Checkout{
			OrderType:      req.OrderType,
			CustomerName:   req.CustomerName,
			CustomerMobile: req.CustomerMobile,
			PaidNow:        req.PaidNow,
			PaymentMethod:  req.PaymentMethod,
			Notes:          req.Notes,
		},
	})

	sess.mu.Lock()
	sess.submitting = false
	if err == nil {
		sess.cart.ClearCart()
	}
	h.sessions.touch(sess)
	sess.mu.Unlock()

	if err != nil {
		writeSubmitError(w, r, sess.id, err)
		return
	}

	resp := dbOrderToResponse(result.Order)
	resp.Items = toOrderItemResponses(result.Items)
	writeJSON(w, http.StatusCreated, resp)
}

// --- Helpers ---

var errMenuItemMismatch = errors.New("menu_item does not match the cart line")

// session resolves {cid} to a session of the caller in the {oid} outlet and
// writes the error response when it cannot.
func (h *CartHandler) session(w http.ResponseWriter, r *http.Request) (*cartSession, bool) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return nil, false
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return nil, false
	}

	cartID, err := uuid.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cart ID"})
		return nil, false
	}

	sess, ok := h.sessions.get(cartID)
	if !ok || sess.outletID != outletID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cart not found"})
		return nil, false
	}
	if sess.ownerID != claims.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cart belongs to another user"})
		return nil, false
	}
	return sess, true
}

// mutate applies fn to the session cart unless a checkout is in flight, then
// responds with the new cart state. Unknown line ids are no-ops.
func (h *CartHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(*cart.Cart) error) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cart not found"})
		return
	}
	if sess.submitting {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cart is being submitted"})
		return
	}
	if err := fn(sess.cart); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.sessions.touch(sess)
	writeJSON(w, http.StatusOK, toCartResponse(sess))
}

func parseLineID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	lineID, err := uuid.Parse(chi.URLParam(r, "lid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line ID"})
		return uuid.Nil, false
	}
	return lineID, true
}

// resolveCustomization checks a requested customization against the catalog
// entry and replaces client-sent names and prices with the catalog's.
func resolveCustomization(it menu.Item, c customization.Data) (customization.Data, error) {
	if it.ID == "" {
		return customization.Data{}, errors.New("menu_item.id is required")
	}
	if it.Name == "" {
		return customization.Data{}, errors.New("menu_item.name is required")
	}
	if err := it.Validate(c); err != nil {
		return customization.Data{}, err
	}
	return it.Resolve(c), nil
}

func writeSubmitError(w http.ResponseWriter, r *http.Request, cartID uuid.UUID, err error) {
	if isValidationError(err) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var subErr *service.SubmissionError
	if errors.As(err, &subErr) && subErr.Fatal {
		// Already logged by the service with full detail.
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":        "order may have been saved without items; check the order before retrying",
			"order_number": subErr.OrderNumber,
			"fatal":        true,
		})
		return
	}

	slog.ErrorContext(r.Context(), "submit order", "cart_id", cartID, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "order could not be saved; the cart was kept, please retry",
	})
}

func toCartResponse(sess *cartSession) cartResponse {
	s := sess.cart.State()
	items := make([]cartLineResponse, len(s.Items))
	for i, l := range s.Items {
		items[i] = cartLineResponse{
			ID:                l.ID,
			MenuItemID:        l.MenuItemID,
			Name:              l.Name,
			BasePrice:         l.BasePrice.StringFixed(2),
			Quantity:          l.Quantity,
			Customization:     l.Customization,
			CustomizationHash: l.CustomizationHash,
			UnitPrice:         l.UnitPrice().StringFixed(2),
			LineTotal:         l.LineTotal().StringFixed(2),
		}
	}
	return cartResponse{
		ID:         sess.id,
		OutletID:   sess.outletID,
		Items:      items,
		Subtotal:   s.Subtotal.StringFixed(2),
		VATRate:    s.VATRate.StringFixed(2),
		VATAmount:  s.VATAmount.StringFixed(2),
		Total:      s.Total.StringFixed(2),
		Submitting: sess.submitting,
	}
}
