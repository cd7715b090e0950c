package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/feed"
	"github.com/kiwari-pos/order-core/internal/menu"
	"github.com/kiwari-pos/order-core/internal/service"
)

// OrderStore defines the database methods needed by order read/update handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type OrderStore interface {
	GetOrder(ctx context.Context, arg database.GetOrderParams) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	UpdatePaymentStatus(ctx context.Context, arg database.UpdatePaymentStatusParams) (database.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	store OrderStore
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(store OrderStore) *OrderHandler {
	return &OrderHandler{store: store}
}

// RegisterRoutes registers order endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/payment", h.Pay)
	r.Delete("/{id}", h.Cancel)
}

// --- Request / Response types ---

type orderResponse struct {
	ID             uuid.UUID           `json:"id"`
	OutletID       uuid.UUID           `json:"outlet_id"`
	OrderNumber    string              `json:"order_number"`
	OrderType      string              `json:"order_type"`
	CustomerName   *string             `json:"customer_name"`
	CustomerMobile *string             `json:"customer_mobile"`
	Subtotal       string              `json:"subtotal"`
	VATRate        string              `json:"vat_rate"`
	VATAmount      string              `json:"vat_amount"`
	Total          string              `json:"total"`
	PaymentStatus  string              `json:"payment_status"`
	PaymentMethod  *string             `json:"payment_method"`
	TakenBy        uuid.UUID           `json:"taken_by"`
	Notes          *string             `json:"notes"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Items          []orderItemResponse `json:"items,omitempty"`
}

type orderItemResponse struct {
	ID                 uuid.UUID          `json:"id"`
	MenuItemID         string             `json:"menu_item_id"`
	Name               string             `json:"name"`
	Quantity           int32              `json:"quantity"`
	UnitPrice          string             `json:"unit_price"`
	Customization      customization.Data `json:"customization"`
	CustomizationError string             `json:"customization_error,omitempty"`
	CustomizationHash  string             `json:"customization_hash"`
	LineTotal          string             `json:"line_total"`
	IsCompleted        bool               `json:"is_completed"`
	CompletedAt        *time.Time         `json:"completed_at"`
}

// orderListResponse wraps a list of orders with pagination metadata.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type payRequest struct {
	PaymentMethod string `json:"payment_method"`
}

// --- Handlers ---

// List handles GET /outlets/{oid}/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return
	}

	// Parse pagination
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	params := database.ListOrdersParams{
		OutletID: outletID,
		Limit:    int32(limit),
		Offset:   int32(offset),
	}

	if s := r.URL.Query().Get("type"); s != "" {
		if !isValidOrderType(s) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid type"})
			return
		}
		params.OrderType = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("payment_status"); s != "" {
		if !isValidPaymentStatus(s) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payment_status"})
			return
		}
		params.PaymentStatus = pgtype.Text{String: s, Valid: true}
	}
	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := parseDay("start_date", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		params.StartDate = pgtype.Timestamptz{Time: t, Valid: true}
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := parseDay("end_date", s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		// end_date is inclusive for callers
		params.EndDate = pgtype.Timestamptz{Time: t.AddDate(0, 0, 1), Valid: true}
	}

	orders, err := h.store.ListOrders(r.Context(), params)
	if err != nil {
		slog.ErrorContext(r.Context(), "list orders", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = dbOrderToResponse(o)
	}

	writeJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Limit:  limit,
		Offset: offset,
	})
}

// Get handles GET /outlets/{oid}/orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}

	order, err := h.store.GetOrder(r.Context(), database.GetOrderParams{
		ID:       orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		slog.ErrorContext(r.Context(), "get order", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
	if err != nil {
		slog.ErrorContext(r.Context(), "list order items", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := dbOrderToResponse(order)
	resp.Items = toOrderItemResponses(items)
	writeJSON(w, http.StatusOK, resp)
}

// Pay handles POST /outlets/{oid}/orders/{id}/payment.
// Only a PENDING order can be paid.
func (h *OrderHandler) Pay(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PaymentMethod == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": service.ErrPaymentMethodRequired.Error()})
		return
	}
	if !service.IsValidPaymentMethod(req.PaymentMethod) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": service.ErrInvalidPaymentMethod.Error()})
		return
	}

	paid, err := h.store.UpdatePaymentStatus(r.Context(), database.UpdatePaymentStatusParams{
		ID:            orderID,
		OutletID:      outletID,
		PaymentStatus: enum.PaymentStatusPaid,
		PaymentMethod: pgtype.Text{String: req.PaymentMethod, Valid: true},
		FromStatuses:  []string{enum.PaymentStatusPending},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.writeTransitionConflict(w, r, outletID, orderID, "pay")
			return
		}
		slog.ErrorContext(r.Context(), "pay order", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(paid))
}

// Cancel handles DELETE /outlets/{oid}/orders/{id}.
// PENDING and PAID orders can be cancelled; CANCELLED is terminal.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}

	// The SQL enforces the precondition atomically: it only updates when the
	// order exists and is not already cancelled.
	cancelled, err := h.store.UpdatePaymentStatus(r.Context(), database.UpdatePaymentStatusParams{
		ID:            orderID,
		OutletID:      outletID,
		PaymentStatus: enum.PaymentStatusCancelled,
		FromStatuses:  []string{enum.PaymentStatusPending, enum.PaymentStatusPaid},
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.writeTransitionConflict(w, r, outletID, orderID, "cancel")
			return
		}
		slog.ErrorContext(r.Context(), "cancel order", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dbOrderToResponse(cancelled))
}

// writeTransitionConflict explains why a guarded status update matched no
// row: the order is missing, or its status does not allow the action.
func (h *OrderHandler) writeTransitionConflict(w http.ResponseWriter, r *http.Request, outletID, orderID uuid.UUID, action string) {
	current, err := h.store.GetOrder(r.Context(), database.GetOrderParams{
		ID:       orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		slog.ErrorContext(r.Context(), "get order for "+action, "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	switch current.PaymentStatus {
	case enum.PaymentStatusCancelled:
		if action == "cancel" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already cancelled"})
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot pay a cancelled order"})
	case enum.PaymentStatusPaid:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is already paid"})
	default:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order status changed, please retry"})
	}
}

// --- Helpers ---

func parseOrderPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return uuid.Nil, uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return outletID, orderID, true
}

// isValidationError checks if the error is a known validation error
// from the service or menu layer that should result in 400 Bad Request.
func isValidationError(err error) bool {
	return errors.Is(err, service.ErrEmptyItems) ||
		errors.Is(err, service.ErrInvalidOrderType) ||
		errors.Is(err, service.ErrInvalidQuantity) ||
		errors.Is(err, service.ErrMissingMenuItem) ||
		errors.Is(err, service.ErrCustomerNameRequired) ||
		errors.Is(err, service.ErrCustomerMobileMissing) ||
		errors.Is(err, service.ErrPaymentMethodRequired) ||
		errors.Is(err, service.ErrInvalidPaymentMethod) ||
		errors.Is(err, menu.ErrUnknownIngredient) ||
		errors.Is(err, menu.ErrNotExtraEligible) ||
		errors.Is(err, menu.ErrNotRemovable) ||
		errors.Is(err, menu.ErrUnknownReplacement) ||
		errors.Is(err, menu.ErrDuplicateGroup) ||
		errors.Is(err, menu.ErrDuplicateSelection) ||
		errors.Is(err, menu.ErrExtraAndRemoval) ||
		errors.Is(err, menu.ErrNegativeBasePrice)
}

func isValidOrderType(s string) bool {
	switch s {
	case enum.OrderTypeDineIn, enum.OrderTypeTakeaway, enum.OrderTypeDelivery, enum.OrderTypeSelfPickup:
		return true
	}
	return false
}

func isValidPaymentStatus(s string) bool {
	switch s {
	case enum.PaymentStatusPending, enum.PaymentStatusPaid, enum.PaymentStatusCancelled:
		return true
	}
	return false
}

// dbOrderToResponse converts a database.Order to an orderResponse.
func dbOrderToResponse(o database.Order) orderResponse {
	return orderResponse{
		ID:             o.ID,
		OutletID:       o.OutletID,
		OrderNumber:    o.OrderNumber,
		OrderType:      o.OrderType,
		CustomerName:   textPtr(o.CustomerName),
		CustomerMobile: textPtr(o.CustomerMobile),
		Subtotal:       numericToString(o.Subtotal),
		VATRate:        numericToString(o.VatRate),
		VATAmount:      numericToString(o.VatAmount),
		Total:          numericToString(o.Total),
		PaymentStatus:  o.PaymentStatus,
		PaymentMethod:  textPtr(o.PaymentMethod),
		TakenBy:        o.TakenBy,
		Notes:          textPtr(o.Notes),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

// dbOrderItemToResponse converts a stored item. An unreadable customization
// is reported on the item instead of failing the response.
func dbOrderItemToResponse(item database.OrderItem) orderItemResponse {
	resp := orderItemResponse{
		ID:                item.ID,
		MenuItemID:        item.MenuItemID,
		Name:              item.Name,
		Quantity:          item.Quantity,
		UnitPrice:         numericToString(item.UnitPrice),
		CustomizationHash: item.CustomizationHash,
		LineTotal:         numericToString(item.LineTotal),
		IsCompleted:       item.IsCompleted,
	}
	if c, err := customization.Parse(item.Customization); err != nil {
		resp.CustomizationError = feed.CustomizationUnavailable
	} else {
		resp.Customization = c
	}
	if item.CompletedAt.Valid {
		t := item.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

func toOrderItemResponses(items []database.OrderItem) []orderItemResponse {
	resp := make([]orderItemResponse, len(items))
	for i, it := range items {
		resp[i] = dbOrderItemToResponse(it)
	}
	return resp
}
