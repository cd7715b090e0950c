package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/kitchen"
	"github.com/kiwari-pos/order-core/internal/service"
)

// KitchenServicer marks single order items complete.
// Satisfied by *service.KitchenService.
type KitchenServicer interface {
	CompleteItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (service.CompleteItemResult, error)
}

// BoardReader returns the kitchen board of one outlet.
// Satisfied by *kitchen.Board.
type BoardReader interface {
	Snapshot(outletID uuid.UUID) []kitchen.OrderView
}

// ItemApplier pushes a freshly written item onto the board.
// Satisfied by *feed.Dispatcher.
type ItemApplier interface {
	ApplyItemRow(row database.OrderItem)
}

// KitchenHandler handles kitchen display endpoints.
type KitchenHandler struct {
	svc     KitchenServicer
	board   BoardReader
	applier ItemApplier
}

// NewKitchenHandler creates a new KitchenHandler. applier may be nil, in
// which case the board only learns about completions from the change feed.
func NewKitchenHandler(svc KitchenServicer, board BoardReader, applier ItemApplier) *KitchenHandler {
	return &KitchenHandler{svc: svc, board: board, applier: applier}
}

// RegisterRoutes registers kitchen endpoints on the given Chi router.
// Expected to be mounted inside an outlet-scoped subrouter: /outlets/{oid}/kitchen
func (h *KitchenHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders", h.Board)
	r.Post("/orders/{id}/items/{iid}/complete", h.CompleteItem)
}

type kitchenBoardResponse struct {
	Orders []kitchen.OrderView `json:"orders"`
}

type completeItemResponse struct {
	Item    orderItemResponse `json:"item"`
	Changed bool              `json:"changed"`
}

// Board handles GET /outlets/{oid}/kitchen/orders.
func (h *KitchenHandler) Board(w http.ResponseWriter, r *http.Request) {
	outletID, err := uuid.Parse(chi.URLParam(r, "oid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid outlet ID"})
		return
	}
	writeJSON(w, http.StatusOK, kitchenBoardResponse{Orders: h.board.Snapshot(outletID)})
}

// CompleteItem handles POST /outlets/{oid}/kitchen/orders/{id}/items/{iid}/complete.
// Completing an item twice returns 200 with changed=false.
func (h *KitchenHandler) CompleteItem(w http.ResponseWriter, r *http.Request) {
	outletID, orderID, ok := parseOrderPath(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "iid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return
	}

	result, err := h.svc.CompleteItem(r.Context(), outletID, orderID, itemID)
	if err != nil {
		if errors.Is(err, service.ErrOrderItemNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order item not found"})
			return
		}
		slog.ErrorContext(r.Context(), "complete order item", "order_id", orderID, "item_id", itemID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if result.Changed && h.applier != nil {
		h.applier.ApplyItemRow(result.Item)
	}

	writeJSON(w, http.StatusOK, completeItemResponse{
		Item:    dbOrderItemToResponse(result.Item),
		Changed: result.Changed,
	})
}
