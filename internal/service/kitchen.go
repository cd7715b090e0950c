package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiwari-pos/order-core/internal/database"
)

// ErrOrderItemNotFound is returned when the item does not exist in the
// given order and outlet.
var ErrOrderItemNotFound = errors.New("order item not found")

// KitchenStore defines the DB methods needed to mark items complete.
// Satisfied by *database.Queries.
type KitchenStore interface {
	MarkOrderItemCompleted(ctx context.Context, arg database.MarkOrderItemCompletedParams) (database.OrderItem, error)
	GetKitchenOrderItem(ctx context.Context, arg database.GetKitchenOrderItemParams) (database.OrderItem, error)
}

// CompleteItemResult is the item after the call. Changed is false when the
// item was already completed, possibly by another terminal.
type CompleteItemResult struct {
	Item    database.OrderItem
	Changed bool
}

// KitchenService handles per-item completion.
type KitchenService struct {
	store KitchenStore
}

// NewKitchenService creates a new KitchenService.
func NewKitchenService(store KitchenStore) *KitchenService {
	return &KitchenService{store: store}
}

// CompleteItem marks a single item complete. Sibling items are never read or
// written. Completing an already completed item is a no-op, not an error.
func (s *KitchenService) CompleteItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (CompleteItemResult, error) {
	item, err := s.store.MarkOrderItemCompleted(ctx, database.MarkOrderItemCompletedParams{
		ID:       itemID,
		OrderID:  orderID,
		OutletID: outletID,
	})
	if err == nil {
		return CompleteItemResult{Item: item, Changed: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return CompleteItemResult{}, fmt.Errorf("mark item completed: %w", err)
	}

	// No row updated: either the item is missing or it was already completed.
	current, err := s.store.GetKitchenOrderItem(ctx, database.GetKitchenOrderItemParams{
		ID:       itemID,
		OrderID:  orderID,
		OutletID: outletID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CompleteItemResult{}, ErrOrderItemNotFound
		}
		return CompleteItemResult{}, fmt.Errorf("get item after completion: %w", err)
	}
	return CompleteItemResult{Item: current, Changed: false}, nil
}
