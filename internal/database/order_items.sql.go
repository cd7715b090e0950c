package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderItemColumns = `id, order_id, menu_item_id, name, quantity, unit_price, customization,
    customization_hash, line_total, is_completed, completed_at, created_at, updated_at`

func scanOrderItem(row rowScanner) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.MenuItemID,
		&i.Name,
		&i.Quantity,
		&i.UnitPrice,
		&i.Customization,
		&i.CustomizationHash,
		&i.LineTotal,
		&i.IsCompleted,
		&i.CompletedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
    order_id, menu_item_id, name, quantity, unit_price, customization, customization_hash, line_total
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING ` + orderItemColumns

type CreateOrderItemParams struct {
	OrderID           uuid.UUID      `json:"order_id"`
	MenuItemID        string         `json:"menu_item_id"`
	Name              string         `json:"name"`
	Quantity          int32          `json:"quantity"`
	UnitPrice         pgtype.Numeric `json:"unit_price"`
	Customization     []byte         `json:"customization"`
	CustomizationHash string         `json:"customization_hash"`
	LineTotal         pgtype.Numeric `json:"line_total"`
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID,
		arg.MenuItemID,
		arg.Name,
		arg.Quantity,
		arg.UnitPrice,
		arg.Customization,
		arg.CustomizationHash,
		arg.LineTotal,
	)
	return scanOrderItem(row)
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT ` + orderItemColumns + `
FROM order_items WHERE order_id = $1
ORDER BY created_at ASC, id ASC
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	return q.queryOrderItems(ctx, listOrderItemsByOrder, orderID)
}

const listOrderItemsByOrders = `-- name: ListOrderItemsByOrders :many
SELECT ` + orderItemColumns + `
FROM order_items WHERE order_id = ANY($1::uuid[])
ORDER BY order_id, created_at ASC, id ASC
`

func (q *Queries) ListOrderItemsByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]OrderItem, error) {
	return q.queryOrderItems(ctx, listOrderItemsByOrders, orderIDs)
}

func (q *Queries) queryOrderItems(ctx context.Context, query string, args ...interface{}) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		i, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getOrderItemByID = `-- name: GetOrderItemByID :one
SELECT ` + orderItemColumns + `
FROM order_items WHERE id = $1
`

func (q *Queries) GetOrderItemByID(ctx context.Context, id uuid.UUID) (OrderItem, error) {
	row := q.db.QueryRow(ctx, getOrderItemByID, id)
	return scanOrderItem(row)
}

const getKitchenOrderItem = `-- name: GetKitchenOrderItem :one
SELECT oi.id, oi.order_id, oi.menu_item_id, oi.name, oi.quantity, oi.unit_price, oi.customization,
    oi.customization_hash, oi.line_total, oi.is_completed, oi.completed_at, oi.created_at, oi.updated_at
FROM order_items oi
JOIN orders o ON o.id = oi.order_id
WHERE oi.id = $1 AND oi.order_id = $2 AND o.outlet_id = $3
`

type GetKitchenOrderItemParams struct {
	ID       uuid.UUID `json:"id"`
	OrderID  uuid.UUID `json:"order_id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetKitchenOrderItem(ctx context.Context, arg GetKitchenOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, getKitchenOrderItem, arg.ID, arg.OrderID, arg.OutletID)
	return scanOrderItem(row)
}

const markOrderItemCompleted = `-- name: MarkOrderItemCompleted :one
UPDATE order_items oi
SET is_completed = true, completed_at = now(), updated_at = now()
FROM orders o
WHERE oi.id = $1 AND oi.order_id = $2 AND o.id = oi.order_id AND o.outlet_id = $3
  AND oi.is_completed = false
RETURNING oi.id, oi.order_id, oi.menu_item_id, oi.name, oi.quantity, oi.unit_price, oi.customization,
    oi.customization_hash, oi.line_total, oi.is_completed, oi.completed_at, oi.created_at, oi.updated_at
`

type MarkOrderItemCompletedParams struct {
	ID       uuid.UUID `json:"id"`
	OrderID  uuid.UUID `json:"order_id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

// MarkOrderItemCompleted touches one row only. An item that is already
// completed matches nothing and yields pgx.ErrNoRows.
func (q *Queries) MarkOrderItemCompleted(ctx context.Context, arg MarkOrderItemCompletedParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, markOrderItemCompleted, arg.ID, arg.OrderID, arg.OutletID)
	return scanOrderItem(row)
}
