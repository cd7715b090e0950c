package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, outlet_id, order_seq, order_number, order_type, customer_name, customer_mobile,
    subtotal, vat_rate, vat_amount, total, payment_status, payment_method, taken_by, notes,
    created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.OutletID,
		&i.OrderSeq,
		&i.OrderNumber,
		&i.OrderType,
		&i.CustomerName,
		&i.CustomerMobile,
		&i.Subtotal,
		&i.VatRate,
		&i.VatAmount,
		&i.Total,
		&i.PaymentStatus,
		&i.PaymentMethod,
		&i.TakenBy,
		&i.Notes,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getNextOrderSeq = `-- name: GetNextOrderSeq :one
SELECT (COALESCE(MAX(order_seq), 0) + 1)::int FROM orders WHERE outlet_id = $1
`

func (q *Queries) GetNextOrderSeq(ctx context.Context, outletID uuid.UUID) (int32, error) {
	row := q.db.QueryRow(ctx, getNextOrderSeq, outletID)
	var column_1 int32
	err := row.Scan(&column_1)
	return column_1, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    outlet_id, order_seq, order_number, order_type, customer_name, customer_mobile,
    subtotal, vat_rate, vat_amount, total, payment_status, payment_method, taken_by, notes
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	OutletID       uuid.UUID      `json:"outlet_id"`
	OrderSeq       int32          `json:"order_seq"`
	OrderNumber    string         `json:"order_number"`
	OrderType      string         `json:"order_type"`
	CustomerName   pgtype.Text    `json:"customer_name"`
	CustomerMobile pgtype.Text    `json:"customer_mobile"`
	Subtotal       pgtype.Numeric `json:"subtotal"`
	VatRate        pgtype.Numeric `json:"vat_rate"`
	VatAmount      pgtype.Numeric `json:"vat_amount"`
	Total          pgtype.Numeric `json:"total"`
	PaymentStatus  string         `json:"payment_status"`
	PaymentMethod  pgtype.Text    `json:"payment_method"`
	TakenBy        uuid.UUID      `json:"taken_by"`
	Notes          pgtype.Text    `json:"notes"`
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.OutletID,
		arg.OrderSeq,
		arg.OrderNumber,
		arg.OrderType,
		arg.CustomerName,
		arg.CustomerMobile,
		arg.Subtotal,
		arg.VatRate,
		arg.VatAmount,
		arg.Total,
		arg.PaymentStatus,
		arg.PaymentMethod,
		arg.TakenBy,
		arg.Notes,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders WHERE id = $1 AND outlet_id = $2
`

type GetOrderParams struct {
	ID       uuid.UUID `json:"id"`
	OutletID uuid.UUID `json:"outlet_id"`
}

func (q *Queries) GetOrder(ctx context.Context, arg GetOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, arg.ID, arg.OutletID)
	return scanOrder(row)
}

const getOrderByID = `-- name: GetOrderByID :one
SELECT ` + orderColumns + `
FROM orders WHERE id = $1
`

// GetOrderByID reads back an order announced on the feed without its record.
func (q *Queries) GetOrderByID(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderByID, id)
	return scanOrder(row)
}

const listActiveOrdersSince = `-- name: ListActiveOrdersSince :many
SELECT ` + orderColumns + `
FROM orders
WHERE payment_status <> 'CANCELLED' AND created_at >= $1
ORDER BY created_at ASC
`

// ListActiveOrdersSince feeds the kitchen board on startup.
func (q *Queries) ListActiveOrdersSince(ctx context.Context, since time.Time) ([]Order, error) {
	rows, err := q.db.Query(ctx, listActiveOrdersSince, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Order
	for rows.Next() {
		i, err := scanOrder(rows)
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

const updatePaymentStatus = `-- name: UpdatePaymentStatus :one
UPDATE orders
SET payment_status = $3, payment_method = COALESCE($4, payment_method), updated_at = now()
WHERE id = $1 AND outlet_id = $2 AND payment_status = ANY($5::text[])
RETURNING ` + orderColumns

type UpdatePaymentStatusParams struct {
	ID            uuid.UUID   `json:"id"`
	OutletID      uuid.UUID   `json:"outlet_id"`
	PaymentStatus string      `json:"payment_status"`
	PaymentMethod pgtype.Text `json:"payment_method"`
	FromStatuses  []string    `json:"from_statuses"`
}

// UpdatePaymentStatus moves an order to PaymentStatus only when its current
// status is one of FromStatuses. No row is returned otherwise.
func (q *Queries) UpdatePaymentStatus(ctx context.Context, arg UpdatePaymentStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updatePaymentStatus,
		arg.ID,
		arg.OutletID,
		arg.PaymentStatus,
		arg.PaymentMethod,
		arg.FromStatuses,
	)
	return scanOrder(row)
}

const sumRevenue = `-- name: SumRevenue :one
SELECT COALESCE(SUM(total), 0)::numeric AS revenue, COUNT(*)::int AS order_count
FROM orders
WHERE outlet_id = $1 AND payment_status = 'PAID' AND created_at >= $2 AND created_at < $3
`

type SumRevenueParams struct {
	OutletID uuid.UUID `json:"outlet_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

type SumRevenueRow struct {
	Revenue    pgtype.Numeric `json:"revenue"`
	OrderCount int32          `json:"order_count"`
}

func (q *Queries) SumRevenue(ctx context.Context, arg SumRevenueParams) (SumRevenueRow, error) {
	row := q.db.QueryRow(ctx, sumRevenue, arg.OutletID, arg.Start, arg.End)
	var i SumRevenueRow
	err := row.Scan(&i.Revenue, &i.OrderCount)
	return i, err
}
