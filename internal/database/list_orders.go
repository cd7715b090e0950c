package database

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ListOrdersParams is the filter object for the order list screen. Zero
// (invalid) optional fields are not applied.
type ListOrdersParams struct {
	OutletID      uuid.UUID
	OrderType     pgtype.Text
	PaymentStatus pgtype.Text
	StartDate     pgtype.Timestamptz // inclusive
	EndDate       pgtype.Timestamptz // exclusive
	Limit         int32
	Offset        int32
}

// ToSql builds the filtered list query.
func (p ListOrdersParams) ToSql() (string, []interface{}, error) {
	b := psql.Select(orderColumns).
		From("orders").
		Where(sq.Eq{"outlet_id": p.OutletID})

	if p.OrderType.Valid {
		b = b.Where(sq.Eq{"order_type": p.OrderType.String})
	}
	if p.PaymentStatus.Valid {
		b = b.Where(sq.Eq{"payment_status": p.PaymentStatus.String})
	}
	if p.StartDate.Valid {
		b = b.Where(sq.GtOrEq{"created_at": p.StartDate.Time})
	}
	if p.EndDate.Valid {
		b = b.Where(sq.Lt{"created_at": p.EndDate.Time})
	}

	b = b.OrderBy("created_at DESC", "id DESC")
	if p.Limit > 0 {
		b = b.Limit(uint64(p.Limit))
	}
	if p.Offset > 0 {
		b = b.Offset(uint64(p.Offset))
	}
	return b.ToSql()
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	query, args, err := arg.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list orders: %w", err)
	}
	rows, err := q.db.Query(ctx, query, args...)
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
