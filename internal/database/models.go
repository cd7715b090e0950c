package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Order struct {
	ID             uuid.UUID      `json:"id"`
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
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type OrderItem struct {
	ID                uuid.UUID          `json:"id"`
	OrderID           uuid.UUID          `json:"order_id"`
	MenuItemID        string             `json:"menu_item_id"`
	Name              string             `json:"name"`
	Quantity          int32              `json:"quantity"`
	UnitPrice         pgtype.Numeric     `json:"unit_price"`
	Customization     []byte             `json:"customization"`
	CustomizationHash string             `json:"customization_hash"`
	LineTotal         pgtype.Numeric     `json:"line_total"`
	IsCompleted       bool               `json:"is_completed"`
	CompletedAt       pgtype.Timestamptz `json:"completed_at"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
