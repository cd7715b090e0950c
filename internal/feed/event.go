// Package feed turns order and order-item change events into kitchen board
// updates and fans them out to live displays.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/kitchen"
)

// ErrMalformed marks a payload that can never be applied. Sources drop such
// events instead of redelivering them.
var ErrMalformed = errors.New("malformed feed event")

// CustomizationUnavailable is shown instead of customization detail when the
// stored payload cannot be decoded.
const CustomizationUnavailable = "customization unavailable"

// Handler processes one raw payload.
type Handler func(ctx context.Context, payload []byte) error

// Source delivers raw payloads to h until ctx is done.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// Event is the envelope written by the notify trigger:
// {"table": "...", "op": "INSERT|UPDATE", "record": {...}}.
// A row too large for a notification is sent as {"table", "op", "id"} and
// has to be read back from the store.
type Event struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	Record json.RawMessage `json:"record"`
	ID     uuid.UUID       `json:"id"`
}

// HasRecord reports whether the row travelled with the event.
func (e Event) HasRecord() bool {
	return len(e.Record) > 0 && string(e.Record) != "null"
}

type orderRecord struct {
	ID            uuid.UUID `json:"id"`
	OutletID      uuid.UUID `json:"outlet_id"`
	OrderNumber   string    `json:"order_number"`
	OrderType     string    `json:"order_type"`
	CustomerName  *string   `json:"customer_name"`
	PaymentStatus string    `json:"payment_status"`
	Notes         *string   `json:"notes"`
	CreatedAt     time.Time `json:"created_at"`
}

type itemRecord struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	MenuItemID    string          `json:"menu_item_id"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Customization json.RawMessage `json:"customization"`
	IsCompleted   bool            `json:"is_completed"`
	CompletedAt   *time.Time      `json:"completed_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Decode parses an event envelope.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Table == "" || (!ev.HasRecord() && ev.ID == uuid.Nil) {
		return Event{}, fmt.Errorf("%w: missing table or record", ErrMalformed)
	}
	return ev, nil
}

// OrderHeader decodes an orders record.
func (e Event) OrderHeader() (kitchen.OrderHeader, error) {
	var r orderRecord
	if err := json.Unmarshal(e.Record, &r); err != nil {
		return kitchen.OrderHeader{}, fmt.Errorf("%w: order record: %v", ErrMalformed, err)
	}
	if r.ID == uuid.Nil || r.OutletID == uuid.Nil {
		return kitchen.OrderHeader{}, fmt.Errorf("%w: order record without id", ErrMalformed)
	}
	return kitchen.OrderHeader{
		ID:            r.ID,
		OutletID:      r.OutletID,
		OrderNumber:   r.OrderNumber,
		OrderType:     r.OrderType,
		CustomerName:  deref(r.CustomerName),
		PaymentStatus: r.PaymentStatus,
		Notes:         deref(r.Notes),
		CreatedAt:     r.CreatedAt,
	}, nil
}

// Item decodes an order_items record. A bad customization payload does not
// fail the item; it is reported through Item.CustomizationError.
func (e Event) Item() (kitchen.Item, error) {
	var r itemRecord
	if err := json.Unmarshal(e.Record, &r); err != nil {
		return kitchen.Item{}, fmt.Errorf("%w: item record: %v", ErrMalformed, err)
	}
	if r.ID == uuid.Nil || r.OrderID == uuid.Nil {
		return kitchen.Item{}, fmt.Errorf("%w: item record without id", ErrMalformed)
	}
	it := kitchen.Item{
		ID:          r.ID,
		OrderID:     r.OrderID,
		MenuItemID:  r.MenuItemID,
		Name:        r.Name,
		Quantity:    r.Quantity,
		IsCompleted: r.IsCompleted,
		CompletedAt: r.CompletedAt,
		CreatedAt:   r.CreatedAt,
	}
	it.Customization, it.CustomizationError = decodeCustomization(r.Customization)
	return it, nil
}

// HeaderFromRow converts a stored order.
func HeaderFromRow(o database.Order) kitchen.OrderHeader {
	return kitchen.OrderHeader{
		ID:            o.ID,
		OutletID:      o.OutletID,
		OrderNumber:   o.OrderNumber,
		OrderType:     o.OrderType,
		CustomerName:  o.CustomerName.String,
		PaymentStatus: o.PaymentStatus,
		Notes:         o.Notes.String,
		CreatedAt:     o.CreatedAt,
	}
}

// ItemFromRow converts a stored order item.
func ItemFromRow(row database.OrderItem) kitchen.Item {
	it := kitchen.Item{
		ID:          row.ID,
		OrderID:     row.OrderID,
		MenuItemID:  row.MenuItemID,
		Name:        row.Name,
		Quantity:    int(row.Quantity),
		IsCompleted: row.IsCompleted,
		CreatedAt:   row.CreatedAt,
	}
	if row.CompletedAt.Valid {
		at := row.CompletedAt.Time
		it.CompletedAt = &at
	}
	it.Customization, it.CustomizationError = decodeCustomization(row.Customization)
	return it
}

func decodeCustomization(raw []byte) (customization.Data, string) {
	c, err := customization.Parse(raw)
	if err != nil {
		return customization.Data{}, CustomizationUnavailable
	}
	return c, ""
}

func isKnownTable(t string) bool {
	return t == enum.FeedTableOrders || t == enum.FeedTableOrderItems
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
