package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiwari-pos/order-core/internal/database"
	"github.com/kiwari-pos/order-core/internal/enum"
	"github.com/kiwari-pos/order-core/internal/kitchen"
	"github.com/kiwari-pos/order-core/internal/ws"
)

// Event types pushed to kitchen displays.
const (
	EventOrderUpdated = "kitchen.order.updated"
	EventOrderRemoved = "kitchen.order.removed"
	EventSnapshot     = "kitchen.snapshot"
)

// Broadcaster fans events out to one outlet's displays.
// Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastToOutlet(outletID uuid.UUID, event ws.Event)
}

// Dispatcher applies feed events to the board and broadcasts the resulting
// order views. mu covers each board mutation together with its broadcast, so
// displays receive views in the order the board produced them.
type Dispatcher struct {
	board  *kitchen.Board
	out    Broadcaster
	rows   RowLoader
	logger *slog.Logger

	mu sync.Mutex
}

// RowLoader reads back rows whose notification carried only an id.
// Satisfied by *database.Queries.
type RowLoader interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderItemByID(ctx context.Context, id uuid.UUID) (database.OrderItem, error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRowLoader sets the store used for id-only events.
func WithRowLoader(rows RowLoader) DispatcherOption {
	return func(d *Dispatcher) { d.rows = rows }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(board *kitchen.Board, out Broadcaster, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{board: board, out: out, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle decodes and applies one raw payload. It is a Handler.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) error {
	ev, err := Decode(payload)
	if err != nil {
		return err
	}
	return d.Apply(ctx, ev)
}

// Apply applies a decoded event. Unknown tables are ignored, as are id-only
// events whose row no longer exists.
func (d *Dispatcher) Apply(ctx context.Context, ev Event) error {
	if !isKnownTable(ev.Table) {
		d.logger.DebugContext(ctx, "ignoring feed event", "table", ev.Table)
		return nil
	}

	switch ev.Table {
	case enum.FeedTableOrders:
		h, err := d.orderHeader(ctx, ev)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		d.apply(func() kitchen.Change { return d.board.ApplyOrder(h) })
	case enum.FeedTableOrderItems:
		it, err := d.item(ctx, ev)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if it.CustomizationError != "" {
			d.logger.WarnContext(ctx, "order item customization unreadable",
				"order_id", it.OrderID, "item_id", it.ID)
		}
		d.apply(func() kitchen.Change { return d.board.ApplyItem(it) })
	}
	return nil
}

// ApplyItemRow applies an item read back from the store, e.g. right after a
// completion, without waiting for the feed.
func (d *Dispatcher) ApplyItemRow(row database.OrderItem) {
	it := ItemFromRow(row)
	d.apply(func() kitchen.Change { return d.board.ApplyItem(it) })
}

func (d *Dispatcher) apply(fn func() kitchen.Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publish(fn())
}

func (d *Dispatcher) orderHeader(ctx context.Context, ev Event) (kitchen.OrderHeader, error) {
	if ev.HasRecord() {
		return ev.OrderHeader()
	}
	if d.rows == nil {
		return kitchen.OrderHeader{}, fmt.Errorf("%w: id-only order event without a row loader", ErrMalformed)
	}
	o, err := d.rows.GetOrderByID(ctx, ev.ID)
	if err != nil {
		return kitchen.OrderHeader{}, fmt.Errorf("load order %s: %w", ev.ID, err)
	}
	return HeaderFromRow(o), nil
}

func (d *Dispatcher) item(ctx context.Context, ev Event) (kitchen.Item, error) {
	if ev.HasRecord() {
		return ev.Item()
	}
	if d.rows == nil {
		return kitchen.Item{}, fmt.Errorf("%w: id-only item event without a row loader", ErrMalformed)
	}
	row, err := d.rows.GetOrderItemByID(ctx, ev.ID)
	if err != nil {
		return kitchen.Item{}, fmt.Errorf("load order item %s: %w", ev.ID, err)
	}
	return ItemFromRow(row), nil
}

// Snapshot returns the board of one outlet wrapped as a display event.
func (d *Dispatcher) Snapshot(outletID uuid.UUID) (ws.Event, error) {
	payload, err := json.Marshal(d.board.Snapshot(outletID))
	if err != nil {
		return ws.Event{}, err
	}
	return ws.Event{Type: EventSnapshot, Payload: payload}, nil
}

// HydrateStore defines the DB methods needed to load the board.
// Satisfied by *database.Queries.
type HydrateStore interface {
	ListActiveOrdersSince(ctx context.Context, since time.Time) ([]database.Order, error)
	ListOrderItemsByOrders(ctx context.Context, orderIDs []uuid.UUID) ([]database.OrderItem, error)
}

// Hydrate replaces the board with the active orders created since the given
// time. It is run on startup and after every feed reconnect.
func (d *Dispatcher) Hydrate(ctx context.Context, store HydrateStore, since time.Time) error {
	orders, err := store.ListActiveOrdersSince(ctx, since)
	if err != nil {
		return err
	}
	headers := make([]kitchen.OrderHeader, len(orders))
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		headers[i] = HeaderFromRow(o)
		ids[i] = o.ID
	}

	var items []kitchen.Item
	if len(ids) > 0 {
		rows, err := store.ListOrderItemsByOrders(ctx, ids)
		if err != nil {
			return err
		}
		items = make([]kitchen.Item, len(rows))
		for i, r := range rows {
			items[i] = ItemFromRow(r)
		}
	}

	d.mu.Lock()
	d.board.Reset(headers, items)
	d.mu.Unlock()
	d.logger.InfoContext(ctx, "kitchen board loaded", "orders", len(headers), "items", len(items))
	return nil
}

func (d *Dispatcher) publish(ch kitchen.Change) {
	if !ch.Changed || ch.OutletID == uuid.Nil {
		return
	}
	if ch.Removed {
		payload, _ := json.Marshal(map[string]uuid.UUID{"order_id": ch.OrderID})
		d.out.BroadcastToOutlet(ch.OutletID, ws.Event{Type: EventOrderRemoved, Payload: payload})
		return
	}
	view, ok := d.board.Order(ch.OrderID)
	if !ok {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		d.logger.Error("marshal kitchen order", "order_id", ch.OrderID, "error", err)
		return
	}
	d.out.BroadcastToOutlet(ch.OutletID, ws.Event{Type: EventOrderUpdated, Payload: payload})
}
