// Package kitchen keeps the live kitchen display model: orders grouped with
// their items, per-item completion, and the timing signals derived from an
// order's creation time.
//
// The board is fed by change events. Applying an event is idempotent, so any
// at-least-once transport can drive it and several displays built from the
// same feed converge on the same state.
package kitchen

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/kiwari-pos/order-core/internal/enum"
)

// OrderHeader is the kitchen-relevant part of an order record.
type OrderHeader struct {
	ID            uuid.UUID
	OutletID      uuid.UUID
	OrderNumber   string
	OrderType     string
	CustomerName  string
	PaymentStatus string
	Notes         string
	CreatedAt     time.Time
}

// Item is the kitchen-relevant part of an order item record.
// CustomizationError is set when the stored payload could not be decoded;
// Customization is then empty.
type Item struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	MenuItemID         string
	Name               string
	Quantity           int
	Customization      customization.Data
	CustomizationError string
	IsCompleted        bool
	CompletedAt        *time.Time
	CreatedAt          time.Time
}

// Change describes the effect of applying one event.
type Change struct {
	OrderID  uuid.UUID
	OutletID uuid.UUID // zero while the order is a placeholder
	Removed  bool
	Changed  bool
}

type order struct {
	header      OrderHeader
	placeholder bool
	items       map[uuid.UUID]*Item
	itemOrder   []uuid.UUID
	doneAt      time.Time // when the order was last seen becoming complete
}

func (o *order) complete() bool {
	if len(o.items) == 0 {
		return false
	}
	for _, it := range o.items {
		if !it.IsCompleted {
			return false
		}
	}
	return true
}

// Board is safe for concurrent use.
type Board struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	orders  map[uuid.UUID]*order
	removed map[uuid.UUID]time.Time // cancelled orders, to drop late item events
}

// Option configures a Board.
type Option func(*Board)

// WithClock overrides the board clock.
func WithClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// NewBoard creates an empty board. Zero fields of cfg fall back to DefaultConfig.
func NewBoard(cfg Config, opts ...Option) *Board {
	b := &Board{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		orders:  make(map[uuid.UUID]*order),
		removed: make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ApplyOrder upserts an order header. A cancelled order leaves the board.
func (b *Board) ApplyOrder(h OrderHeader) Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h.PaymentStatus == enum.PaymentStatusCancelled {
		delete(b.orders, h.ID)
		b.removed[h.ID] = b.now()
		return Change{OrderID: h.ID, OutletID: h.OutletID, Removed: true, Changed: true}
	}
	if _, gone := b.removed[h.ID]; gone {
		return Change{OrderID: h.ID, OutletID: h.OutletID}
	}

	o, ok := b.orders[h.ID]
	if !ok {
		o = &order{items: make(map[uuid.UUID]*Item)}
		b.orders[h.ID] = o
	}
	changed := !ok || o.placeholder || o.header != h
	o.header = h
	o.placeholder = false
	return Change{OrderID: h.ID, OutletID: h.OutletID, Changed: changed}
}

// ApplyItem upserts an item. The last write for an item wins. An item whose
// order header has not arrived yet is held on a placeholder order.
func (b *Board) ApplyItem(it Item) Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, gone := b.removed[it.OrderID]; gone {
		return Change{OrderID: it.OrderID}
	}

	o, ok := b.orders[it.OrderID]
	if !ok {
		o = &order{
			header:      OrderHeader{ID: it.OrderID},
			placeholder: true,
			items:       make(map[uuid.UUID]*Item),
		}
		b.orders[it.OrderID] = o
	}

	wasComplete := o.complete()
	if _, exists := o.items[it.ID]; !exists {
		o.itemOrder = append(o.itemOrder, it.ID)
	}
	cp := it
	cp.Customization = it.Customization.Clone()
	o.items[it.ID] = &cp
	b.trackCompletion(o, wasComplete)

	return Change{OrderID: it.OrderID, OutletID: o.header.OutletID, Changed: true}
}

// MarkComplete sets one item complete. It reports false, without error, when
// the item is unknown or already complete.
func (b *Board) MarkComplete(orderID, itemID uuid.UUID, at time.Time) Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return Change{OrderID: orderID}
	}
	it, ok := o.items[itemID]
	if !ok || it.IsCompleted {
		return Change{OrderID: orderID, OutletID: o.header.OutletID}
	}

	wasComplete := o.complete()
	it.IsCompleted = true
	it.CompletedAt = &at
	b.trackCompletion(o, wasComplete)
	return Change{OrderID: orderID, OutletID: o.header.OutletID, Changed: true}
}

// Reset replaces the board contents with a fresh load from the store.
// Tombstones of cancelled orders are kept.
func (b *Board) Reset(headers []OrderHeader, items []Item) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders = make(map[uuid.UUID]*order, len(headers))
	for _, h := range headers {
		if h.PaymentStatus == enum.PaymentStatusCancelled {
			continue
		}
		b.orders[h.ID] = &order{header: h, items: make(map[uuid.UUID]*Item)}
	}
	for _, it := range items {
		o, ok := b.orders[it.OrderID]
		if !ok {
			continue
		}
		if _, exists := o.items[it.ID]; !exists {
			o.itemOrder = append(o.itemOrder, it.ID)
		}
		cp := it
		cp.Customization = it.Customization.Clone()
		o.items[it.ID] = &cp
	}
}

// Remove drops an order without tombstoning it.
func (b *Board) Remove(orderID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.orders, orderID)
}

// Evict drops orders created before cutoff together with old tombstones.
// Placeholders are aged by their earliest item.
func (b *Board) Evict(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, o := range b.orders {
		created := o.header.CreatedAt
		if o.placeholder {
			created = o.firstItemAt()
		}
		if created.Before(cutoff) {
			delete(b.orders, id)
			n++
		}
	}
	for id, at := range b.removed {
		if at.Before(cutoff) {
			delete(b.removed, id)
		}
	}
	return n
}

// Snapshot returns the views of one outlet's orders, oldest first.
// Placeholder orders are not included.
func (b *Board) Snapshot(outletID uuid.UUID) []OrderView {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	views := make([]OrderView, 0)
	for _, o := range b.orders {
		if o.placeholder || o.header.OutletID != outletID {
			continue
		}
		views = append(views, b.view(o, now))
	}
	slices.SortFunc(views, func(a, c OrderView) int {
		if n := a.CreatedAt.Compare(c.CreatedAt); n != 0 {
			return n
		}
		return slices.Compare(a.ID[:], c.ID[:])
	})
	return views
}

// Order returns the view of a single order.
func (b *Board) Order(orderID uuid.UUID) (OrderView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok || o.placeholder {
		return OrderView{}, false
	}
	return b.view(o, b.now()), true
}

// Len is the number of orders held, placeholders included.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func (b *Board) trackCompletion(o *order, wasComplete bool) {
	switch isComplete := o.complete(); {
	case isComplete && !wasComplete:
		o.doneAt = b.now()
	case !isComplete:
		o.doneAt = time.Time{}
	}
}

func (o *order) firstItemAt() time.Time {
	var first time.Time
	for _, it := range o.items {
		if first.IsZero() || it.CreatedAt.Before(first) {
			first = it.CreatedAt
		}
	}
	return first
}
