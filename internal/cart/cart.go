// Package cart is the in-memory cart of one active order on one terminal.
//
// Lines are keyed by (menu item id, customization hash): adding or editing a
// line into a key that already exists merges quantities instead of creating a
// duplicate row. A Cart is not safe for concurrent use; it is owned by a
// single checkout session.
package cart

import (
	"slices"

	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/kiwari-pos/order-core/internal/pricing"
	"github.com/shopspring/decimal"
)

// Line is one row of the cart.
type Line struct {
	ID                uuid.UUID
	MenuItemID        string
	Name              string
	BasePrice         decimal.Decimal
	Quantity          int
	Customization     customization.Data
	CustomizationHash string
}

// UnitPrice is the base price plus customization.
func (l Line) UnitPrice() decimal.Decimal {
	return pricing.UnitPrice(l.BasePrice, l.Customization)
}

// LineTotal is UnitPrice times quantity.
func (l Line) LineTotal() decimal.Decimal {
	return pricing.LineTotal(l.UnitPrice(), l.Quantity)
}

// State is the derived read model of the cart.
type State struct {
	Items []Line
	pricing.Totals
}

// AddRequest describes an add-to-cart action. Zero Quantity means 1.
type AddRequest struct {
	MenuItemID    string
	Name          string
	BasePrice     decimal.Decimal
	Quantity      int
	Customization customization.Data
}

type key struct {
	menuItemID string
	hash       string
}

func keyOf(l *Line) key {
	return key{menuItemID: l.MenuItemID, hash: l.CustomizationHash}
}

// Cart owns the lines of one order in progress.
type Cart struct {
	vatRate decimal.Decimal
	newID   func() uuid.UUID

	lines  []*Line // display order
	byKey  map[key]*Line
	totals pricing.Totals
}

// Option configures a Cart.
type Option func(*Cart)

// WithIDGenerator overrides line id allocation.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(c *Cart) { c.newID = fn }
}

// New creates an empty cart charging vatRate percent.
func New(vatRate decimal.Decimal, opts ...Option) *Cart {
	c := &Cart{
		vatRate: vatRate,
		newID:   uuid.New,
		byKey:   make(map[key]*Line),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recompute()
	return c
}

// AddItem merges into the line with the same key or appends a new line.
// It returns the line that now holds the quantity.
func (c *Cart) AddItem(req AddRequest) Line {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	cust := req.Customization.Clone()
	l := &Line{
		MenuItemID:        req.MenuItemID,
		Name:              req.Name,
		BasePrice:         req.BasePrice,
		Quantity:          qty,
		Customization:     cust,
		CustomizationHash: cust.Hash(),
	}

	if existing, ok := c.byKey[keyOf(l)]; ok {
		existing.Quantity += qty
		c.recompute()
		return copyLine(existing)
	}

	l.ID = c.newID()
	c.lines = append(c.lines, l)
	c.byKey[keyOf(l)] = l
	c.recompute()
	return copyLine(l)
}

// IncrementItem adds one to the line's quantity. Unknown ids are ignored.
func (c *Cart) IncrementItem(lineID uuid.UUID) {
	l := c.find(lineID)
	if l == nil {
		return
	}
	l.Quantity++
	c.recompute()
}

// DecrementItem subtracts one; a line that reaches zero is removed.
func (c *Cart) DecrementItem(lineID uuid.UUID) {
	l := c.find(lineID)
	if l == nil {
		return
	}
	l.Quantity--
	if l.Quantity <= 0 {
		c.RemoveItem(lineID)
		return
	}
	c.recompute()
}

// RemoveItem drops the line regardless of quantity.
func (c *Cart) RemoveItem(lineID uuid.UUID) {
	i := slices.IndexFunc(c.lines, func(l *Line) bool { return l.ID == lineID })
	if i < 0 {
		return
	}
	delete(c.byKey, keyOf(c.lines[i]))
	c.lines = slices.Delete(c.lines, i, i+1)
	c.recompute()
}

// UpdateItemCustomization re-keys a line with a new customization and,
// if newBasePrice is non-nil, a new base price. When another line already
// holds the new key the edited line is merged into it and disappears; the
// surviving line keeps its id and price, as with AddItem. Otherwise the
// edited line keeps its id and position.
func (c *Cart) UpdateItemCustomization(lineID uuid.UUID, next customization.Data, newBasePrice *decimal.Decimal) {
	l := c.find(lineID)
	if l == nil {
		return
	}

	cust := next.Clone()
	k := key{menuItemID: l.MenuItemID, hash: cust.Hash()}

	if target, ok := c.byKey[k]; ok && target != l {
		target.Quantity += l.Quantity
		c.RemoveItem(lineID)
		return
	}

	delete(c.byKey, keyOf(l))
	l.Customization = cust
	l.CustomizationHash = k.hash
	if newBasePrice != nil {
		l.BasePrice = *newBasePrice
	}
	c.byKey[k] = l
	c.recompute()
}

// ClearCart empties the cart.
func (c *Cart) ClearCart() {
	c.lines = nil
	c.byKey = make(map[key]*Line)
	c.recompute()
}

// Line returns a copy of the line with the given id.
func (c *Cart) Line(lineID uuid.UUID) (Line, bool) {
	l := c.find(lineID)
	if l == nil {
		return Line{}, false
	}
	return copyLine(l), true
}

// Lines returns copies of all lines in display order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	for i, l := range c.lines {
		out[i] = copyLine(l)
	}
	return out
}

// Len is the number of lines.
func (c *Cart) Len() int { return len(c.lines) }

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// VATRate is the configured VAT percentage.
func (c *Cart) VATRate() decimal.Decimal { return c.vatRate }

// Totals returns the totals as of the last mutation.
func (c *Cart) Totals() pricing.Totals { return c.totals }

// State returns lines and totals.
func (c *Cart) State() State {
	return State{Items: c.Lines(), Totals: c.totals}
}

func (c *Cart) find(lineID uuid.UUID) *Line {
	for _, l := range c.lines {
		if l.ID == lineID {
			return l
		}
	}
	return nil
}

// recompute refreshes totals after every mutation.
func (c *Cart) recompute() {
	lineTotals := make([]decimal.Decimal, len(c.lines))
	for i, l := range c.lines {
		lineTotals[i] = l.LineTotal()
	}
	c.totals = pricing.CartTotals(lineTotals, c.vatRate)
}

func copyLine(l *Line) Line {
	out := *l
	out.Customization = l.Customization.Clone()
	return out
}
