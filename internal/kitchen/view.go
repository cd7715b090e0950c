package kitchen

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/customization"
)

// Config holds the presentation thresholds of the kitchen display.
type Config struct {
	// NewOrderWindow is how long after creation an order is highlighted as new.
	NewOrderWindow time.Duration
	// UrgencyTiers are ascending elapsed-time thresholds. An order older than
	// the last one is in the top tier and flashes.
	UrgencyTiers []time.Duration
	// Celebration is how long the all-done state is held after completion.
	Celebration time.Duration
}

// DefaultConfig: new for a minute, tiers at 5, 10 and 15 minutes, 3s celebration.
func DefaultConfig() Config {
	return Config{
		NewOrderWindow: time.Minute,
		UrgencyTiers:   []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute},
		Celebration:    3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NewOrderWindow <= 0 {
		c.NewOrderWindow = def.NewOrderWindow
	}
	if len(c.UrgencyTiers) == 0 {
		c.UrgencyTiers = def.UrgencyTiers
	}
	if c.Celebration <= 0 {
		c.Celebration = def.Celebration
	}
	return c
}

// UrgencyTier returns how many thresholds elapsed has reached: 0 below the
// first, len(UrgencyTiers) at or past the last.
func (c Config) UrgencyTier(elapsed time.Duration) int {
	tier := 0
	for _, t := range c.UrgencyTiers {
		if elapsed >= t {
			tier++
		}
	}
	return tier
}

// TopTier is the tier that draws attention.
func (c Config) TopTier() int { return len(c.UrgencyTiers) }

// ItemView is one checklist row.
type ItemView struct {
	ID                 uuid.UUID          `json:"id"`
	MenuItemID         string             `json:"menu_item_id"`
	Name               string             `json:"name"`
	Quantity           int                `json:"quantity"`
	Customization      customization.Data `json:"customization"`
	CustomizationError string             `json:"customization_error,omitempty"`
	IsCompleted        bool               `json:"is_completed"`
	CompletedAt        *time.Time         `json:"completed_at"`
	UrgencyTier        int                `json:"urgency_tier"`
	Flash              bool               `json:"flash"`
}

// OrderView is the derived display state of one order at a point in time.
type OrderView struct {
	ID             uuid.UUID  `json:"id"`
	OutletID       uuid.UUID  `json:"outlet_id"`
	OrderNumber    string     `json:"order_number"`
	OrderType      string     `json:"order_type"`
	CustomerName   string     `json:"customer_name,omitempty"`
	PaymentStatus  string     `json:"payment_status"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []ItemView `json:"items"`
	TotalItems     int        `json:"total_items"`
	CompletedItems int        `json:"completed_items"`
	Progress       int        `json:"progress"` // percent
	IsComplete     bool       `json:"is_complete"`
	IsDegenerate   bool       `json:"is_degenerate"` // no items; never complete
	IsNew          bool       `json:"is_new"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	UrgencyTier    int        `json:"urgency_tier"`
	Flash          bool       `json:"flash"`
	Celebrating    bool       `json:"celebrating"`
}

// view derives the display state. It must be called with b.mu held.
func (b *Board) view(o *order, now time.Time) OrderView {
	elapsed := max(now.Sub(o.header.CreatedAt), 0)
	tier := b.cfg.UrgencyTier(elapsed)
	flash := tier >= b.cfg.TopTier()

	v := OrderView{
		ID:             o.header.ID,
		OutletID:       o.header.OutletID,
		OrderNumber:    o.header.OrderNumber,
		OrderType:      o.header.OrderType,
		CustomerName:   o.header.CustomerName,
		PaymentStatus:  o.header.PaymentStatus,
		Notes:          o.header.Notes,
		CreatedAt:      o.header.CreatedAt,
		Items:          make([]ItemView, 0, len(o.itemOrder)),
		TotalItems:     len(o.items),
		IsNew:          elapsed < b.cfg.NewOrderWindow,
		ElapsedSeconds: int64(elapsed / time.Second),
		UrgencyTier:    tier,
	}

	for _, id := range o.itemOrder {
		it := o.items[id]
		if it.IsCompleted {
			v.CompletedItems++
		}
		v.Items = append(v.Items, ItemView{
			ID:                 it.ID,
			MenuItemID:         it.MenuItemID,
			Name:               it.Name,
			Quantity:           it.Quantity,
			Customization:      it.Customization.Clone(),
			CustomizationError: it.CustomizationError,
			IsCompleted:        it.IsCompleted,
			CompletedAt:        it.CompletedAt,
			UrgencyTier:        tier,
			Flash:              flash && !it.IsCompleted,
		})
	}

	v.IsDegenerate = v.TotalItems == 0
	v.IsComplete = o.complete()
	if v.TotalItems > 0 {
		v.Progress = v.CompletedItems * 100 / v.TotalItems
	}
	v.Flash = flash && !v.IsComplete
	v.Celebrating = v.IsComplete && !o.doneAt.IsZero() && now.Before(o.doneAt.Add(b.cfg.Celebration))
	return v
}
