// Package pricing turns base prices and customizations into unit prices,
// line totals and cart totals. All functions are pure.
package pricing

import (
	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Totals is the money projection of a cart.
type Totals struct {
	Subtotal  decimal.Decimal
	VATRate   decimal.Decimal
	VATAmount decimal.Decimal
	Total     decimal.Decimal
}

// Breakdown is the live preview shown while a line is being customized.
type Breakdown struct {
	BasePrice       decimal.Decimal
	ExtrasTotal     decimal.Decimal
	ReplacementDiff decimal.Decimal
	Total           decimal.Decimal
}

// UnitPrice = base + sum(extra prices) + sum(replacement diffs).
// The result is not floored at zero.
func UnitPrice(base decimal.Decimal, c customization.Data) decimal.Decimal {
	return Preview(base, c).Total
}

// LineTotal multiplies a unit price by quantity.
func LineTotal(unit decimal.Decimal, quantity int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(quantity)))
}

// Preview returns the unit price split into its parts. A repeated id is
// priced once, as it hashes once.
func Preview(base decimal.Decimal, c customization.Data) Breakdown {
	c = c.Clone()
	extras := decimal.Zero
	for _, e := range c.Extras {
		extras = extras.Add(e.Price)
	}
	diff := decimal.Zero
	for _, r := range c.Replacements {
		diff = diff.Add(r.PriceDiff)
	}
	return Breakdown{
		BasePrice:       base,
		ExtrasTotal:     extras,
		ReplacementDiff: diff,
		Total:           base.Add(extras).Add(diff),
	}
}

// CartTotals sums line totals and applies VAT once on the subtotal.
// vatRate is a percentage; VAT is rounded to 2 places.
func CartTotals(lineTotals []decimal.Decimal, vatRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, lt := range lineTotals {
		subtotal = subtotal.Add(lt)
	}
	vat := subtotal.Mul(vatRate).Div(hundred).Round(2)
	return Totals{
		Subtotal:  subtotal,
		VATRate:   vatRate,
		VATAmount: vat,
		Total:     subtotal.Add(vat),
	}
}
