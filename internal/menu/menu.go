// Package menu holds the catalog shape the cart receives from the menu
// provider and checks customizations against it.
package menu

import (
	"errors"
	"fmt"

	"github.com/kiwari-pos/order-core/internal/customization"
	"github.com/shopspring/decimal"
)

// Errors returned by Validate.
var (
	ErrUnknownIngredient  = errors.New("ingredient does not belong to menu item")
	ErrNotExtraEligible   = errors.New("ingredient cannot be added as extra")
	ErrNotRemovable       = errors.New("ingredient cannot be removed")
	ErrUnknownReplacement = errors.New("replacement does not belong to menu item")
	ErrDuplicateGroup     = errors.New("more than one replacement selected in group")
	ErrDuplicateSelection = errors.New("selection listed more than once")
	ErrExtraAndRemoval    = errors.New("ingredient cannot be both extra and removed")
	ErrNegativeBasePrice  = errors.New("base price must be >= 0")
)

// Ingredient is one default or optional ingredient of a menu item.
type Ingredient struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Removable     bool            `json:"removable"`
	ExtraEligible bool            `json:"extra_eligible"`
	ExtraPrice    decimal.Decimal `json:"extra_price"`
}

// ReplacementOption is one choice inside a replacement group.
type ReplacementOption struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	PriceDiff decimal.Decimal `json:"price_diff"`
}

// ReplacementGroup lists mutually exclusive substitutes, e.g. bread types.
type ReplacementGroup struct {
	Name    string              `json:"name"`
	Options []ReplacementOption `json:"options"`
}

// Item is a menu item as published by the catalog.
type Item struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	BasePrice         decimal.Decimal    `json:"base_price"`
	Ingredients       []Ingredient       `json:"ingredients"`
	ReplacementGroups []ReplacementGroup `json:"replacement_groups"`
}

// Validate checks that every selection in c is allowed by the item.
func (it Item) Validate(c customization.Data) error {
	if it.BasePrice.IsNegative() {
		return ErrNegativeBasePrice
	}

	ingredients := make(map[string]Ingredient, len(it.Ingredients))
	for _, ing := range it.Ingredients {
		ingredients[ing.ID] = ing
	}

	extras := make(map[string]bool, len(c.Extras))
	for _, e := range c.Extras {
		if extras[e.ID] {
			return fmt.Errorf("extra %s: %w", e.ID, ErrDuplicateSelection)
		}
		extras[e.ID] = true
		ing, ok := ingredients[e.ID]
		if !ok {
			return fmt.Errorf("extra %s: %w", e.ID, ErrUnknownIngredient)
		}
		if !ing.ExtraEligible {
			return fmt.Errorf("extra %s: %w", e.ID, ErrNotExtraEligible)
		}
	}

	removals := make(map[string]bool, len(c.Removals))
	for _, r := range c.Removals {
		if removals[r.ID] {
			return fmt.Errorf("removal %s: %w", r.ID, ErrDuplicateSelection)
		}
		removals[r.ID] = true
		if extras[r.ID] {
			return fmt.Errorf("ingredient %s: %w", r.ID, ErrExtraAndRemoval)
		}
		ing, ok := ingredients[r.ID]
		if !ok {
			return fmt.Errorf("removal %s: %w", r.ID, ErrUnknownIngredient)
		}
		if !ing.Removable {
			return fmt.Errorf("removal %s: %w", r.ID, ErrNotRemovable)
		}
	}

	seen := make(map[string]bool, len(c.Replacements))
	picked := make(map[string]bool, len(c.Replacements))
	for _, rep := range c.Replacements {
		if picked[rep.ID] {
			return fmt.Errorf("replacement %s: %w", rep.ID, ErrDuplicateSelection)
		}
		picked[rep.ID] = true
		if _, ok := it.findOption(rep.Group, rep.ID); !ok {
			return fmt.Errorf("replacement %s: %w", rep.ID, ErrUnknownReplacement)
		}
		if seen[rep.Group] {
			return fmt.Errorf("group %s: %w", rep.Group, ErrDuplicateGroup)
		}
		seen[rep.Group] = true
	}

	return nil
}

// Resolve rebuilds c using the catalog's names and prices, so a client cannot
// price its own extras. c must already pass Validate. Repeated ids collapse
// to one selection.
func (it Item) Resolve(c customization.Data) customization.Data {
	c = c.Clone()
	ingredients := make(map[string]Ingredient, len(it.Ingredients))
	for _, ing := range it.Ingredients {
		ingredients[ing.ID] = ing
	}

	var out customization.Data
	for _, e := range c.Extras {
		ing := ingredients[e.ID]
		out.Extras = append(out.Extras, customization.Extra{ID: ing.ID, Name: ing.Name, Price: ing.ExtraPrice})
	}
	for _, r := range c.Removals {
		ing := ingredients[r.ID]
		out.Removals = append(out.Removals, customization.Removal{ID: ing.ID, Name: ing.Name})
	}
	for _, rep := range c.Replacements {
		opt, _ := it.findOption(rep.Group, rep.ID)
		out.Replacements = append(out.Replacements, customization.Replacement{
			ID:        opt.ID,
			Group:     rep.Group,
			Name:      opt.Name,
			PriceDiff: opt.PriceDiff,
		})
	}
	return out
}

func (it Item) findOption(group, id string) (ReplacementOption, bool) {
	for _, g := range it.ReplacementGroups {
		if g.Name != group {
			continue
		}
		for _, opt := range g.Options {
			if opt.ID == id {
				return opt, true
			}
		}
	}
	return ReplacementOption{}, false
}
