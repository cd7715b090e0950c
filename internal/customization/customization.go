// Package customization models the per-line changes a guest makes to a menu
// item: extra ingredients, removed ingredients and replacement selections.
package customization

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// Extra is an ingredient added beyond the item's defaults.
type Extra struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Removal is a default ingredient left out of the item.
type Removal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Replacement is the selected option of a replacement group, e.g. "bread: brown".
// PriceDiff may be negative when the substitute is cheaper.
type Replacement struct {
	ID        string          `json:"id"`
	Group     string          `json:"group"`
	Name      string          `json:"name"`
	PriceDiff decimal.Decimal `json:"price_diff"`
}

// Data is the full customization attached to one cart line.
// The zero value is the empty customization.
type Data struct {
	Extras       []Extra       `json:"extras"`
	Removals     []Removal     `json:"removals"`
	Replacements []Replacement `json:"replacements"`
}

// Hash returns the order-independent fingerprint used as part of the cart
// merge key. Ids of each set are sorted and joined as "E:...|R:...|REP:...".
func (d Data) Hash() string {
	extras := make([]string, 0, len(d.Extras))
	for _, e := range d.Extras {
		extras = append(extras, e.ID)
	}
	removals := make([]string, 0, len(d.Removals))
	for _, r := range d.Removals {
		removals = append(removals, r.ID)
	}
	replacements := make([]string, 0, len(d.Replacements))
	for _, r := range d.Replacements {
		replacements = append(replacements, r.ID)
	}

	var b strings.Builder
	b.WriteString("E:")
	b.WriteString(sortedJoin(extras))
	b.WriteString("|R:")
	b.WriteString(sortedJoin(removals))
	b.WriteString("|REP:")
	b.WriteString(sortedJoin(replacements))
	return b.String()
}

// Equal reports whether two customizations hash identically.
func (d Data) Equal(other Data) bool {
	return d.Hash() == other.Hash()
}

// IsEmpty reports whether nothing was customized.
func (d Data) IsEmpty() bool {
	return len(d.Extras) == 0 && len(d.Removals) == 0 && len(d.Replacements) == 0
}

// Clone returns a deep copy so cart lines never share backing arrays.
// Each set keeps the first entry of a repeated id, matching what Hash sees.
func (d Data) Clone() Data {
	return Data{
		Extras:       uniqueByID(d.Extras, func(e Extra) string { return e.ID }),
		Removals:     uniqueByID(d.Removals, func(r Removal) string { return r.ID }),
		Replacements: uniqueByID(d.Replacements, func(r Replacement) string { return r.ID }),
	}
}

// ToggleExtra adds the extra, or removes it if already selected.
// Adding an extra drops a removal of the same ingredient.
func (d *Data) ToggleExtra(e Extra) {
	if i := slices.IndexFunc(d.Extras, func(x Extra) bool { return x.ID == e.ID }); i >= 0 {
		d.Extras = slices.Delete(d.Extras, i, i+1)
		return
	}
	d.Removals = slices.DeleteFunc(d.Removals, func(r Removal) bool { return r.ID == e.ID })
	d.Extras = append(d.Extras, e)
}

// ToggleRemoval removes the ingredient, or restores it if already removed.
// Removing an ingredient drops an extra of the same ingredient.
func (d *Data) ToggleRemoval(r Removal) {
	if i := slices.IndexFunc(d.Removals, func(x Removal) bool { return x.ID == r.ID }); i >= 0 {
		d.Removals = slices.Delete(d.Removals, i, i+1)
		return
	}
	d.Extras = slices.DeleteFunc(d.Extras, func(e Extra) bool { return e.ID == r.ID })
	d.Removals = append(d.Removals, r)
}

// SelectReplacement makes r the active selection of its group.
func (d *Data) SelectReplacement(r Replacement) {
	d.ClearReplacement(r.Group)
	d.Replacements = append(d.Replacements, r)
}

// ClearReplacement drops the selection of a group, if any.
func (d *Data) ClearReplacement(group string) {
	d.Replacements = slices.DeleteFunc(d.Replacements, func(x Replacement) bool { return x.Group == group })
}

// Marshal serializes the customization for order-item snapshots.
// Nil sets are written as empty arrays.
func (d Data) Marshal() ([]byte, error) {
	out := Data{
		Extras:       d.Extras,
		Removals:     d.Removals,
		Replacements: d.Replacements,
	}
	if out.Extras == nil {
		out.Extras = []Extra{}
	}
	if out.Removals == nil {
		out.Removals = []Removal{}
	}
	if out.Replacements == nil {
		out.Replacements = []Replacement{}
	}
	return json.Marshal(out)
}

// Parse decodes a serialized customization. Empty input and JSON null decode
// to the empty customization. On error the empty customization is returned
// alongside the error so display callers can degrade instead of failing.
func Parse(raw []byte) (Data, error) {
	var d Data
	if len(raw) == 0 || string(raw) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("parse customization: %w", err)
	}
	return d, nil
}

var idEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, "|", `\|`)

func sortedJoin(ids []string) string {
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for i, id := range ids {
		ids[i] = idEscaper.Replace(id)
	}
	return strings.Join(ids, ",")
}

func uniqueByID[T any](in []T, id func(T) string) []T {
	if in == nil {
		return nil
	}
	out := make([]T, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		k := id(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
