// Package charm models the paid add-ons (charms, engravings, chains) a
// shopper can attach to a single line item.
package charm

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/lunebijoux/storefront/pkg/money"
)

// MaxSelections is the most options one line item can carry.
const MaxSelections = 5

// ErrTooManyOptions is returned when selecting one more option would exceed
// MaxSelections. The selection is left unchanged.
var ErrTooManyOptions = errors.New("too many options selected")

// Option is an immutable catalog entry.
type Option struct {
	ID              string      `json:"id,omitempty"`
	Label           string      `json:"label"`
	PriceDeltaCents money.Cents `json:"price_delta_cents"`
}

// Key identifies an option inside a selection: its ID, or its label for
// options that were never given one.
func (o Option) Key() string {
	if o.ID != "" {
		return o.ID
	}
	return "label:" + o.Label
}

// Selection is the ordered list of options chosen for one line item.
type Selection []Option

// Contains reports whether o is already selected.
func (s Selection) Contains(o Option) bool {
	return s.index(o) >= 0
}

func (s Selection) index(o Option) int {
	key := o.Key()
	for i, cur := range s {
		if cur.Key() == key {
			return i
		}
	}
	return -1
}

// Toggle deselects o when it is selected and appends it otherwise. It never
// mutates s. Adding a sixth option fails with ErrTooManyOptions.
func Toggle(s Selection, o Option) (Selection, error) {
	if i := s.index(o); i >= 0 {
		out := make(Selection, 0, len(s)-1)
		out = append(out, s[:i]...)
		return append(out, s[i+1:]...), nil
	}
	if len(s) >= MaxSelections {
		return s, ErrTooManyOptions
	}
	out := make(Selection, 0, len(s)+1)
	out = append(out, s...)
	return append(out, o), nil
}

// Total is the sum of the selected price deltas. Negative deltas from a
// corrupt catalog row count as zero.
func (s Selection) Total() money.Cents {
	var total money.Cents
	for _, o := range s {
		total += money.ClampNonNegative(o.PriceDeltaCents)
	}
	return total
}

// Validate checks a selection restored from storage or sent by a client.
func (s Selection) Validate() error {
	if len(s) > MaxSelections {
		return ErrTooManyOptions
	}
	seen := make(map[string]struct{}, len(s))
	for _, o := range s {
		if _, dup := seen[o.Key()]; dup {
			return errors.New("option selected twice: " + o.Label)
		}
		seen[o.Key()] = struct{}{}
	}
	return nil
}

// Signature is an order-insensitive key of the selection, used to merge
// identical cart lines. Two selections with the same options and prices
// share a signature whatever order they were picked in.
func (s Selection) Signature() string {
	if len(s) == 0 {
		return ""
	}
	parts := make([]string, len(s))
	for i, o := range s {
		parts[i] = o.Key() + "@" + strconv.FormatInt(int64(o.PriceDeltaCents), 10)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// Labels lists the option labels in selection order.
func (s Selection) Labels() []string {
	out := make([]string, len(s))
	for i, o := range s {
		out[i] = o.Label
	}
	return out
}
