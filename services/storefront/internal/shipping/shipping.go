// Package shipping quotes delivery costs from tiered weight brackets.
package shipping

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lunebijoux/storefront/pkg/money"
)

var (
	// ErrUnknownMethod is returned when a quote names a method that is not in
	// the catalog.
	ErrUnknownMethod = errors.New("unknown shipping method")
	// ErrInvalidMethod wraps every configuration problem found by Validate.
	ErrInvalidMethod = errors.New("invalid shipping method")
)

// Bracket prices every shipment weighing at most MaxGrams.
type Bracket struct {
	MaxGrams   int64       `json:"max_grams"`
	PriceCents money.Cents `json:"price_cents"`
}

// Method is one carrier offer.
type Method struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Brackets       []Bracket    `json:"weight_brackets"`
	FreeAboveCents *money.Cents `json:"free_above_cents,omitempty"`
}

// Validate rejects methods that cannot be quoted deterministically: no
// brackets, brackets not strictly ascending by weight, or negative prices.
func (m Method) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMethod)
	}
	if len(m.Brackets) == 0 {
		return fmt.Errorf("%w: %s has no weight brackets", ErrInvalidMethod, m.ID)
	}
	for i, b := range m.Brackets {
		if b.PriceCents < 0 {
			return fmt.Errorf("%w: %s bracket %d has a negative price", ErrInvalidMethod, m.ID, i)
		}
		if b.MaxGrams < 0 {
			return fmt.Errorf("%w: %s bracket %d has a negative weight", ErrInvalidMethod, m.ID, i)
		}
		if i > 0 && b.MaxGrams <= m.Brackets[i-1].MaxGrams {
			return fmt.Errorf("%w: %s brackets are not sorted by weight", ErrInvalidMethod, m.ID)
		}
	}
	if m.FreeAboveCents != nil && *m.FreeAboveCents < 0 {
		return fmt.Errorf("%w: %s has a negative free shipping threshold", ErrInvalidMethod, m.ID)
	}
	return nil
}

// IsFree reports whether subtotal unlocks free shipping for m.
func (m Method) IsFree(subtotal money.Cents) bool {
	return m.FreeAboveCents != nil && subtotal >= *m.FreeAboveCents
}

// Cost returns the shipping price for a parcel. The first bracket that fits
// the weight wins; heavier parcels pay the last bracket. Weight is normalized
// with money.NormalizeWeight, so negative or NaN weights quote as empty.
// m is expected to have passed Validate; a method without brackets costs 0.
func Cost(m Method, subtotal money.Cents, weightGrams float64) money.Cents {
	if m.IsFree(subtotal) || len(m.Brackets) == 0 {
		return 0
	}
	weight := money.NormalizeWeight(weightGrams)
	for _, b := range m.Brackets {
		if b.MaxGrams >= weight {
			return b.PriceCents
		}
	}
	return m.Brackets[len(m.Brackets)-1].PriceCents
}

// Quote is a priced shipping option.
type Quote struct {
	MethodID  string      `json:"method_id"`
	Name      string      `json:"name"`
	CostCents money.Cents `json:"cost_cents"`
	Free      bool        `json:"free"`
}

// Catalog is an immutable, validated set of methods.
type Catalog struct {
	methods map[string]Method
	order   []string
}

// NewCatalog validates every method and indexes them by id.
func NewCatalog(methods ...Method) (*Catalog, error) {
	c := &Catalog{methods: make(map[string]Method, len(methods))}
	for _, m := range methods {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.methods[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidMethod, m.ID)
		}
		m.Brackets = append([]Bracket(nil), m.Brackets...)
		c.methods[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c, nil
}

// Method looks up a method by id.
func (c *Catalog) Method(id string) (Method, bool) {
	m, ok := c.methods[id]
	return m, ok
}

// Methods returns the methods in registration order.
func (c *Catalog) Methods() []Method {
	out := make([]Method, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.methods[id])
	}
	return out
}

// Quote prices one method.
func (c *Catalog) Quote(methodID string, subtotal money.Cents, weightGrams float64) (Quote, error) {
	m, ok := c.methods[methodID]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownMethod, methodID)
	}
	cost := Cost(m, subtotal, weightGrams)
	return Quote{MethodID: m.ID, Name: m.Name, CostCents: cost, Free: m.IsFree(subtotal)}, nil
}

// QuoteAll prices every method, cheapest first. Ties keep catalog order.
func (c *Catalog) QuoteAll(subtotal money.Cents, weightGrams float64) []Quote {
	quotes := make([]Quote, 0, len(c.order))
	for _, id := range c.order {
		m := c.methods[id]
		quotes = append(quotes, Quote{
			MethodID:  m.ID,
			Name:      m.Name,
			CostCents: Cost(m, subtotal, weightGrams),
			Free:      m.IsFree(subtotal),
		})
	}
	sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].CostCents < quotes[j].CostCents })
	return quotes
}

// Default method ids.
const (
	MethodColissimo    = "colissimo"
	MethodLettreSuivie = "lettre_suivie"
)

// DefaultMethods returns the carrier grid the shop launched with.
// freeAbove overrides the Colissimo free shipping threshold when positive.
func DefaultMethods(freeAbove money.Cents) []Method {
	colissimoFree := money.Cents(10000)
	if freeAbove > 0 {
		colissimoFree = freeAbove
	}
	lettreFree := money.Cents(6000)
	return []Method{
		{
			ID:   MethodColissimo,
			Name: "Colissimo",
			Brackets: []Bracket{
				{MaxGrams: 250, PriceCents: 418},
				{MaxGrams: 500, PriceCents: 568},
				{MaxGrams: 750, PriceCents: 645},
				{MaxGrams: 1000, PriceCents: 711},
				{MaxGrams: 2000, PriceCents: 1000},
			},
			FreeAboveCents: &colissimoFree,
		},
		{
			ID:   MethodLettreSuivie,
			Name: "Lettre suivie",
			Brackets: []Bracket{
				{MaxGrams: 100, PriceCents: 250},
				{MaxGrams: 250, PriceCents: 399},
			},
			FreeAboveCents: &lettreFree,
		},
	}
}

// DefaultCatalog builds a catalog from DefaultMethods. The grid is static
// and always valid.
func DefaultCatalog(freeAbove money.Cents) *Catalog {
	c, err := NewCatalog(DefaultMethods(freeAbove)...)
	if err != nil {
		panic(err)
	}
	return c
}
