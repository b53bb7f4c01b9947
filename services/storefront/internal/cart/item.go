package cart

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/pkg/slug"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
)

// LineFlag marks a line that could not be committed at checkout.
type LineFlag struct {
	Reason    string `json:"reason"`
	Available int    `json:"available"`
	Message   string `json:"message"`
}

// LineItem is one product, variant and option selection with a quantity.
type LineItem struct {
	ID             uuid.UUID       `json:"id"`
	ProductID      string          `json:"product_id"`
	VariantID      string          `json:"variant_id,omitempty"`
	Color          string          `json:"color,omitempty"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug"`
	UnitPriceCents money.Cents     `json:"unit_price_cents"`
	Quantity       int             `json:"quantity"`
	WeightGrams    float64         `json:"weight_grams,omitempty"`
	Options        charm.Selection `json:"options,omitempty"`
	Flag           *LineFlag       `json:"flag,omitempty"`
}

// UnitTotal is the unit price plus the selected option deltas.
func (l LineItem) UnitTotal() money.Cents {
	return money.ClampNonNegative(l.UnitPriceCents).Add(l.Options.Total())
}

// LineTotal is UnitTotal times the quantity.
func (l LineItem) LineTotal() money.Cents {
	return l.UnitTotal().Mul(l.Quantity)
}

// LineWeight is the normalized unit weight times the quantity.
func (l LineItem) LineWeight() float64 {
	return float64(money.NormalizeWeight(l.WeightGrams)) * float64(l.Quantity)
}

// MergeKey identifies lines that must be merged rather than duplicated.
func (l LineItem) MergeKey() string {
	return mergeKey(l.ProductID, l.VariantID, l.Options)
}

func mergeKey(productID, variantID string, options charm.Selection) string {
	return strings.Join([]string{productID, variantID, options.Signature()}, "|")
}

// ItemSpec describes a resolved product selection being added to the cart.
type ItemSpec struct {
	ProductID      string          `json:"product_id"`
	VariantID      string          `json:"variant_id,omitempty"`
	Color          string          `json:"color,omitempty"`
	Name           string          `json:"name"`
	Slug           string          `json:"slug,omitempty"`
	UnitPriceCents money.Cents     `json:"unit_price_cents"`
	WeightGrams    float64         `json:"weight_grams,omitempty"`
	Options        charm.Selection `json:"options,omitempty"`
}

func (s ItemSpec) newLine(qty int) LineItem {
	itemSlug := s.Slug
	if itemSlug == "" {
		itemSlug = slug.Generate(s.Name)
	}
	return LineItem{
		ID:             uuid.New(),
		ProductID:      s.ProductID,
		VariantID:      s.VariantID,
		Color:          s.Color,
		Name:           s.Name,
		Slug:           itemSlug,
		UnitPriceCents: money.ClampNonNegative(s.UnitPriceCents),
		Quantity:       qty,
		WeightGrams:    float64(money.NormalizeWeight(s.WeightGrams)),
		Options:        append(charm.Selection(nil), s.Options...),
	}
}
