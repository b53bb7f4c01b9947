// Package availability derives what a shopper may buy right now from stock
// counters, variant configuration and preorder quotas.
package availability

import (
	"math"
	"sort"
	"time"

	"github.com/lunebijoux/storefront/pkg/money"
)

// Status is the stock state shown next to a product.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusLowStock   Status = "low_stock"
	StatusOutOfStock Status = "out_of_stock"
	StatusPreorder   Status = "preorder"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusInStock, StatusLowStock, StatusOutOfStock, StatusPreorder:
		return true
	}
	return false
}

// NoCeiling is the ceiling of a selection whose stock is not tracked.
const NoCeiling = math.MaxInt32

// Product holds the availability fields of a base product.
type Product struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Slug                  string      `json:"slug"`
	BasePriceCents        money.Cents `json:"price_cents"`
	StockStatus           Status      `json:"stock_status"`
	StockQuantity         *int        `json:"stock_quantity,omitempty"`
	PreorderLimit         *int        `json:"preorder_limit,omitempty"`
	PreorderCount         int         `json:"preorder_count"`
	PreorderAvailableDate *time.Time  `json:"preorder_available_date,omitempty"`
	WeightGrams           *float64    `json:"weight_grams,omitempty"`
}

// Variant is a color specific instance of a product with its own stock.
type Variant struct {
	ID                string       `json:"id"`
	ProductID         string       `json:"product_id"`
	ColorName         string       `json:"color_name"`
	StockQuantity     int          `json:"stock_quantity"`
	LowStockThreshold int          `json:"low_stock_threshold"`
	PriceCents        *money.Cents `json:"price_cents,omitempty"`
	Active            bool         `json:"is_active"`
	SortOrder         int          `json:"sort_order"`
}

// StatusFor applies the stock/threshold rule.
func StatusFor(stock, threshold int) Status {
	switch {
	case stock <= 0:
		return StatusOutOfStock
	case stock <= threshold:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// Status derives the variant status from its counters.
func (v Variant) Status() Status {
	return StatusFor(v.StockQuantity, v.LowStockThreshold)
}

// View is the resolved availability of one selection.
type View struct {
	ProductID             string      `json:"product_id"`
	VariantID             string      `json:"variant_id,omitempty"`
	ColorName             string      `json:"color_name,omitempty"`
	Status                Status      `json:"status"`
	Ceiling               int         `json:"purchasable_quantity_ceiling"`
	EffectivePriceCents   money.Cents `json:"effective_price_cents"`
	Purchasable           bool        `json:"purchasable"`
	Tracked               bool        `json:"-"`
	PreorderAvailableDate *time.Time  `json:"preorder_available_date,omitempty"`
	WeightGrams           float64     `json:"weight_grams"`
}

// Resolve computes the view for selectedVariantID, or for the default
// variant when it is empty. Products without variants use their own status.
// An unknown variant id resolves to an unpurchasable view.
func Resolve(p Product, variants []Variant, selectedVariantID string) View {
	view := View{
		ProductID:           p.ID,
		EffectivePriceCents: money.ClampNonNegative(p.BasePriceCents),
	}
	if p.WeightGrams != nil {
		view.WeightGrams = float64(money.NormalizeWeight(*p.WeightGrams))
	}

	if len(variants) == 0 {
		if selectedVariantID != "" {
			view.VariantID = selectedVariantID
			view.Status = StatusOutOfStock
			return view
		}
		return resolveProduct(p, view)
	}

	v, ok := pickVariant(variants, selectedVariantID)
	if !ok {
		view.VariantID = selectedVariantID
		view.Status = StatusOutOfStock
		return view
	}

	view.VariantID = v.ID
	view.ColorName = v.ColorName
	view.Tracked = true
	if v.PriceCents != nil {
		view.EffectivePriceCents = money.ClampNonNegative(*v.PriceCents)
	}
	if !v.Active {
		view.Status = StatusOutOfStock
		return view
	}
	view.Status = v.Status()
	view.Ceiling = max(v.StockQuantity, 0)
	view.Purchasable = view.Ceiling > 0
	return view
}

func resolveProduct(p Product, view View) View {
	view.Status = p.StockStatus
	if !view.Status.IsValid() {
		view.Status = StatusInStock
	}

	switch view.Status {
	case StatusPreorder:
		view.PreorderAvailableDate = p.PreorderAvailableDate
		if p.PreorderLimit == nil {
			view.Ceiling = NoCeiling
		} else {
			view.Tracked = true
			view.Ceiling = max(*p.PreorderLimit-p.PreorderCount, 0)
		}
	case StatusInStock, StatusLowStock:
		if p.StockQuantity == nil {
			view.Ceiling = NoCeiling
		} else {
			view.Tracked = true
			view.Ceiling = max(*p.StockQuantity, 0)
		}
	default:
		view.Ceiling = 0
	}
	view.Purchasable = view.Ceiling > 0
	return view
}

// pickVariant returns the selected variant, or the first active one with
// stock in sort order, falling back to the first variant.
func pickVariant(variants []Variant, selectedID string) (Variant, bool) {
	sorted := SortVariants(variants)
	if selectedID != "" {
		for _, v := range sorted {
			if v.ID == selectedID {
				return v, true
			}
		}
		return Variant{}, false
	}
	for _, v := range sorted {
		if v.Active && v.StockQuantity > 0 {
			return v, true
		}
	}
	return sorted[0], true
}

// SortVariants returns a copy of variants ordered by SortOrder. Variants
// with the same sort order keep their input order.
func SortVariants(variants []Variant) []Variant {
	sorted := append([]Variant(nil), variants...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })
	return sorted
}

// IsPreorder reports whether the view sells against a preorder quota.
func (v View) IsPreorder() bool {
	return v.Status == StatusPreorder
}

// Check returns a *Rejection when qty units of the selection cannot be sold.
func (v View) Check(qty int) error {
	if !v.Purchasable {
		reason := ReasonOutOfStock
		if v.IsPreorder() {
			reason = ReasonPreorderFull
		}
		return &Rejection{Reason: reason, ProductID: v.ProductID, VariantID: v.VariantID, Requested: qty}
	}
	if qty > v.Ceiling {
		return &Rejection{
			Reason:    ReasonInsufficientStock,
			ProductID: v.ProductID,
			VariantID: v.VariantID,
			Requested: qty,
			Available: v.Ceiling,
		}
	}
	return nil
}
