// Package demo holds the small launch collection used to seed a fresh
// record store and to run the storefront in memory.
package demo

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/pkg/slug"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
)

// Product is a catalog entry with its variants and charm options.
type Product struct {
	availability.Product
	Variants []availability.Variant
	Options  []charm.Option
}

func grams(g float64) *float64 { return &g }

func count(n int) *int { return &n }

func cents(c int64) *money.Cents {
	v := money.Cents(c)
	return &v
}

func product(id, name string, price int64, status availability.Status, weight float64) availability.Product {
	return availability.Product{
		ID:             id,
		Name:           name,
		Slug:           slug.Generate(name),
		BasePriceCents: money.Cents(price),
		StockStatus:    status,
		WeightGrams:    grams(weight),
	}
}

// Products returns the demo collection.
func Products() []Product {
	bague := product("bague-soleil", "Bague Soleil", 2490, availability.StatusInStock, 6)
	bague.StockQuantity = count(15)

	creoles := product("creoles-astre", "Créoles Astre", 4200, availability.StatusOutOfStock, 9)
	creoles.StockQuantity = count(0)

	release := time.Date(2026, time.December, 1, 0, 0, 0, 0, time.UTC)
	bracelet := product("bracelet-eclipse", "Bracelet Éclipse", 5900, availability.StatusPreorder, 15)
	bracelet.PreorderLimit = count(20)
	bracelet.PreorderAvailableDate = &release

	return []Product{
		{
			Product: product("collier-lune", "Collier Lune", 3490, availability.StatusInStock, 12),
			Variants: []availability.Variant{
				{ID: "collier-lune-or", ProductID: "collier-lune", ColorName: "Or", StockQuantity: 8, LowStockThreshold: 2, Active: true},
				{ID: "collier-lune-argent", ProductID: "collier-lune", ColorName: "Argent", StockQuantity: 2, LowStockThreshold: 2, Active: true, SortOrder: 1},
				{ID: "collier-lune-rose", ProductID: "collier-lune", ColorName: "Or rose", StockQuantity: 5, LowStockThreshold: 2,
					PriceCents: cents(3990), Active: true, SortOrder: 2},
			},
			Options: []charm.Option{
				{ID: "initiale", Label: "Initiale gravée", PriceDeltaCents: 500},
				{ID: "etoile", Label: "Breloque étoile", PriceDeltaCents: 300},
			},
		},
		{Product: bague},
		{Product: creoles},
		{Product: bracelet},
	}
}

// Promos returns the demo promo codes.
func Promos() []promo.Code {
	percent := decimal.NewFromInt(10)
	return []promo.Code{
		{Code: "LUNE10", DiscountPercent: &percent, Active: true},
		{Code: "BIENVENUE", DiscountAmountCents: cents(500), MinOrderCents: cents(3000), MaxUses: count(100), Active: true},
	}
}
