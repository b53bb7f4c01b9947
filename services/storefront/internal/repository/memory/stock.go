// Package memory holds mutex-guarded in-process implementations of the
// repositories, used for local runs without PostgreSQL or Redis and by the
// service tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
)

// Catalog is an in-memory product catalog and stock store. Decrements are
// serialized by one mutex, which gives them the same all-or-nothing
// behaviour as the conditional SQL updates.
type Catalog struct {
	mu       sync.Mutex
	products map[string]availability.Product
	variants map[string][]availability.Variant
	options  map[string][]charm.Option
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]availability.Product),
		variants: make(map[string][]availability.Variant),
		options:  make(map[string][]charm.Option),
	}
}

// PutProduct adds or replaces a product and its variants.
func (c *Catalog) PutProduct(p availability.Product, variants ...availability.Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
	vs := make([]availability.Variant, len(variants))
	for i, v := range variants {
		v.ProductID = p.ID
		vs[i] = v
	}
	c.variants[p.ID] = vs
}

// PutCharmOptions sets the options offered on a product.
func (c *Catalog) PutCharmOptions(productID string, options ...charm.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options[productID] = append([]charm.Option(nil), options...)
}

// GetProduct returns a copy of a product.
func (c *Catalog) GetProduct(_ context.Context, productID string) (*availability.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	return &p, nil
}

// ListVariants returns a copy of a product's variants.
func (c *Catalog) ListVariants(_ context.Context, productID string) ([]availability.Variant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]availability.Variant{}, c.variants[productID]...), nil
}

// ListCharmOptions returns a copy of a product's options.
func (c *Catalog) ListCharmOptions(_ context.Context, productID string) ([]charm.Option, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]charm.Option{}, c.options[productID]...), nil
}

func (c *Catalog) findVariant(variantID string) (string, int, bool) {
	for pid, vs := range c.variants {
		for i := range vs {
			if vs[i].ID == variantID {
				return pid, i, true
			}
		}
	}
	return "", 0, false
}

// DecrementVariant removes n units from an active variant with enough stock.
func (c *Catalog) DecrementVariant(_ context.Context, variantID string, n int) (availability.Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pid, i, ok := c.findVariant(variantID)
	if !ok {
		return availability.Level{}, fmt.Errorf("decrement variant %s: %w", variantID, availability.ErrConditionFailed)
	}
	v := &c.variants[pid][i]
	if !v.Active || v.StockQuantity < n {
		return availability.Level{}, fmt.Errorf("decrement variant %s by %d: %w", variantID, n, availability.ErrConditionFailed)
	}
	v.StockQuantity -= n
	return availability.NewLevel(variantID, v.StockQuantity, v.LowStockThreshold, n), nil
}

// DecrementProduct removes n units from a product sold without variants.
func (c *Catalog) DecrementProduct(_ context.Context, productID string, n int) (availability.Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok || p.StockQuantity == nil || *p.StockQuantity < n ||
		(p.StockStatus != availability.StatusInStock && p.StockStatus != availability.StatusLowStock) {
		return availability.Level{}, fmt.Errorf("decrement product %s by %d: %w", productID, n, availability.ErrConditionFailed)
	}
	remaining := *p.StockQuantity - n
	p.StockQuantity = &remaining
	if remaining <= 0 {
		p.StockStatus = availability.StatusOutOfStock
	}
	c.products[productID] = p
	return availability.NewLevel(productID, remaining, 0, n), nil
}

// ReservePreorder books n units against a preorder quota.
func (c *Catalog) ReservePreorder(_ context.Context, productID string, n int) (availability.Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.products[productID]
	if !ok || p.StockStatus != availability.StatusPreorder ||
		(p.PreorderLimit != nil && p.PreorderCount+n > *p.PreorderLimit) {
		return availability.Level{}, fmt.Errorf("reserve preorder %s by %d: %w", productID, n, availability.ErrConditionFailed)
	}
	p.PreorderCount += n
	c.products[productID] = p
	if p.PreorderLimit == nil {
		return availability.Level{ID: productID, Remaining: availability.NoCeiling, Status: availability.StatusPreorder, Previous: availability.StatusPreorder}, nil
	}
	return availability.PreorderLevel(productID, *p.PreorderLimit, p.PreorderCount), nil
}
