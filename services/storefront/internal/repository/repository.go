package repository

import (
	"context"

	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/order"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// CartRepository stores cart snapshots keyed by session.
type CartRepository interface {
	// Get retrieves a cart by session ID.
	Get(ctx context.Context, sessionID string) (*cart.Cart, error)

	// SaveIfVersion writes the cart only when the stored version still
	// equals expectedVersion. It reports false when another writer won.
	SaveIfVersion(ctx context.Context, c *cart.Cart, expectedVersion int) (bool, error)

	// Delete removes a cart.
	Delete(ctx context.Context, sessionID string) error
}

// PromoRepository reads and redeems promo codes.
type PromoRepository interface {
	promo.Finder

	// Redeem atomically consumes one use of the code. It reports false when
	// the usage cap was already reached.
	Redeem(ctx context.Context, code string) (bool, error)
}

// CatalogRepository reads the product fields the engine needs.
type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (*availability.Product, error)
	ListVariants(ctx context.Context, productID string) ([]availability.Variant, error)
	ListCharmOptions(ctx context.Context, productID string) ([]charm.Option, error)
}

// ShippingRepository loads shipping method definitions.
type ShippingRepository interface {
	ListMethods(ctx context.Context) ([]shipping.Method, error)
}

// OrderRepository records committed orders.
type OrderRepository interface {
	Create(ctx context.Context, o *order.Order) error
}

// StockStore is re-exported so wiring code only imports this package.
type StockStore = availability.StockStore
