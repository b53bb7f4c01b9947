package memory

import (
	"context"
	"sync"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/order"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// CartRepository keeps cart snapshots in a map. Carts are stored
// serialized so callers never share state with the store.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string][]byte
}

// NewCartRepository creates an empty cart store.
func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]byte)}
}

// Get restores a stored cart.
func (r *CartRepository) Get(_ context.Context, sessionID string) (*cart.Cart, error) {
	r.mu.Lock()
	data, ok := r.carts[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.NotFound("cart", sessionID)
	}
	return cart.Restore(data)
}

// SaveIfVersion stores c when the stored version equals expectedVersion.
func (r *CartRepository) SaveIfVersion(_ context.Context, c *cart.Cart, expectedVersion int) (bool, error) {
	data, err := c.Snapshot()
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := 0
	if stored, ok := r.carts[c.SessionID]; ok {
		prev, err := cart.Restore(stored)
		if err != nil {
			return false, err
		}
		current = prev.Version
	}
	if current != expectedVersion {
		return false, nil
	}
	r.carts[c.SessionID] = data
	return true, nil
}

// Delete removes a cart.
func (r *CartRepository) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, sessionID)
	return nil
}

// PromoRepository keeps promo codes keyed by their upper-cased code.
type PromoRepository struct {
	mu    sync.Mutex
	codes map[string]promo.Code
}

// NewPromoRepository creates a store holding codes.
func NewPromoRepository(codes ...promo.Code) *PromoRepository {
	r := &PromoRepository{codes: make(map[string]promo.Code, len(codes))}
	for _, c := range codes {
		c.Code = promo.Normalize(c.Code)
		r.codes[c.Code] = c
	}
	return r
}

// FindActive returns a copy of an active code.
func (r *PromoRepository) FindActive(_ context.Context, code string) (*promo.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok || !c.Active {
		return nil, apperrors.NotFound("promo code", code)
	}
	return &c, nil
}

// Redeem consumes one use when the cap allows it.
func (r *PromoRepository) Redeem(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok || !c.Active || c.Exhausted() {
		return false, nil
	}
	c.UsedCount++
	r.codes[code] = c
	return true, nil
}

// UsedCount reports how often a code was redeemed.
func (r *PromoRepository) UsedCount(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codes[code].UsedCount
}

// ShippingRepository serves a fixed list of methods.
type ShippingRepository struct {
	methods []shipping.Method
}

// NewShippingRepository creates a repository over methods.
func NewShippingRepository(methods ...shipping.Method) *ShippingRepository {
	return &ShippingRepository{methods: methods}
}

// ListMethods returns the configured methods.
func (r *ShippingRepository) ListMethods(context.Context) ([]shipping.Method, error) {
	return append([]shipping.Method(nil), r.methods...), nil
}

// OrderRepository appends orders to a slice.
type OrderRepository struct {
	mu     sync.Mutex
	orders []order.Order
}

// NewOrderRepository creates an empty order log.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

// Create records an order.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, *o)
	return nil
}

// Orders returns the recorded orders.
func (r *OrderRepository) Orders() []order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.Order(nil), r.orders...)
}
