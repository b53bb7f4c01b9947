package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lunebijoux/storefront/pkg/database"
	"github.com/lunebijoux/storefront/services/storefront/internal/order"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a committed order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}

	query := `
		INSERT INTO orders (
			id, session_id, status, lines, subtotal_cents, discount_cents,
			shipping_cents, total_cents, promo_code, shipping_method_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.pool.Exec(ctx, query,
		o.ID,
		o.SessionID,
		string(o.Status),
		linesJSON,
		int64(o.SubtotalCents),
		int64(o.DiscountCents),
		int64(o.ShippingCents),
		int64(o.TotalCents),
		nullableString(o.PromoCode),
		nullableString(o.ShippingMethodID),
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}
