package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lunebijoux/storefront/pkg/database"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// Seeder inserts catalog rows that do not exist yet. Existing rows are
// left untouched so a live store is never reset.
type Seeder struct {
	pool database.DBTX
}

// NewSeeder creates a seeder writing through pool.
func NewSeeder(pool database.DBTX) *Seeder {
	return &Seeder{pool: pool}
}

func nullableCents(c *money.Cents) *int64 {
	if c == nil {
		return nil
	}
	v := int64(*c)
	return &v
}

// Product inserts a product with its variants and product specific options.
func (s *Seeder) Product(ctx context.Context, p availability.Product, variants []availability.Variant, options []charm.Option) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (
			id, name, slug, price_cents, stock_status, stock_quantity,
			preorder_limit, preorder_count, preorder_available_date, weight_grams
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Slug, int64(p.BasePriceCents), string(p.StockStatus), p.StockQuantity,
		p.PreorderLimit, p.PreorderCount, p.PreorderAvailableDate, p.WeightGrams,
	)
	if err != nil {
		return fmt.Errorf("seed product %s: %w", p.ID, err)
	}

	for _, v := range variants {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO product_variants (
				id, product_id, color_name, stock_quantity, low_stock_threshold,
				price_cents, is_active, sort_order
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			v.ID, p.ID, v.ColorName, v.StockQuantity, v.LowStockThreshold,
			nullableCents(v.PriceCents), v.Active, v.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("seed variant %s: %w", v.ID, err)
		}
	}

	for i, o := range options {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO charm_options (id, product_id, label, price_delta_cents, sort_order)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, p.ID, o.Label, int64(o.PriceDeltaCents), i,
		)
		if err != nil {
			return fmt.Errorf("seed charm option %s: %w", o.ID, err)
		}
	}
	return nil
}

// Promo inserts a promo code.
func (s *Seeder) Promo(ctx context.Context, c promo.Code) error {
	var percent *string
	if c.DiscountPercent != nil {
		v := c.DiscountPercent.StringFixed(2)
		percent = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO promo_codes (
			code, discount_percent, discount_amount_cents, min_amount_cents,
			expires_at, max_uses, is_active
		) VALUES ($1, $2::numeric, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO NOTHING`,
		c.Code, percent, nullableCents(c.DiscountAmountCents), nullableCents(c.MinOrderCents),
		c.ExpiresAt, c.MaxUses, c.Active,
	)
	if err != nil {
		return fmt.Errorf("seed promo %s: %w", c.Code, err)
	}
	return nil
}

// ShippingMethod inserts a shipping method at the given display position.
func (s *Seeder) ShippingMethod(ctx context.Context, m shipping.Method, sortOrder int) error {
	if err := m.Validate(); err != nil {
		return err
	}
	brackets, err := json.Marshal(m.Brackets)
	if err != nil {
		return fmt.Errorf("marshal weight_brackets of %s: %w", m.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO shipping_methods (id, name, weight_brackets, free_above_cents, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.Name, brackets, nullableCents(m.FreeAboveCents), sortOrder,
	)
	if err != nil {
		return fmt.Errorf("seed shipping method %s: %w", m.ID, err)
	}
	return nil
}
