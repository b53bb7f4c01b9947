package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lunebijoux/storefront/pkg/database"
	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
)

// CatalogRepository implements repository.CatalogRepository using PostgreSQL.
type CatalogRepository struct {
	pool database.DBTX
}

// NewCatalogRepository creates a new PostgreSQL-backed catalog repository.
func NewCatalogRepository(pool database.DBTX) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetProduct retrieves the availability fields of an active product.
func (r *CatalogRepository) GetProduct(ctx context.Context, productID string) (*availability.Product, error) {
	query := `
		SELECT id, name, slug, price_cents, stock_status, stock_quantity,
		       preorder_limit, preorder_count, preorder_available_date, weight_grams
		FROM products
		WHERE id = $1 AND is_active = true`

	var (
		p             availability.Product
		price         int64
		status        string
		preorderDate  *time.Time
		preorderCount int
	)
	err := r.pool.QueryRow(ctx, query, productID).Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&price,
		&status,
		&p.StockQuantity,
		&p.PreorderLimit,
		&preorderCount,
		&preorderDate,
		&p.WeightGrams,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	p.BasePriceCents = money.Cents(price)
	p.StockStatus = availability.Status(status)
	p.PreorderCount = preorderCount
	p.PreorderAvailableDate = preorderDate
	return &p, nil
}

// ListVariants returns every variant of a product in display order.
func (r *CatalogRepository) ListVariants(ctx context.Context, productID string) ([]availability.Variant, error) {
	query := `
		SELECT id, product_id, color_name, stock_quantity, low_stock_threshold,
		       price_cents, is_active, sort_order
		FROM product_variants
		WHERE product_id = $1
		ORDER BY sort_order, id`

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	variants := make([]availability.Variant, 0)
	for rows.Next() {
		var (
			v     availability.Variant
			price *int64
		)
		if err := rows.Scan(
			&v.ID,
			&v.ProductID,
			&v.ColorName,
			&v.StockQuantity,
			&v.LowStockThreshold,
			&price,
			&v.Active,
			&v.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v.PriceCents = centsPtr(price)
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}

	return variants, nil
}

// ListCharmOptions returns the options offered on a product, including the
// ones offered on every product.
func (r *CatalogRepository) ListCharmOptions(ctx context.Context, productID string) ([]charm.Option, error) {
	query := `
		SELECT id, label, price_delta_cents
		FROM charm_options
		WHERE (product_id = $1 OR product_id IS NULL) AND is_active = true
		ORDER BY sort_order, label`

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list charm options: %w", err)
	}
	defer rows.Close()

	options := make([]charm.Option, 0)
	for rows.Next() {
		var (
			o     charm.Option
			delta int64
		)
		if err := rows.Scan(&o.ID, &o.Label, &delta); err != nil {
			return nil, fmt.Errorf("scan charm option: %w", err)
		}
		o.PriceDeltaCents = money.Cents(delta)
		options = append(options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate charm options: %w", err)
	}

	return options, nil
}
