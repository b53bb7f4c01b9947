package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lunebijoux/storefront/pkg/database"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
)

// StockStore implements availability.StockStore with conditional UPDATE
// statements. A row is only touched when the condition still holds, so two
// checkouts racing for the last unit cannot both win.
type StockStore struct {
	pool database.DBTX
}

// NewStockStore creates a new PostgreSQL-backed stock store.
func NewStockStore(pool database.DBTX) *StockStore {
	return &StockStore{pool: pool}
}

const decrementVariantSQL = `
		UPDATE product_variants
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND is_active = true AND stock_quantity >= $2
		RETURNING stock_quantity, low_stock_threshold`

// DecrementVariant removes n units from a variant.
func (s *StockStore) DecrementVariant(ctx context.Context, variantID string, n int) (level availability.Level, err error) {
	ctx, end := database.TraceQuery(ctx, "DecrementVariant", decrementVariantSQL)
	defer func() { end(err) }()

	var remaining, threshold int
	err = s.pool.QueryRow(ctx, decrementVariantSQL, variantID, n).Scan(&remaining, &threshold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return availability.Level{}, fmt.Errorf("decrement variant %s by %d: %w", variantID, n, availability.ErrConditionFailed)
		}
		return availability.Level{}, fmt.Errorf("decrement variant: %w", err)
	}

	return availability.NewLevel(variantID, remaining, threshold, n), nil
}

const decrementProductSQL = `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
		    stock_status = CASE WHEN stock_quantity - $2 <= 0 THEN 'out_of_stock' ELSE stock_status END,
		    updated_at = NOW()
		WHERE id = $1 AND stock_status IN ('in_stock', 'low_stock') AND stock_quantity >= $2
		RETURNING stock_quantity`

// DecrementProduct removes n units from a product sold without variants.
func (s *StockStore) DecrementProduct(ctx context.Context, productID string, n int) (level availability.Level, err error) {
	ctx, end := database.TraceQuery(ctx, "DecrementProduct", decrementProductSQL)
	defer func() { end(err) }()

	var remaining int
	err = s.pool.QueryRow(ctx, decrementProductSQL, productID, n).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return availability.Level{}, fmt.Errorf("decrement product %s by %d: %w", productID, n, availability.ErrConditionFailed)
		}
		return availability.Level{}, fmt.Errorf("decrement product: %w", err)
	}

	return availability.NewLevel(productID, remaining, 0, n), nil
}

const reservePreorderSQL = `
		UPDATE products
		SET preorder_count = preorder_count + $2, updated_at = NOW()
		WHERE id = $1 AND stock_status = 'preorder'
		  AND (preorder_limit IS NULL OR preorder_count + $2 <= preorder_limit)
		RETURNING preorder_count, preorder_limit`

// ReservePreorder books n units against a product's preorder quota.
func (s *StockStore) ReservePreorder(ctx context.Context, productID string, n int) (level availability.Level, err error) {
	ctx, end := database.TraceQuery(ctx, "ReservePreorder", reservePreorderSQL)
	defer func() { end(err) }()

	var (
		count int
		limit *int
	)
	err = s.pool.QueryRow(ctx, reservePreorderSQL, productID, n).Scan(&count, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return availability.Level{}, fmt.Errorf("reserve preorder %s by %d: %w", productID, n, availability.ErrConditionFailed)
		}
		return availability.Level{}, fmt.Errorf("reserve preorder: %w", err)
	}

	if limit == nil {
		return availability.Level{ID: productID, Remaining: availability.NoCeiling, Status: availability.StatusPreorder, Previous: availability.StatusPreorder}, nil
	}
	return availability.PreorderLevel(productID, *limit, count), nil
}
