package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/lunebijoux/storefront/pkg/database"
	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
)

// PromoRepository implements repository.PromoRepository using PostgreSQL.
type PromoRepository struct {
	pool database.DBTX
}

// NewPromoRepository creates a new PostgreSQL-backed promo code repository.
func NewPromoRepository(pool database.DBTX) *PromoRepository {
	return &PromoRepository{pool: pool}
}

const findActivePromoSQL = `
		SELECT code, discount_percent::text, discount_amount_cents, min_amount_cents,
		       expires_at, max_uses, used_count, is_active
		FROM promo_codes
		WHERE upper(code) = $1 AND is_active = true`

// FindActive retrieves an active promo code by its upper-cased form.
func (r *PromoRepository) FindActive(ctx context.Context, code string) (*promo.Code, error) {
	var (
		c         promo.Code
		percent   *string
		amount    *int64
		minAmount *int64
		expiresAt *time.Time
		maxUses   *int
	)

	err := r.pool.QueryRow(ctx, findActivePromoSQL, code).Scan(
		&c.Code,
		&percent,
		&amount,
		&minAmount,
		&expiresAt,
		&maxUses,
		&c.UsedCount,
		&c.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("promo code", code)
		}
		return nil, fmt.Errorf("get promo code: %w", err)
	}

	if percent != nil {
		d, err := decimal.NewFromString(*percent)
		if err != nil {
			return nil, fmt.Errorf("parse discount_percent of %s: %w", c.Code, err)
		}
		c.DiscountPercent = &d
	}
	c.DiscountAmountCents = centsPtr(amount)
	c.MinOrderCents = centsPtr(minAmount)
	c.ExpiresAt = expiresAt
	c.MaxUses = maxUses

	return &c, nil
}

const redeemPromoSQL = `
		UPDATE promo_codes
		SET used_count = used_count + 1, updated_at = NOW()
		WHERE upper(code) = $1 AND is_active = true
		  AND (max_uses IS NULL OR used_count < max_uses)`

// Redeem atomically increments used_count when the cap allows it.
func (r *PromoRepository) Redeem(ctx context.Context, code string) (ok bool, err error) {
	ctx, end := database.TraceQuery(ctx, "RedeemPromo", redeemPromoSQL)
	defer func() { end(err) }()

	ct, err := r.pool.Exec(ctx, redeemPromoSQL, code)
	if err != nil {
		return false, fmt.Errorf("redeem promo code: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func centsPtr(v *int64) *money.Cents {
	if v == nil {
		return nil
	}
	c := money.Cents(*v)
	return &c
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
