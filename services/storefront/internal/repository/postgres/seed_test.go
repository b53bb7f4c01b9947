package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

func TestSeeder_Product(t *testing.T) {
	mock := setupMock(t)
	seeder := NewSeeder(mock)
	price := money.Cents(3990)

	mock.ExpectExec("INSERT INTO products").
		WithArgs("collier-lune", "Collier Lune", "collier-lune", int64(3490), "in_stock", (*int)(nil),
			(*int)(nil), 0, pgxmock.AnyArg(), float64Ptr(12)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO product_variants").
		WithArgs("collier-lune-rose", "collier-lune", "Or rose", 5, 2, int64Ptr(3990), true, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO charm_options").
		WithArgs("initiale", "collier-lune", "Initiale gravée", int64(500), 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := seeder.Product(context.Background(),
		availability.Product{
			ID: "collier-lune", Name: "Collier Lune", Slug: "collier-lune", BasePriceCents: 3490,
			StockStatus: availability.StatusInStock, WeightGrams: float64Ptr(12),
		},
		[]availability.Variant{{
			ID: "collier-lune-rose", ColorName: "Or rose", StockQuantity: 5, LowStockThreshold: 2,
			PriceCents: &price, Active: true, SortOrder: 2,
		}},
		[]charm.Option{{ID: "initiale", Label: "Initiale gravée", PriceDeltaCents: 500}},
	)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeeder_ProductError(t *testing.T) {
	mock := setupMock(t)
	seeder := NewSeeder(mock)

	mock.ExpectExec("INSERT INTO products").
		WillReturnError(errors.New("relation \"products\" does not exist"))

	err := seeder.Product(context.Background(), availability.Product{ID: "bague"}, nil, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed product bague")
}

func TestSeeder_Promo(t *testing.T) {
	mock := setupMock(t)
	seeder := NewSeeder(mock)
	percent := decimal.NewFromInt(10)

	mock.ExpectExec("INSERT INTO promo_codes").
		WithArgs("LUNE10", strPtr("10.00"), (*int64)(nil), (*int64)(nil), pgxmock.AnyArg(), (*int)(nil), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := seeder.Promo(context.Background(), promo.Code{Code: "LUNE10", DiscountPercent: &percent, Active: true})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeeder_ShippingMethod(t *testing.T) {
	mock := setupMock(t)
	seeder := NewSeeder(mock)
	m := shipping.DefaultMethods(0)[1]

	mock.ExpectExec("INSERT INTO shipping_methods").
		WithArgs(shipping.MethodLettreSuivie, "Lettre suivie", pgxmock.AnyArg(), int64Ptr(6000), 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, seeder.ShippingMethod(context.Background(), m, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeeder_ShippingMethodInvalid(t *testing.T) {
	mock := setupMock(t)
	seeder := NewSeeder(mock)

	err := seeder.ShippingMethod(context.Background(), shipping.Method{ID: "vide"}, 0)

	assert.ErrorIs(t, err, shipping.ErrInvalidMethod)
	assert.NoError(t, mock.ExpectationsWereMet())
}
