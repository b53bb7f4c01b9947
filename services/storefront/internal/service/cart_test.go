package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	pkgkafka "github.com/lunebijoux/storefront/pkg/kafka"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/event"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository/memory"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// --- Mock Repository ---

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) Get(ctx context.Context, sessionID string) (*cart.Cart, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.Cart), args.Error(1)
}

func (m *mockCartRepository) SaveIfVersion(ctx context.Context, c *cart.Cart, expectedVersion int) (bool, error) {
	args := m.Called(ctx, c, expectedVersion)
	return args.Bool(0), args.Error(1)
}

func (m *mockCartRepository) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// --- Recording Kafka Publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ *pkgkafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// --- Test Helpers ---

const testSession = "0b5e7c1e-8f43-4c55-9d7f-2f3c1a9e6b10"

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(v int) *int { return &v }

func centsPtr(v money.Cents) *money.Cents { return &v }

func floatPtr(v float64) *float64 { return &v }

func percentPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newTestCatalog() *memory.Catalog {
	c := memory.NewCatalog()
	c.PutProduct(
		availability.Product{
			ID: "prod-collier", Name: "Collier Lune", Slug: "collier-lune",
			BasePriceCents: 3490, StockStatus: availability.StatusInStock, WeightGrams: floatPtr(12),
		},
		availability.Variant{ID: "var-or", ColorName: "Or", StockQuantity: 5, LowStockThreshold: 2, Active: true},
		availability.Variant{ID: "var-argent", ColorName: "Argent", StockQuantity: 1, LowStockThreshold: 2, Active: true,
			PriceCents: centsPtr(3990), SortOrder: 1},
	)
	c.PutCharmOptions("prod-collier",
		charm.Option{ID: "heart", Label: "Cœur", PriceDeltaCents: 500},
		charm.Option{ID: "star", Label: "Étoile", PriceDeltaCents: 300},
	)
	c.PutProduct(availability.Product{
		ID: "prod-bague", Name: "Bague Soleil", BasePriceCents: 2000,
		StockStatus: availability.StatusInStock, StockQuantity: intPtr(10), WeightGrams: floatPtr(8),
	})
	c.PutProduct(availability.Product{
		ID: "prod-preco", Name: "Boucles Comète", BasePriceCents: 5000,
		StockStatus: availability.StatusPreorder, PreorderLimit: intPtr(2), PreorderCount: 1,
	})
	return c
}

func newTestPromos() *memory.PromoRepository {
	past := testNow.Add(-time.Hour)
	return memory.NewPromoRepository(
		promo.Code{Code: "LUNE10", DiscountPercent: percentPtr(10), Active: true},
		promo.Code{Code: "BIENVENUE", DiscountAmountCents: centsPtr(500), MinOrderCents: centsPtr(3000), Active: true},
		promo.Code{Code: "HIVER", DiscountPercent: percentPtr(20), ExpiresAt: &past, Active: true},
		promo.Code{Code: "UNIQUE", DiscountAmountCents: centsPtr(1000), MaxUses: intPtr(1), Active: true},
	)
}

type cartFixture struct {
	svc     *CartService
	repo    *memory.CartRepository
	catalog *memory.Catalog
	promos  *memory.PromoRepository
	pub     *recordingPublisher
}

func newCartFixture() *cartFixture {
	f := &cartFixture{
		repo:    memory.NewCartRepository(),
		catalog: newTestCatalog(),
		promos:  newTestPromos(),
		pub:     &recordingPublisher{},
	}
	logger := newTestLogger()
	f.svc = NewCartService(f.repo, f.catalog, f.promos, shipping.DefaultCatalog(0),
		event.NewProducer(f.pub, logger), logger)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func requireAppError(t *testing.T, err error, code string) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

// ---------------------------------------------------------------------------
// GetCart / Quote
// ---------------------------------------------------------------------------

func TestGetCart_Empty(t *testing.T) {
	f := newCartFixture()

	view, err := f.svc.GetCart(context.Background(), testSession)

	require.NoError(t, err)
	assert.Equal(t, testSession, view.Cart.SessionID)
	assert.Empty(t, view.Cart.Items)
	assert.Equal(t, money.Cents(0), view.Quote.TotalCents)
	assert.False(t, view.Quote.ShippingQuoted)
}

func TestGetCart_RequiresSession(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.GetCart(context.Background(), "")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGetCart_RepositoryFault(t *testing.T) {
	repo := new(mockCartRepository)
	logger := newTestLogger()
	svc := NewCartService(repo, newTestCatalog(), newTestPromos(), shipping.DefaultCatalog(0),
		event.NewProducer(&recordingPublisher{}, logger), logger)
	ctx := context.Background()

	repo.On("Get", ctx, testSession).Return(nil, errors.New("redis down"))

	_, err := svc.GetCart(ctx, testSession)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	repo.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// AddItem
// ---------------------------------------------------------------------------

func TestAddItem_PricesFromCatalog(t *testing.T) {
	f := newCartFixture()

	view, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{
		ProductID: "prod-collier", VariantID: "var-argent", Quantity: 1,
	})

	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	item := view.Cart.Items[0]
	assert.Equal(t, money.Cents(3990), item.UnitPriceCents)
	assert.Equal(t, "Argent", item.Color)
	assert.Equal(t, "Collier Lune", item.Name)
	assert.Equal(t, money.Cents(3990), view.Quote.SubtotalCents)
	assert.Equal(t, []string{event.TopicCartUpdated}, f.pub.Topics())

	stored, err := f.repo.Get(context.Background(), testSession)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestAddItem_DefaultsToFirstVariantAndQuantityOne(t *testing.T) {
	f := newCartFixture()

	view, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-collier"})

	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, "var-or", view.Cart.Items[0].VariantID)
	assert.Equal(t, 1, view.Cart.Items[0].Quantity)
	assert.Equal(t, money.Cents(3490), view.Cart.Items[0].UnitPriceCents)
}

func TestAddItem_OptionsPricedFromCatalog(t *testing.T) {
	f := newCartFixture()

	view, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{
		ProductID: "prod-collier", VariantID: "var-or", Quantity: 2, OptionIDs: []string{"heart", "star"},
	})

	require.NoError(t, err)
	item := view.Cart.Items[0]
	assert.Equal(t, money.Cents(3490+500+300), item.UnitTotal())
	assert.Equal(t, money.Cents(2*4290), view.Quote.SubtotalCents)
}

func TestAddItem_SameSelectionMerges(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()
	input := AddItemInput{ProductID: "prod-collier", VariantID: "var-or", OptionIDs: []string{"heart"}}

	_, err := f.svc.AddItem(ctx, testSession, input)
	require.NoError(t, err)
	input.OptionIDs = []string{"heart"}
	view, err := f.svc.AddItem(ctx, testSession, input)

	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, 2, view.Cart.Items[0].Quantity)
}

func TestAddItem_UnknownOption(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{
		ProductID: "prod-collier", OptionIDs: []string{"dragon"},
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_DuplicateOption(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{
		ProductID: "prod-collier", OptionIDs: []string{"heart", "heart"},
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_TooManyOptions(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{
		ProductID: "prod-collier", OptionIDs: []string{"a", "b", "c", "d", "e", "f"},
	})

	requireAppError(t, err, "TOO_MANY_OPTIONS")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAddItem_InsufficientStock(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()

	_, err := f.svc.AddItem(ctx, testSession, AddItemInput{
		ProductID: "prod-collier", VariantID: "var-argent", Quantity: 2,
	})

	appErr := requireAppError(t, err, "INSUFFICIENT_STOCK")
	assert.ErrorIs(t, err, apperrors.ErrUnavailable)
	assert.Equal(t, 1, appErr.Details["available"])

	_, err = f.repo.Get(ctx, testSession)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "a rejected add must not create the cart")
	assert.Empty(t, f.pub.Topics())
}

func TestAddItem_MergedQuantityIsChecked(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()
	input := AddItemInput{ProductID: "prod-collier", VariantID: "var-or", Quantity: 3}

	_, err := f.svc.AddItem(ctx, testSession, input)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, testSession, input)

	requireAppError(t, err, "INSUFFICIENT_STOCK")

	view, err := f.svc.GetCart(ctx, testSession)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Cart.Items[0].Quantity)
}

func TestAddItem_PreorderFull(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-preco", Quantity: 2})

	requireAppError(t, err, "INSUFFICIENT_STOCK")

	f.catalog.PutProduct(availability.Product{
		ID: "prod-preco", Name: "Boucles Comète", BasePriceCents: 5000,
		StockStatus: availability.StatusPreorder, PreorderLimit: intPtr(2), PreorderCount: 2,
	})
	_, err = f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-preco"})

	requireAppError(t, err, "PREORDER_FULL")
}

func TestAddItem_UnknownVariant(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{
		ProductID: "prod-collier", VariantID: "var-rose",
	})

	requireAppError(t, err, "OUT_OF_STOCK")
}

func TestAddItem_UnknownProduct(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-missing"})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAddItem_QuantityOutOfRange(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-bague", Quantity: 101})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_ConcurrentModification(t *testing.T) {
	repo := new(mockCartRepository)
	logger := newTestLogger()
	svc := NewCartService(repo, newTestCatalog(), newTestPromos(), shipping.DefaultCatalog(0),
		event.NewProducer(&recordingPublisher{}, logger), logger)
	ctx := context.Background()

	existing := cart.New(testSession, testNow)
	existing.Version = 4
	repo.On("Get", ctx, testSession).Return(existing, nil)
	repo.On("SaveIfVersion", ctx, mock.AnythingOfType("*cart.Cart"), 4).Return(false, nil)

	_, err := svc.AddItem(ctx, testSession, AddItemInput{ProductID: "prod-bague"})

	assert.ErrorIs(t, err, apperrors.ErrConflict)
	repo.AssertExpectations(t)
}

func TestAddItem_PublishFailureDoesNotFail(t *testing.T) {
	f := newCartFixture()
	f.pub.err = errors.New("broker unavailable")

	view, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-bague"})

	require.NoError(t, err)
	assert.Len(t, view.Cart.Items, 1)
}

// ---------------------------------------------------------------------------
// UpdateQuantity / RemoveItem / ToggleOption / Clear
// ---------------------------------------------------------------------------

func addBague(t *testing.T, f *cartFixture, qty int) uuid.UUID {
	t.Helper()
	view, err := f.svc.AddItem(context.Background(), testSession, AddItemInput{ProductID: "prod-bague", Quantity: qty})
	require.NoError(t, err)
	return view.Cart.Items[len(view.Cart.Items)-1].ID
}

func TestUpdateQuantity(t *testing.T) {
	f := newCartFixture()
	id := addBague(t, f, 1)

	view, err := f.svc.UpdateQuantity(context.Background(), testSession, id, UpdateQuantityInput{Quantity: 4})

	require.NoError(t, err)
	assert.Equal(t, 4, view.Cart.Items[0].Quantity)
	assert.Equal(t, money.Cents(8000), view.Quote.SubtotalCents)
}

func TestUpdateQuantity_ZeroRemovesLine(t *testing.T) {
	f := newCartFixture()
	id := addBague(t, f, 2)

	view, err := f.svc.UpdateQuantity(context.Background(), testSession, id, UpdateQuantityInput{Quantity: 0})

	require.NoError(t, err)
	assert.Empty(t, view.Cart.Items)
}

func TestUpdateQuantity_UnknownItem(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	_, err := f.svc.UpdateQuantity(context.Background(), testSession, uuid.New(), UpdateQuantityInput{Quantity: 2})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateQuantity_NoCart(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.UpdateQuantity(context.Background(), testSession, uuid.New(), UpdateQuantityInput{Quantity: 2})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRemoveItem(t *testing.T) {
	f := newCartFixture()
	id := addBague(t, f, 1)

	view, err := f.svc.RemoveItem(context.Background(), testSession, id)

	require.NoError(t, err)
	assert.Empty(t, view.Cart.Items)
	assert.Equal(t, 2, view.Cart.Version)
}

func TestRemoveItem_UnknownIsNoOp(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	view, err := f.svc.RemoveItem(context.Background(), testSession, uuid.New())

	require.NoError(t, err)
	assert.Len(t, view.Cart.Items, 1)
	assert.Equal(t, 1, view.Cart.Version)
}

func TestToggleOption(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()
	view, err := f.svc.AddItem(ctx, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-or"})
	require.NoError(t, err)
	id := view.Cart.Items[0].ID

	view, err = f.svc.ToggleOption(ctx, testSession, id, ToggleOptionInput{OptionID: "star"})
	require.NoError(t, err)
	assert.Equal(t, money.Cents(3790), view.Cart.Items[0].UnitTotal())

	view, err = f.svc.ToggleOption(ctx, testSession, id, ToggleOptionInput{OptionID: "star"})
	require.NoError(t, err)
	assert.Empty(t, view.Cart.Items[0].Options)
}

func TestToggleOption_UnknownOption(t *testing.T) {
	f := newCartFixture()
	id := addBague(t, f, 1)

	_, err := f.svc.ToggleOption(context.Background(), testSession, id, ToggleOptionInput{OptionID: "heart"})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestClear(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	view, err := f.svc.Clear(context.Background(), testSession)

	require.NoError(t, err)
	assert.Empty(t, view.Cart.Items)
	assert.Equal(t, []string{event.TopicCartUpdated, event.TopicCartCleared}, f.pub.Topics())
}

// ---------------------------------------------------------------------------
// Promo codes
// ---------------------------------------------------------------------------

func TestApplyPromo_Percentage(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 2)

	view, err := f.svc.ApplyPromo(context.Background(), testSession, ApplyPromoInput{Code: " lune10 "})

	require.NoError(t, err)
	require.NotNil(t, view.Cart.Promo)
	assert.Equal(t, "LUNE10", view.Cart.Promo.Code)
	assert.Equal(t, money.Cents(400), view.Quote.DiscountCents)
	assert.Equal(t, money.Cents(3600), view.Quote.TotalCents)
}

func TestApplyPromo_MinimumNotMet(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	_, err := f.svc.ApplyPromo(context.Background(), testSession, ApplyPromoInput{Code: "BIENVENUE"})

	appErr := requireAppError(t, err, "PROMO_MINIMUM_NOT_MET")
	assert.Equal(t, int64(3000), appErr.Details["min_order_cents"])

	view, err := f.svc.GetCart(context.Background(), testSession)
	require.NoError(t, err)
	assert.Nil(t, view.Cart.Promo)
	assert.Equal(t, 1, view.Cart.Version)
}

func TestApplyPromo_Expired(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	_, err := f.svc.ApplyPromo(context.Background(), testSession, ApplyPromoInput{Code: "HIVER"})

	requireAppError(t, err, "PROMO_EXPIRED")
}

func TestApplyPromo_Unknown(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	_, err := f.svc.ApplyPromo(context.Background(), testSession, ApplyPromoInput{Code: "NOPE"})

	requireAppError(t, err, "PROMO_INVALID_OR_EXPIRED")
	assert.True(t, apperrors.IsRecoverable(err))
}

func TestPromoDetachedWhenSubtotalDrops(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()
	id := addBague(t, f, 2)
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "BIENVENUE"})
	require.NoError(t, err)

	view, err := f.svc.UpdateQuantity(ctx, testSession, id, UpdateQuantityInput{Quantity: 1})

	require.NoError(t, err)
	assert.Nil(t, view.Cart.Promo)
	require.NotNil(t, view.Quote.PromoNotice)
	assert.Equal(t, promo.ReasonMinimumNotMet, view.Quote.PromoNotice.Reason)
	assert.Equal(t, money.Cents(0), view.Quote.DiscountCents)
}

func TestRemovePromo(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()
	addBague(t, f, 1)
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "LUNE10"})
	require.NoError(t, err)

	view, err := f.svc.RemovePromo(ctx, testSession)

	require.NoError(t, err)
	assert.Nil(t, view.Cart.Promo)
	assert.Equal(t, money.Cents(2000), view.Quote.TotalCents)
}

// ---------------------------------------------------------------------------
// Shipping
// ---------------------------------------------------------------------------

func TestSelectShipping(t *testing.T) {
	f := newCartFixture()
	addBague(t, f, 1)

	view, err := f.svc.SelectShipping(context.Background(), testSession, SelectShippingInput{MethodID: shipping.MethodColissimo})

	require.NoError(t, err)
	assert.True(t, view.Quote.ShippingQuoted)
	assert.Equal(t, money.Cents(418), view.Quote.ShippingCents)
	assert.Equal(t, money.Cents(2418), view.Quote.TotalCents)
}

func TestSelectShipping_UnknownMethod(t *testing.T) {
	f := newCartFixture()

	_, err := f.svc.SelectShipping(context.Background(), testSession, SelectShippingInput{MethodID: "pigeon"})

	requireAppError(t, err, "UNKNOWN_SHIPPING_METHOD")
}

func TestQuote_FreeShippingUsesSubtotalBeforeDiscount(t *testing.T) {
	f := newCartFixture()
	ctx := context.Background()
	addBague(t, f, 5)
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "LUNE10"})
	require.NoError(t, err)
	_, err = f.svc.SelectShipping(ctx, testSession, SelectShippingInput{MethodID: shipping.MethodColissimo})
	require.NoError(t, err)

	q, err := f.svc.Quote(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, money.Cents(10000), q.SubtotalCents)
	assert.Equal(t, money.Cents(1000), q.DiscountCents)
	assert.True(t, q.FreeShipping)
	assert.Equal(t, money.Cents(9000), q.TotalCents)
}
