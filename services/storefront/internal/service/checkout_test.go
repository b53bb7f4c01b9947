package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/event"
	"github.com/lunebijoux/storefront/services/storefront/internal/order"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository/memory"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// --- Store Doubles ---

// racingStock loses the conditional update for one variant, as if another
// order took the last units between the check and the decrement.
type racingStock struct {
	repository.StockStore
	loseVariant string
}

func (s *racingStock) DecrementVariant(ctx context.Context, variantID string, n int) (availability.Level, error) {
	if variantID == s.loseVariant {
		return availability.Level{}, fmt.Errorf("decrement variant %s: %w", variantID, availability.ErrConditionFailed)
	}
	return s.StockStore.DecrementVariant(ctx, variantID, n)
}

// exhaustedPromos accepts codes on lookup but refuses every redemption.
type exhaustedPromos struct {
	*memory.PromoRepository
}

func (exhaustedPromos) Redeem(context.Context, string) (bool, error) { return false, nil }

// failingOrders refuses to record orders.
type failingOrders struct{}

func (failingOrders) Create(context.Context, *order.Order) error {
	return errors.New("orders table locked")
}

// interleavedCarts runs onSave before each of the first saves, standing in
// for requests that reach the store while a commit is in flight.
type interleavedCarts struct {
	*memory.CartRepository
	mu     sync.Mutex
	saves  int
	onSave func(n int)
}

func (r *interleavedCarts) SaveIfVersion(ctx context.Context, c *cart.Cart, expectedVersion int) (bool, error) {
	r.mu.Lock()
	r.saves++
	n := r.saves
	r.mu.Unlock()
	if r.onSave != nil {
		r.onSave(n)
	}
	return r.CartRepository.SaveIfVersion(ctx, c, expectedVersion)
}

// --- Test Helpers ---

type checkoutFixture struct {
	*cartFixture
	checkout *CheckoutService
	orders   *memory.OrderRepository
}

func newCheckoutFixture() *checkoutFixture {
	return newCheckoutFixtureWith(nil, nil, nil)
}

func newCheckoutFixtureWith(stock repository.StockStore, promos repository.PromoRepository, orders repository.OrderRepository) *checkoutFixture {
	cf := newCartFixture()
	f := &checkoutFixture{cartFixture: cf, orders: memory.NewOrderRepository()}
	if stock == nil {
		stock = cf.catalog
	}
	if promos == nil {
		promos = cf.promos
	}
	if orders == nil {
		orders = f.orders
	}
	logger := newTestLogger()
	f.checkout = NewCheckoutService(cf.repo, cf.catalog, stock, promos, orders,
		shipping.DefaultCatalog(0), event.NewProducer(cf.pub, logger), logger)
	f.checkout.now = func() time.Time { return testNow }
	return f
}

func (f *checkoutFixture) add(t *testing.T, session string, input AddItemInput) {
	t.Helper()
	_, err := f.svc.AddItem(context.Background(), session, input)
	require.NoError(t, err)
}

func variantStock(t *testing.T, c *memory.Catalog, productID, variantID string) int {
	t.Helper()
	variants, err := c.ListVariants(context.Background(), productID)
	require.NoError(t, err)
	for _, v := range variants {
		if v.ID == variantID {
			return v.StockQuantity
		}
	}
	t.Fatalf("variant %s not found", variantID)
	return 0
}

func countTopic(topics []string, topic string) int {
	n := 0
	for _, t := range topics {
		if t == topic {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Commit
// ---------------------------------------------------------------------------

func TestCommit_AllLinesCommitted(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-or", Quantity: 2})
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "LUNE10"})
	require.NoError(t, err)
	_, err = f.svc.SelectShipping(ctx, testSession, SelectShippingInput{MethodID: shipping.MethodColissimo})
	require.NoError(t, err)

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, order.StatusCommitted, res.Order.Status)
	assert.Len(t, res.Order.Lines, 2)
	assert.Equal(t, money.Cents(8980), res.Order.SubtotalCents)
	assert.Equal(t, money.Cents(898), res.Order.DiscountCents)
	assert.Equal(t, money.Cents(418), res.Order.ShippingCents)
	assert.Equal(t, money.Cents(8980-898+418), res.Order.TotalCents)
	assert.Equal(t, "LUNE10", res.Order.PromoCode)
	assert.Empty(t, res.Conflicts)

	assert.Empty(t, res.Cart.Cart.Items)
	assert.Nil(t, res.Cart.Cart.Promo)
	assert.Equal(t, 3, variantStock(t, f.catalog, "prod-collier", "var-or"))
	assert.Equal(t, 1, f.promos.UsedCount("LUNE10"))
	assert.Len(t, f.orders.Orders(), 1)

	topics := f.pub.Topics()
	assert.Equal(t, 1, countTopic(topics, event.TopicOrderCommitted))
	assert.Equal(t, 1, countTopic(topics, event.TopicCartCleared))

	stored, err := f.repo.Get(ctx, testSession)
	require.NoError(t, err)
	assert.True(t, stored.IsEmpty())
}

func TestCommit_EmptyCart(t *testing.T) {
	f := newCheckoutFixture()

	_, err := f.checkout.Commit(context.Background(), testSession)

	requireAppError(t, err, "CART_EMPTY")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestCommit_StockChangedSinceAdd(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-or", Quantity: 3})
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})

	// Another shopper buys 4 of the 5 gold necklaces.
	_, err := f.catalog.DecrementVariant(ctx, "var-or", 4)
	require.NoError(t, err)

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, order.StatusPartial, res.Order.Status)
	require.Len(t, res.Order.Lines, 1)
	assert.Equal(t, "prod-bague", res.Order.Lines[0].ProductID)

	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "var-or", res.Conflicts[0].VariantID)
	assert.Equal(t, string(availability.ReasonInsufficientStock), res.Conflicts[0].Reason)
	assert.Equal(t, 1, res.Conflicts[0].Available)

	require.Len(t, res.Cart.Cart.Items, 1)
	left := res.Cart.Cart.Items[0]
	assert.Equal(t, "var-or", left.VariantID)
	require.NotNil(t, left.Flag)
	assert.Equal(t, string(availability.ReasonInsufficientStock), left.Flag.Reason)
	assert.Equal(t, 1, variantStock(t, f.catalog, "prod-collier", "var-or"), "the flagged line must not be decremented")
}

func TestCommit_ConditionalUpdateLost(t *testing.T) {
	catalog := newTestCatalog()
	f := newCheckoutFixtureWith(&racingStock{StockStore: catalog, loseVariant: "var-or"}, nil, nil)
	f.catalog = catalog
	f.svc.catalog = catalog
	f.checkout.catalog = catalog
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-or"})
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-argent"})

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, order.StatusPartial, res.Order.Status)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, FlagCommitConflict, res.Conflicts[0].Reason)
	assert.Equal(t, 0, variantStock(t, catalog, "prod-collier", "var-argent"))
	assert.Equal(t, 5, variantStock(t, catalog, "prod-collier", "var-or"))
}

func TestCommit_NothingCommitted(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-argent"})
	_, err := f.catalog.DecrementVariant(ctx, "var-argent", 1)
	require.NoError(t, err)

	_, err = f.checkout.Commit(ctx, testSession)

	appErr := requireAppError(t, err, "COMMIT_CONFLICT")
	assert.ErrorIs(t, err, apperrors.ErrCommitConflict)
	conflicts, ok := appErr.Details["conflicts"].([]LineConflict)
	require.True(t, ok)
	require.Len(t, conflicts, 1)
	assert.Equal(t, string(availability.ReasonOutOfStock), conflicts[0].Reason)
	assert.Empty(t, f.orders.Orders())
	assert.Zero(t, countTopic(f.pub.Topics(), event.TopicOrderCommitted))

	stored, err := f.repo.Get(ctx, testSession)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.NotNil(t, stored.Items[0].Flag)
}

func TestCommit_PreorderReservation(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-preco"})

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCommitted, res.Order.Status)
	p, err := f.catalog.GetProduct(ctx, "prod-preco")
	require.NoError(t, err)
	assert.Equal(t, 2, p.PreorderCount)
}

func TestCommit_StockLowEvent(t *testing.T) {
	f := newCheckoutFixture()
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-or", Quantity: 3})

	_, err := f.checkout.Commit(context.Background(), testSession)

	require.NoError(t, err)
	assert.Equal(t, 1, countTopic(f.pub.Topics(), event.TopicStockLow))
}

func TestCommit_PromoDroppedWhenNoLongerEligible(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "UNIQUE"})
	require.NoError(t, err)

	// Someone else used the last redemption in the meantime.
	ok, err := f.promos.Redeem(ctx, "UNIQUE")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), res.Order.DiscountCents)
	assert.Empty(t, res.Order.PromoCode)
	assert.Equal(t, 1, f.promos.UsedCount("UNIQUE"))
}

func TestCommit_RedemptionLostAtCommit(t *testing.T) {
	promos := newTestPromos()
	f := newCheckoutFixtureWith(nil, exhaustedPromos{promos}, nil)
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague", Quantity: 2})
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-argent"})
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "UNIQUE"})
	require.NoError(t, err)

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, money.Cents(0), res.Order.DiscountCents)
	assert.Equal(t, money.Cents(7990), res.Order.TotalCents)
}

func TestCommit_PartialOrderBelowMinimumIsNotDiscounted(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-argent"})
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "BIENVENUE"})
	require.NoError(t, err)
	_, err = f.catalog.DecrementVariant(ctx, "var-argent", 1)
	require.NoError(t, err)

	res, err := f.checkout.Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Equal(t, order.StatusPartial, res.Order.Status)
	assert.Equal(t, money.Cents(2000), res.Order.SubtotalCents)
	assert.Equal(t, money.Cents(0), res.Order.DiscountCents)
	assert.Equal(t, 0, f.promos.UsedCount("BIENVENUE"))
}

func TestCommit_PromoStoreOutageAborts(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})
	_, err := f.svc.ApplyPromo(ctx, testSession, ApplyPromoInput{Code: "LUNE10"})
	require.NoError(t, err)

	guard := NewGuard(GuardConfig{Name: "test-promo-outage", Timeout: time.Second, OpenTimeout: time.Minute,
		FailureRatio: 0.5, MinRequests: 1}, newTestLogger())
	_, _ = guarded(ctx, guard, func(context.Context) (struct{}, error) { return struct{}{}, errors.New("boom") })
	f.checkout.validator = promo.NewValidator(GuardPromos(f.promos, guard))

	_, err = f.checkout.Commit(ctx, testSession)

	assert.ErrorIs(t, err, apperrors.ErrTryAgain)
	assert.Equal(t, 10, variantStockOrQuantity(t, f.catalog, "prod-bague"))
}

func variantStockOrQuantity(t *testing.T, c *memory.Catalog, productID string) int {
	t.Helper()
	p, err := c.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.NotNil(t, p.StockQuantity)
	return *p.StockQuantity
}

func TestCommit_OrderRecordFailureStillCommits(t *testing.T) {
	f := newCheckoutFixtureWith(nil, nil, failingOrders{})
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})

	res, err := f.checkout.Commit(context.Background(), testSession)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCommitted, res.Order.Status)
	assert.Equal(t, 1, countTopic(f.pub.Topics(), event.TopicOrderCommitted))
}

// Two shoppers race for the same units: exactly one gets them and the
// counter never goes negative.
func TestCommit_ConcurrentShoppersNeverOversell(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	sessions := []string{
		"9d1c2b51-3a0e-4b8f-8f2a-6a0d7c1b2e01",
		"9d1c2b51-3a0e-4b8f-8f2a-6a0d7c1b2e02",
	}
	for _, s := range sessions {
		f.add(t, s, AddItemInput{ProductID: "prod-collier", VariantID: "var-or", Quantity: 3})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
		conflicts int
	)
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.checkout.Commit(ctx, s)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case errors.Is(err, apperrors.ErrCommitConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 2, variantStock(t, f.catalog, "prod-collier", "var-or"))
	assert.Len(t, f.orders.Orders(), 1)
}

func newInterleavedCheckout(f *checkoutFixture, carts *interleavedCarts) *CheckoutService {
	logger := newTestLogger()
	svc := NewCheckoutService(carts, f.catalog, f.catalog, f.promos, f.orders,
		shipping.DefaultCatalog(0), event.NewProducer(f.pub, logger), logger)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestCommit_CartChangedMeanwhileDropsCommittedLines(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-collier", VariantID: "var-or", Quantity: 2})

	carts := &interleavedCarts{CartRepository: f.repo}
	carts.onSave = func(n int) {
		if n == 1 {
			f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})
		}
	}

	res, err := newInterleavedCheckout(f, carts).Commit(ctx, testSession)

	require.NoError(t, err)
	require.Len(t, res.Order.Lines, 1)
	assert.Equal(t, "var-or", res.Order.Lines[0].VariantID)
	assert.Equal(t, 3, variantStock(t, f.catalog, "prod-collier", "var-or"))
	assert.Equal(t, 2, carts.saves)

	stored, err := f.repo.Get(ctx, testSession)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "prod-bague", stored.Items[0].ProductID)
	require.Len(t, res.Cart.Cart.Items, 1)
	assert.Equal(t, "prod-bague", res.Cart.Cart.Items[0].ProductID)

	// Checking out again only orders the line added meanwhile.
	again, err := f.checkout.Commit(ctx, testSession)
	require.NoError(t, err)
	require.Len(t, again.Order.Lines, 1)
	assert.Equal(t, "prod-bague", again.Order.Lines[0].ProductID)
	assert.Equal(t, 3, variantStock(t, f.catalog, "prod-collier", "var-or"))
}

func TestCommit_CartKeepsChangingGivesUp(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()
	f.add(t, testSession, AddItemInput{ProductID: "prod-bague"})

	carts := &interleavedCarts{CartRepository: f.repo}
	carts.onSave = func(int) {
		_, err := f.svc.SelectShipping(ctx, testSession, SelectShippingInput{MethodID: shipping.MethodColissimo})
		require.NoError(t, err)
	}

	res, err := newInterleavedCheckout(f, carts).Commit(ctx, testSession)

	require.NoError(t, err)
	assert.Len(t, res.Order.Lines, 1)
	assert.Equal(t, settleAttempts, carts.saves)
	assert.Len(t, f.orders.Orders(), 1)
}
