package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/event"
	"github.com/lunebijoux/storefront/services/storefront/internal/order"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// Reasons recorded on lines that could not be committed, besides the
// availability rejection reasons.
const (
	FlagCommitConflict = "commit_conflict"
	FlagTryAgain       = "try_again"
)

// defaultCommitConcurrency bounds the stock decrements issued at once.
const defaultCommitConcurrency = 4

// LineConflict describes a cart line left in the cart at commit.
type LineConflict struct {
	ItemID    uuid.UUID `json:"item_id"`
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	cart.LineFlag
}

// CommitResult is the outcome of a commit that recorded an order.
type CommitResult struct {
	Order     *order.Order   `json:"order"`
	Conflicts []LineConflict `json:"conflicts,omitempty"`
	Cart      *CartView      `json:"cart"`
}

// CheckoutService turns a cart into an order, decrementing the shared stock
// counters with conditional updates.
type CheckoutService struct {
	carts       repository.CartRepository
	catalog     repository.CatalogRepository
	stock       repository.StockStore
	promos      repository.PromoRepository
	validator   *promo.Validator
	orders      repository.OrderRepository
	shipping    *shipping.Catalog
	producer    *event.Producer
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// NewCheckoutService creates a new checkout service. catalog and promos
// should already be wrapped with a Guard.
func NewCheckoutService(
	carts repository.CartRepository,
	catalog repository.CatalogRepository,
	stock repository.StockStore,
	promos repository.PromoRepository,
	orders repository.OrderRepository,
	shippingCatalog *shipping.Catalog,
	producer *event.Producer,
	logger *slog.Logger,
) *CheckoutService {
	return &CheckoutService{
		carts:       carts,
		catalog:     catalog,
		stock:       stock,
		promos:      promos,
		validator:   promo.NewValidator(promos),
		orders:      orders,
		shipping:    shippingCatalog,
		producer:    producer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: defaultCommitConcurrency,
	}
}

type lineOutcome struct {
	item      cart.LineItem
	level     availability.Level
	committed bool
	flag      cart.LineFlag
}

// Commit re-quotes the session's cart and commits every line it can. Lines
// whose stock changed since they were added are flagged and stay in the
// cart; the rest become the order. When no line can be committed the call
// fails with a CommitConflict and nothing is recorded.
func (s *CheckoutService) Commit(ctx context.Context, sessionID string) (*CommitResult, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}

	c, err := s.carts.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ValidationRejected("CART_EMPTY", "the cart is empty")
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	c.Now = s.now
	if c.IsEmpty() {
		return nil, apperrors.ValidationRejected("CART_EMPTY", "the cart is empty")
	}
	expectedVersion := c.Version
	now := s.now()

	if err := s.revalidatePromo(ctx, c, now); err != nil {
		return nil, err
	}

	outcomes := s.commitLines(ctx, c.Items)

	var (
		committed    []cart.LineItem
		committedIDs []uuid.UUID
		lines        []order.Line
		conflicts    []LineConflict
	)
	for _, o := range outcomes {
		if o.committed {
			committed = append(committed, o.item)
			committedIDs = append(committedIDs, o.item.ID)
			lines = append(lines, order.LineFromItem(o.item))
			continue
		}
		conflicts = append(conflicts, LineConflict{
			ItemID:    o.item.ID,
			ProductID: o.item.ProductID,
			VariantID: o.item.VariantID,
			LineFlag:  o.flag,
		})
	}
	commitConflictsTotal.Add(float64(len(conflicts)))

	if len(committed) == 0 {
		s.settleCart(ctx, c, expectedVersion, func(x *cart.Cart) { flagConflicts(x, conflicts) })
		return nil, apperrors.CommitConflict("no line of the cart could be committed").
			WithDetail("conflicts", conflicts)
	}

	committedCart := &cart.Cart{
		SessionID:        c.SessionID,
		Items:            committed,
		Promo:            c.Promo,
		ShippingMethodID: c.ShippingMethodID,
		Now:              s.now,
	}
	redeemed := s.redeemPromo(ctx, c, committedCart)
	quote := committedCart.Quote(s.shipping)
	quotesComputedTotal.Inc()

	o := order.New(sessionID, lines, quote, len(conflicts) > 0, now)
	if err := s.orders.Create(ctx, o); err != nil {
		// Stock is already committed; the order.committed event still
		// carries the order.
		s.logger.ErrorContext(ctx, "failed to record order",
			slog.String("session_id", sessionID),
			slog.String("order_id", o.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	c = s.settleCart(ctx, c, expectedVersion, func(x *cart.Cart) {
		flagConflicts(x, conflicts)
		x.RemoveItems(committedIDs)
		if x.IsEmpty() {
			x.Clear()
		} else if redeemed {
			x.Promo = nil
		}
	})

	s.publish(ctx, c, o, outcomes)
	ordersCommittedTotal.WithLabelValues(string(o.Status)).Inc()

	s.logger.InfoContext(ctx, "order committed",
		slog.String("session_id", sessionID),
		slog.String("order_id", o.ID.String()),
		slog.String("status", string(o.Status)),
		slog.Int("lines", len(o.Lines)),
		slog.Int("conflicts", len(conflicts)),
		slog.Int64("total_cents", int64(o.TotalCents)),
	)

	return &CommitResult{
		Order:     o,
		Conflicts: conflicts,
		Cart:      &CartView{Cart: c, Quote: c.Quote(s.shipping)},
	}, nil
}

// revalidatePromo checks the attached code against the record store again.
// An ineligible code is detached with a notice and the commit goes on
// without it. A store outage aborts the commit.
func (s *CheckoutService) revalidatePromo(ctx context.Context, c *cart.Cart, now time.Time) error {
	if c.Promo == nil {
		return nil
	}

	desc, err := s.validator.Validate(ctx, c.Promo.Code, c.Subtotal(), now)
	if err != nil {
		var rej *promo.Rejection
		if !errors.As(err, &rej) {
			return fmt.Errorf("revalidate promo code: %w", err)
		}
		if rej.Reason == promo.ReasonTryAgain {
			return rej.AppError()
		}
		promoRejectionsTotal.WithLabelValues(string(rej.Reason)).Inc()
		s.logger.InfoContext(ctx, "promo code dropped at commit",
			slog.String("session_id", c.SessionID),
			slog.String("code", rej.Code),
			slog.String("reason", string(rej.Reason)),
		)
		c.DropPromo(rej)
		return nil
	}
	c.Promo = &desc
	return nil
}

// redeemPromo consumes one use of the code for the committed lines. When
// the cap was reached in the meantime, or the committed lines fall under
// the minimum order, the order is priced without the discount.
func (s *CheckoutService) redeemPromo(ctx context.Context, c, committed *cart.Cart) bool {
	if committed.Promo == nil {
		return false
	}
	if !committed.Promo.MeetsMinimum(committed.Subtotal()) {
		committed.Promo = nil
		return false
	}

	code := committed.Promo.Code
	ok, err := s.promos.Redeem(ctx, code)
	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "failed to redeem promo code",
			slog.String("session_id", c.SessionID),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		committed.Promo = nil
		c.DropPromo(&promo.Rejection{Reason: promo.ReasonTryAgain, Code: code, Err: err})
		return false
	case !ok:
		promoRejectionsTotal.WithLabelValues(string(promo.ReasonUsageExhausted)).Inc()
		committed.Promo = nil
		c.DropPromo(&promo.Rejection{Reason: promo.ReasonUsageExhausted, Code: code})
		return false
	}
	return true
}

// commitLines resolves and decrements every line concurrently. A line's
// failure never aborts the others.
func (s *CheckoutService) commitLines(ctx context.Context, items []cart.LineItem) []lineOutcome {
	outcomes := make([]lineOutcome, len(items))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			outcomes[i] = s.commitLine(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (s *CheckoutService) commitLine(ctx context.Context, item cart.LineItem) lineOutcome {
	out := lineOutcome{item: item}

	product, err := s.catalog.GetProduct(ctx, item.ProductID)
	if err != nil {
		out.flag = s.faultFlag(ctx, item, err)
		return out
	}
	variants, err := s.catalog.ListVariants(ctx, item.ProductID)
	if err != nil {
		out.flag = s.faultFlag(ctx, item, err)
		return out
	}

	view := availability.Resolve(*product, variants, item.VariantID)
	if err := view.Check(item.Quantity); err != nil {
		var rej *availability.Rejection
		if errors.As(err, &rej) {
			out.flag = cart.LineFlag{Reason: string(rej.Reason), Available: rej.Available, Message: rej.Error()}
			return out
		}
		out.flag = s.faultFlag(ctx, item, err)
		return out
	}

	level, err := availability.Decrement(ctx, s.stock, view, item.Quantity)
	if err != nil {
		if errors.Is(err, availability.ErrConditionFailed) {
			out.flag = cart.LineFlag{
				Reason:  FlagCommitConflict,
				Message: fmt.Sprintf("stock for %s changed while the order was placed", item.Name),
			}
			return out
		}
		out.flag = s.faultFlag(ctx, item, err)
		return out
	}

	out.level = level
	out.committed = true
	return out
}

func (s *CheckoutService) faultFlag(ctx context.Context, item cart.LineItem, err error) cart.LineFlag {
	if errors.Is(err, apperrors.ErrNotFound) {
		return cart.LineFlag{
			Reason:  string(availability.ReasonOutOfStock),
			Message: fmt.Sprintf("%s is no longer sold", item.Name),
		}
	}
	s.logger.ErrorContext(ctx, "failed to commit cart line",
		slog.String("item_id", item.ID.String()),
		slog.String("product_id", item.ProductID),
		slog.String("error", err.Error()),
	)
	return cart.LineFlag{Reason: FlagTryAgain, Message: "this item could not be checked, please try again"}
}

// settleAttempts bounds how often the post-commit cart is reloaded after
// losing the version race to a concurrent request.
const settleAttempts = 3

// settleCart applies settle to the cart left after a commit and stores it.
// When another request saved the cart meanwhile, the latest version is
// reloaded and settled again so committed lines cannot be ordered twice.
// It returns the cart as stored, or the last attempt when storing failed.
func (s *CheckoutService) settleCart(ctx context.Context, c *cart.Cart, expectedVersion int, settle func(*cart.Cart)) *cart.Cart {
	settle(c)
	for attempt := 1; ; attempt++ {
		ok, err := s.carts.SaveIfVersion(ctx, c, expectedVersion)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to save cart after commit",
				slog.String("session_id", c.SessionID),
				slog.String("error", err.Error()),
			)
			return c
		}
		if ok {
			return c
		}
		if attempt == settleAttempts {
			s.logger.ErrorContext(ctx, "cart kept changing during commit, committed lines may remain",
				slog.String("session_id", c.SessionID),
				slog.Int("attempts", attempt),
			)
			return c
		}

		s.logger.WarnContext(ctx, "cart changed during commit, settling latest version",
			slog.String("session_id", c.SessionID),
		)
		latest, err := s.carts.Get(ctx, c.SessionID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to reload cart after commit",
				slog.String("session_id", c.SessionID),
				slog.String("error", err.Error()),
			)
			return c
		}
		latest.Now = s.now
		expectedVersion = latest.Version
		settle(latest)
		c = latest
	}
}

func flagConflicts(c *cart.Cart, conflicts []LineConflict) {
	for _, lc := range conflicts {
		c.FlagItem(lc.ItemID, lc.LineFlag)
	}
}

func (s *CheckoutService) publish(ctx context.Context, c *cart.Cart, o *order.Order, outcomes []lineOutcome) {
	if err := s.producer.PublishOrderCommitted(ctx, o); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.committed event",
			slog.String("order_id", o.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	if c.IsEmpty() {
		if err := s.producer.PublishCartCleared(ctx, c.SessionID, "committed"); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
				slog.String("session_id", c.SessionID),
				slog.String("error", err.Error()),
			)
		}
	} else if err := s.producer.PublishCartUpdated(ctx, c); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("session_id", c.SessionID),
			slog.String("error", err.Error()),
		)
	}

	for _, out := range outcomes {
		if !out.committed || !out.level.Transitioned() {
			continue
		}
		if err := s.producer.PublishStockLow(ctx, out.item.ProductID, out.item.VariantID, out.level); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish stock.low event",
				slog.String("product_id", out.item.ProductID),
				slog.String("error", err.Error()),
			)
		}
	}
}
