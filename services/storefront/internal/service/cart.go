package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/event"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single line.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct lines in a cart.
	MaxItemsPerCart = 50
)

// AddItemInput holds the parameters for adding an item to the cart. Prices
// are never taken from the client: they come from the catalog.
type AddItemInput struct {
	ProductID string   `json:"product_id" validate:"required,max=64"`
	VariantID string   `json:"variant_id" validate:"omitempty,max=64"`
	Quantity  int      `json:"quantity" validate:"gte=0,lte=100"`
	OptionIDs []string `json:"option_ids" validate:"max=5,dive,required,max=64"`
}

// UpdateQuantityInput holds the parameters for updating a line quantity.
// Zero removes the line.
type UpdateQuantityInput struct {
	Quantity int `json:"quantity" validate:"gte=0,lte=100"`
}

// ApplyPromoInput holds the code typed by the customer.
type ApplyPromoInput struct {
	Code string `json:"code" validate:"required,max=32,promocode"`
}

// Normalize drops the spaces a pasted code often carries.
func (in *ApplyPromoInput) Normalize() {
	in.Code = strings.TrimSpace(in.Code)
}

// SelectShippingInput holds the chosen shipping method.
type SelectShippingInput struct {
	MethodID string `json:"method_id" validate:"required,max=64"`
}

// ToggleOptionInput holds the option to select or deselect on a line.
type ToggleOptionInput struct {
	OptionID string `json:"option_id" validate:"required,max=64"`
}

// CartView is a cart with its current quote.
type CartView struct {
	Cart  *cart.Cart `json:"cart"`
	Quote cart.Quote `json:"quote"`
}

// CartService implements the business logic for cart operations.
type CartService struct {
	repo     repository.CartRepository
	catalog  repository.CatalogRepository
	promos   *promo.Validator
	shipping *shipping.Catalog
	producer *event.Producer
	logger   *slog.Logger
	now      func() time.Time
}

// NewCartService creates a new cart service. catalog and promos should
// already be wrapped with a Guard.
func NewCartService(
	repo repository.CartRepository,
	catalog repository.CatalogRepository,
	promos promo.Finder,
	shippingCatalog *shipping.Catalog,
	producer *event.Producer,
	logger *slog.Logger,
) *CartService {
	return &CartService{
		repo:     repo,
		catalog:  catalog,
		promos:   promo.NewValidator(promos),
		shipping: shippingCatalog,
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetCart retrieves the cart for a session. If no cart exists, returns an
// empty cart.
func (s *CartService) GetCart(ctx context.Context, sessionID string) (*CartView, error) {
	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(c), nil
}

// Quote prices the session's cart.
func (s *CartService) Quote(ctx context.Context, sessionID string) (cart.Quote, error) {
	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return cart.Quote{}, err
	}
	quotesComputedTotal.Inc()
	return c.Quote(s.shipping), nil
}

// AddItem resolves availability for the selection and adds it to the cart,
// merging with an identical line. The selection is rejected when the
// merged quantity exceeds what can be sold.
func (s *CartService) AddItem(ctx context.Context, sessionID string, input AddItemInput) (*CartView, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	if input.ProductID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}
	qty := input.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 || qty > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must be between 1 and %d", MaxQuantityPerItem))
	}

	product, err := s.catalog.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	variants, err := s.catalog.ListVariants(ctx, input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	options, err := s.resolveOptions(ctx, input.ProductID, input.OptionIDs)
	if err != nil {
		return nil, err
	}

	view := availability.Resolve(*product, variants, input.VariantID)
	spec := cart.ItemSpec{
		ProductID:      product.ID,
		VariantID:      view.VariantID,
		Color:          view.ColorName,
		Name:           product.Name,
		Slug:           product.Slug,
		UnitPriceCents: view.EffectivePriceCents,
		WeightGrams:    view.WeightGrams,
		Options:        options,
	}

	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	existing := 0
	wanted := cart.LineItem{ProductID: spec.ProductID, VariantID: spec.VariantID, Options: spec.Options}
	for _, item := range c.Items {
		if item.MergeKey() == wanted.MergeKey() {
			existing = item.Quantity
		}
	}
	if existing == 0 && len(c.Items) >= MaxItemsPerCart {
		return nil, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
	}
	if existing+qty > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
	}
	if err := view.Check(existing + qty); err != nil {
		return nil, s.availabilityError(ctx, err)
	}

	line, err := c.AddItemQuantity(spec, qty)
	if err != nil {
		return nil, itemError(err)
	}

	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("session_id", sessionID),
		slog.String("product_id", line.ProductID),
		slog.String("variant_id", line.VariantID),
		slog.Int("quantity", qty),
		slog.Int("options", len(line.Options)),
	)

	return s.view(c), nil
}

// UpdateQuantity sets the quantity of a line. Zero removes it. Availability
// is checked again when the order is committed, not here.
func (s *CartService) UpdateQuantity(ctx context.Context, sessionID string, itemID uuid.UUID, input UpdateQuantityInput) (*CartView, error) {
	if input.Quantity < 0 || input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must be between 0 and %d", MaxQuantityPerItem))
	}

	c, err := s.getCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	if err := c.UpdateQuantity(itemID, input.Quantity); err != nil {
		return nil, itemError(err)
	}
	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("session_id", sessionID),
		slog.String("item_id", itemID.String()),
		slog.Int("quantity", input.Quantity),
	)

	return s.view(c), nil
}

// RemoveItem removes a line. Removing an unknown line leaves the cart as is.
func (s *CartService) RemoveItem(ctx context.Context, sessionID string, itemID uuid.UUID) (*CartView, error) {
	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	if !c.RemoveItem(itemID) {
		return s.view(c), nil
	}
	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("session_id", sessionID),
		slog.String("item_id", itemID.String()),
	)

	return s.view(c), nil
}

// ToggleOption selects or deselects a catalog option on a line.
func (s *CartService) ToggleOption(ctx context.Context, sessionID string, itemID uuid.UUID, input ToggleOptionInput) (*CartView, error) {
	c, err := s.getCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	item, ok := c.Item(itemID)
	if !ok {
		return nil, apperrors.NotFound("cart item", itemID.String())
	}
	options, err := s.resolveOptions(ctx, item.ProductID, []string{input.OptionID})
	if err != nil {
		return nil, err
	}

	line, err := c.ToggleOption(itemID, options[0])
	if err != nil {
		return nil, itemError(err)
	}
	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item options changed",
		slog.String("session_id", sessionID),
		slog.String("item_id", line.ID.String()),
		slog.String("option_id", input.OptionID),
		slog.Int("options", len(line.Options)),
	)

	return s.view(c), nil
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context, sessionID string) (*CartView, error) {
	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	c.Clear()
	ok, err := s.repo.SaveIfVersion(ctx, c, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	if !ok {
		return nil, apperrors.Conflict("cart was modified concurrently, please retry")
	}

	if err := s.producer.PublishCartCleared(ctx, sessionID, "cleared"); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("session_id", sessionID),
	)

	return s.view(c), nil
}

// ApplyPromo validates code against the current subtotal and attaches it.
// A refused code leaves the cart unchanged.
func (s *CartService) ApplyPromo(ctx context.Context, sessionID string, input ApplyPromoInput) (*CartView, error) {
	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	if err := c.ApplyPromoCode(ctx, s.promos, input.Code, s.now()); err != nil {
		var rej *promo.Rejection
		if errors.As(err, &rej) {
			promoRejectionsTotal.WithLabelValues(string(rej.Reason)).Inc()
			s.logger.InfoContext(ctx, "promo code rejected",
				slog.String("session_id", sessionID),
				slog.String("code", promo.Normalize(input.Code)),
				slog.String("reason", string(rej.Reason)),
			)
			return nil, rej.AppError()
		}
		return nil, fmt.Errorf("apply promo code: %w", err)
	}
	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "promo code applied",
		slog.String("session_id", sessionID),
		slog.String("code", c.Promo.Code),
		slog.String("kind", string(c.Promo.Kind)),
	)

	return s.view(c), nil
}

// RemovePromo detaches the promo code.
func (s *CartService) RemovePromo(ctx context.Context, sessionID string) (*CartView, error) {
	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c.Promo == nil && c.PromoNotice == nil {
		return s.view(c), nil
	}
	expectedVersion := c.Version

	c.RemovePromoCode()
	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}
	return s.view(c), nil
}

// SelectShipping records the shipping method used for quotes.
func (s *CartService) SelectShipping(ctx context.Context, sessionID string, input SelectShippingInput) (*CartView, error) {
	if _, ok := s.shipping.Method(input.MethodID); !ok {
		return nil, apperrors.ValidationRejected("UNKNOWN_SHIPPING_METHOD",
			fmt.Sprintf("shipping method %s is not offered", input.MethodID))
	}

	c, err := s.getOrCreateCart(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	expectedVersion := c.Version

	c.SelectShipping(input.MethodID)
	if err := s.save(ctx, c, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "shipping method selected",
		slog.String("session_id", sessionID),
		slog.String("method_id", input.MethodID),
	)

	return s.view(c), nil
}

// resolveOptions prices option ids from the product's catalog options.
func (s *CartService) resolveOptions(ctx context.Context, productID string, ids []string) (charm.Selection, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > charm.MaxSelections {
		return nil, apperrors.ValidationRejected("TOO_MANY_OPTIONS",
			fmt.Sprintf("at most %d options can be selected", charm.MaxSelections))
	}

	available, err := s.catalog.ListCharmOptions(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list charm options: %w", err)
	}
	byID := make(map[string]charm.Option, len(available))
	for _, o := range available {
		byID[o.ID] = o
	}

	selection := make(charm.Selection, 0, len(ids))
	for _, id := range ids {
		opt, ok := byID[id]
		if !ok {
			return nil, apperrors.InvalidInput(fmt.Sprintf("option %s is not offered for product %s", id, productID))
		}
		if selection.Contains(opt) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("option %s is selected twice", id))
		}
		selection = append(selection, opt)
	}
	return selection, nil
}

func (s *CartService) availabilityError(ctx context.Context, err error) error {
	var rej *availability.Rejection
	if !errors.As(err, &rej) {
		return err
	}
	availabilityRejectionsTotal.WithLabelValues(string(rej.Reason)).Inc()
	s.logger.InfoContext(ctx, "selection not available",
		slog.String("product_id", rej.ProductID),
		slog.String("variant_id", rej.VariantID),
		slog.String("reason", string(rej.Reason)),
		slog.Int("requested", rej.Requested),
	)
	return rej.AppError()
}

// itemError maps cart aggregate errors for the HTTP boundary.
func itemError(err error) error {
	switch {
	case errors.Is(err, charm.ErrTooManyOptions):
		return apperrors.ValidationRejected("TOO_MANY_OPTIONS",
			fmt.Sprintf("at most %d options can be selected", charm.MaxSelections))
	case errors.Is(err, cart.ErrUnknownItem):
		return apperrors.NotFound("cart item", err.Error())
	case errors.Is(err, cart.ErrInvalidItem):
		return apperrors.InvalidInput(err.Error())
	default:
		return fmt.Errorf("update cart: %w", err)
	}
}

// save writes c when nobody else changed it since it was loaded, then
// publishes cart.updated. Any promo detached by the mutation is logged.
func (s *CartService) save(ctx context.Context, c *cart.Cart, expectedVersion int) error {
	ok, err := s.repo.SaveIfVersion(ctx, c, expectedVersion)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	if !ok {
		return apperrors.Conflict("cart was modified concurrently, please retry")
	}

	if c.PromoNotice != nil && c.Promo == nil {
		s.logger.InfoContext(ctx, "promo code detached",
			slog.String("session_id", c.SessionID),
			slog.String("code", c.PromoNotice.Code),
			slog.String("reason", string(c.PromoNotice.Reason)),
		)
	}

	if err := s.producer.PublishCartUpdated(ctx, c); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("session_id", c.SessionID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (s *CartService) view(c *cart.Cart) *CartView {
	quotesComputedTotal.Inc()
	return &CartView{Cart: c, Quote: c.Quote(s.shipping)}
}

// getCart loads an existing cart.
func (s *CartService) getCart(ctx context.Context, sessionID string) (*cart.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	c, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("cart", sessionID)
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	c.Now = s.now
	return c, nil
}

// getOrCreateCart loads the session's cart, creating an empty one if it
// does not exist.
func (s *CartService) getOrCreateCart(ctx context.Context, sessionID string) (*cart.Cart, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("session id is required")
	}
	c, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			c = cart.New(sessionID, s.now())
			c.Now = s.now
			return c, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	c.Now = s.now
	return c, nil
}
