package service

import (
	"context"
	"fmt"
	"log/slog"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository"
	"github.com/lunebijoux/storefront/services/storefront/internal/shipping"
)

// ProductAvailability is what a product page needs to render its buy box:
// the selected variant, every color swatch and the charm options.
type ProductAvailability struct {
	Selected availability.View   `json:"selected"`
	Variants []availability.View `json:"variants"`
	Options  []charm.Option      `json:"options"`
}

// CatalogService answers availability and shipping questions for pages that
// have no cart yet.
type CatalogService struct {
	catalog  repository.CatalogRepository
	shipping *shipping.Catalog
	logger   *slog.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(catalog repository.CatalogRepository, shippingCatalog *shipping.Catalog, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		catalog:  catalog,
		shipping: shippingCatalog,
		logger:   logger,
	}
}

// Availability resolves a product for variantID, or for its default variant
// when variantID is empty.
func (s *CatalogService) Availability(ctx context.Context, productID, variantID string) (*ProductAvailability, error) {
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	variants, err := s.catalog.ListVariants(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	options, err := s.catalog.ListCharmOptions(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list charm options: %w", err)
	}

	out := &ProductAvailability{
		Selected: availability.Resolve(*product, variants, variantID),
		Variants: make([]availability.View, 0, len(variants)),
		Options:  options,
	}
	for _, v := range availability.SortVariants(variants) {
		out.Variants = append(out.Variants, availability.Resolve(*product, variants, v.ID))
	}
	if out.Options == nil {
		out.Options = []charm.Option{}
	}

	s.logger.DebugContext(ctx, "availability resolved",
		slog.String("product_id", productID),
		slog.String("variant_id", out.Selected.VariantID),
		slog.String("status", string(out.Selected.Status)),
	)
	return out, nil
}

// ShippingQuotes prices every shipping method for a subtotal and weight,
// cheapest first.
func (s *CatalogService) ShippingQuotes(subtotal money.Cents, weightGrams float64) []shipping.Quote {
	quotesComputedTotal.Inc()
	return s.shipping.QuoteAll(money.ClampNonNegative(subtotal), weightGrams)
}

// ShippingQuote prices a single method.
func (s *CatalogService) ShippingQuote(methodID string, subtotal money.Cents, weightGrams float64) (shipping.Quote, error) {
	q, err := s.shipping.Quote(methodID, money.ClampNonNegative(subtotal), weightGrams)
	if err != nil {
		return shipping.Quote{}, apperrors.ValidationRejected("UNKNOWN_SHIPPING_METHOD",
			fmt.Sprintf("shipping method %s is not offered", methodID))
	}
	quotesComputedTotal.Inc()
	return q, nil
}
