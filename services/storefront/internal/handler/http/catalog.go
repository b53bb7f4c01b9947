package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/pkg/httputil"
	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/service"
)

// CatalogHandler handles product availability and shipping quote requests.
type CatalogHandler struct {
	service *service.CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a new catalog HTTP handler.
func NewCatalogHandler(svc *service.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: svc,
		logger:  logger,
	}
}

// Availability handles GET /api/v1/products/{productId}/availability?variant_id=
func (h *CatalogHandler) Availability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	variantID := r.URL.Query().Get("variant_id")

	out, err := h.service.Availability(r.Context(), productID, variantID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, out)
}

// ShippingQuote handles GET /api/v1/shipping/quote?subtotal_cents=&weight_grams=&method_id=
// Without method_id every method is quoted, cheapest first.
func (h *CatalogHandler) ShippingQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	subtotal, err := parseInt(q.Get("subtotal_cents"))
	if err != nil || subtotal < 0 {
		httputil.WriteError(w, r, apperrors.InvalidInput("subtotal_cents must be a non-negative integer"), h.logger)
		return
	}
	weight, err := parseFloat(q.Get("weight_grams"))
	if err != nil || weight < 0 {
		httputil.WriteError(w, r, apperrors.InvalidInput("weight_grams must be a non-negative number"), h.logger)
		return
	}

	if methodID := q.Get("method_id"); methodID != "" {
		quote, err := h.service.ShippingQuote(methodID, money.Cents(subtotal), weight)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteData(w, http.StatusOK, quote)
		return
	}

	httputil.WriteData(w, http.StatusOK, h.service.ShippingQuotes(money.Cents(subtotal), weight))
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
