package http

import (
	"log/slog"
	"net/http"

	"github.com/lunebijoux/storefront/pkg/httputil"
	"github.com/lunebijoux/storefront/pkg/middleware"
	"github.com/lunebijoux/storefront/services/storefront/internal/service"
)

// CheckoutHandler handles HTTP requests for order commits.
type CheckoutHandler struct {
	service *service.CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc *service.CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		logger:  logger,
	}
}

// Commit handles POST /api/v1/checkout. A partial commit answers 201 with
// the lines left in the cart listed under conflicts.
func (h *CheckoutHandler) Commit(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Commit(r.Context(), middleware.SessionIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, res)
}
