package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lunebijoux/storefront/pkg/health"
	"github.com/lunebijoux/storefront/pkg/middleware"
	"github.com/lunebijoux/storefront/services/storefront/internal/service"
)

// shippingQuoteMaxAge is how long pages may cache a shipping quote.
const shippingQuoteMaxAge = 300

// RouterConfig carries the edge policies applied by NewRouter.
type RouterConfig struct {
	CORS      middleware.CORSConfig
	RateLimit middleware.RateLimitConfig
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	cartService *service.CartService,
	checkoutService *service.CheckoutService,
	catalogService *service.CatalogService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("storefront"))
	r.Use(middleware.Tracing("storefront"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	cartHandler := NewCartHandler(cartService, logger)
	checkoutHandler := NewCheckoutHandler(checkoutService, logger)
	catalogHandler := NewCatalogHandler(catalogService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NoStore)
			r.Use(middleware.Session())
			// Rebuild the request logger now that the session is known.
			r.Use(middleware.RequestLogger(logger))
			r.Use(middleware.RateLimit(cfg.RateLimit, logger))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Get("/quote", cartHandler.Quote)

				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{itemId}", cartHandler.UpdateQuantity)
				r.Delete("/items/{itemId}", cartHandler.RemoveItem)
				r.Post("/items/{itemId}/options", cartHandler.ToggleOption)

				r.Post("/promo", cartHandler.ApplyPromo)
				r.Delete("/promo", cartHandler.RemovePromo)

				r.Put("/shipping", cartHandler.SelectShipping)
			})

			r.Post("/checkout", checkoutHandler.Commit)
		})

		r.Get("/products/{productId}/availability", catalogHandler.Availability)
		r.With(middleware.CacheControl(shippingQuoteMaxAge)).
			Get("/shipping/quote", catalogHandler.ShippingQuote)
	})

	return r
}
