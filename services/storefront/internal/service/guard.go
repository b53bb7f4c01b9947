package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/services/storefront/internal/availability"
	"github.com/lunebijoux/storefront/services/storefront/internal/charm"
	"github.com/lunebijoux/storefront/services/storefront/internal/promo"
	"github.com/lunebijoux/storefront/services/storefront/internal/repository"
)

// GuardConfig configures the breaker and per-call timeout wrapped around
// record store lookups.
type GuardConfig struct {
	// Name identifies the breaker in metrics and logs.
	Name string

	// Timeout bounds a single record store call.
	Timeout time.Duration

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration

	// OpenTimeout is how long the breaker stays open before half-opening.
	OpenTimeout time.Duration

	// FailureRatio trips the breaker once MinRequests calls have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultGuardConfig returns the defaults used when nothing is configured.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:         name,
		Timeout:      2 * time.Second,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		OpenTimeout:  30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Guard runs record store reads behind a circuit breaker and a timeout.
// Calls rejected by an open breaker, and calls that time out, surface as
// apperrors.TryAgain.
type Guard struct {
	breaker *gobreaker.CircuitBreaker[any]
	timeout time.Duration
	name    string
}

// NewGuard creates a guard from cfg.
func NewGuard(cfg GuardConfig, logger *slog.Logger) *Guard {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("record store breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
		// Business answers from the store are not failures.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, apperrors.ErrNotFound) ||
				errors.Is(err, availability.ErrConditionFailed) ||
				errors.Is(err, context.Canceled)
		},
	}

	breakerState.WithLabelValues(cfg.Name).Set(0)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultGuardConfig(cfg.Name).Timeout
	}

	return &Guard{
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		timeout: timeout,
		name:    cfg.Name,
	}
}

// State reports the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// guarded runs fn through g. It is a function rather than a method because
// methods cannot declare type parameters.
func guarded[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g == nil {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.breaker.Execute(func() (any, error) {
		return fn(callCtx)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return zero, apperrors.TryAgain("the store is busy, please try again", err)
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			return zero, apperrors.TryAgain("the store did not answer in time, please try again", err)
		}
		return zero, err
	}

	v, _ := out.(T)
	return v, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// guardedCatalog routes catalog reads through a Guard.
type guardedCatalog struct {
	next  repository.CatalogRepository
	guard *Guard
}

// GuardCatalog wraps a catalog repository with g.
func GuardCatalog(next repository.CatalogRepository, g *Guard) repository.CatalogRepository {
	return &guardedCatalog{next: next, guard: g}
}

func (c *guardedCatalog) GetProduct(ctx context.Context, productID string) (*availability.Product, error) {
	return guarded(ctx, c.guard, func(ctx context.Context) (*availability.Product, error) {
		return c.next.GetProduct(ctx, productID)
	})
}

func (c *guardedCatalog) ListVariants(ctx context.Context, productID string) ([]availability.Variant, error) {
	return guarded(ctx, c.guard, func(ctx context.Context) ([]availability.Variant, error) {
		return c.next.ListVariants(ctx, productID)
	})
}

func (c *guardedCatalog) ListCharmOptions(ctx context.Context, productID string) ([]charm.Option, error) {
	return guarded(ctx, c.guard, func(ctx context.Context) ([]charm.Option, error) {
		return c.next.ListCharmOptions(ctx, productID)
	})
}

// guardedPromos routes promo lookups through a Guard. Redeem is a write and
// only gets the timeout through the caller's context.
type guardedPromos struct {
	next  repository.PromoRepository
	guard *Guard
}

// GuardPromos wraps a promo repository with g.
func GuardPromos(next repository.PromoRepository, g *Guard) repository.PromoRepository {
	return &guardedPromos{next: next, guard: g}
}

func (p *guardedPromos) FindActive(ctx context.Context, code string) (*promo.Code, error) {
	return guarded(ctx, p.guard, func(ctx context.Context) (*promo.Code, error) {
		return p.next.FindActive(ctx, code)
	})
}

func (p *guardedPromos) Redeem(ctx context.Context, code string) (bool, error) {
	return p.next.Redeem(ctx, code)
}
