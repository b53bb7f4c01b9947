package availability

import (
	"context"
	"errors"
	"fmt"
)

// ErrConditionFailed is returned by a StockStore when a conditional
// decrement would take a counter below zero or past its quota.
var ErrConditionFailed = errors.New("stock condition failed")

// Level is a counter after a successful decrement.
type Level struct {
	ID        string `json:"id"`
	Remaining int    `json:"remaining"`
	Threshold int    `json:"threshold"`
	Status    Status `json:"status"`
	Previous  Status `json:"previous"`
}

// NewLevel builds the level of a stock counter that just lost n units.
func NewLevel(id string, remaining, threshold, n int) Level {
	return Level{
		ID:        id,
		Remaining: remaining,
		Threshold: threshold,
		Status:    StatusFor(remaining, threshold),
		Previous:  StatusFor(remaining+n, threshold),
	}
}

// PreorderLevel builds the level of a preorder quota after a reservation.
func PreorderLevel(id string, limit, count int) Level {
	return Level{ID: id, Remaining: max(limit-count, 0), Status: StatusPreorder, Previous: StatusPreorder}
}

// Transitioned reports whether the decrement moved the counter to a worse
// status, e.g. in_stock to low_stock.
func (l Level) Transitioned() bool {
	return l.Status != l.Previous
}

// StockStore issues single conditional updates against the shared counters.
// Each call either applies the whole decrement or fails with
// ErrConditionFailed, leaving the counter untouched.
type StockStore interface {
	DecrementVariant(ctx context.Context, variantID string, n int) (Level, error)
	DecrementProduct(ctx context.Context, productID string, n int) (Level, error)
	ReservePreorder(ctx context.Context, productID string, n int) (Level, error)
}

// Decrement commits qty units of the resolved selection. Untracked stock is
// not decremented.
func Decrement(ctx context.Context, store StockStore, v View, qty int) (Level, error) {
	if qty <= 0 {
		return Level{}, fmt.Errorf("decrement %s: quantity must be positive", v.ProductID)
	}
	switch {
	case v.VariantID != "":
		return store.DecrementVariant(ctx, v.VariantID, qty)
	case !v.Tracked:
		return Level{ID: v.ProductID, Remaining: NoCeiling, Status: v.Status, Previous: v.Status}, nil
	case v.IsPreorder():
		return store.ReservePreorder(ctx, v.ProductID, qty)
	default:
		return store.DecrementProduct(ctx, v.ProductID, qty)
	}
}
