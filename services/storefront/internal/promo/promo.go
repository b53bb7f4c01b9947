// Package promo decides whether a promotional code applies to a cart and how
// much it takes off.
package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
	"github.com/lunebijoux/storefront/pkg/money"
)

// Kind is the discount shape of a code.
type Kind string

const (
	KindPercentage Kind = "percentage"
	KindFixed      Kind = "fixed"
)

// ErrMalformedCode is returned for a stored code that sets both or neither of
// the percentage and fixed amount.
var ErrMalformedCode = errors.New("promo code must set exactly one of percent or amount")

// Code is a promo code record as stored in the record store.
type Code struct {
	Code                string           `json:"code"`
	DiscountPercent     *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmountCents *money.Cents     `json:"discount_amount_cents,omitempty"`
	MinOrderCents       *money.Cents     `json:"min_amount_cents,omitempty"`
	ExpiresAt           *time.Time       `json:"expires_at,omitempty"`
	MaxUses             *int             `json:"max_uses,omitempty"`
	UsedCount           int              `json:"used_count"`
	Active              bool             `json:"is_active"`
}

// Kind reports which discount the code grants.
func (c Code) Kind() (Kind, error) {
	switch {
	case c.DiscountPercent != nil && c.DiscountAmountCents == nil:
		return KindPercentage, nil
	case c.DiscountAmountCents != nil && c.DiscountPercent == nil:
		return KindFixed, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrMalformedCode, c.Code)
	}
}

// Descriptor returns the part of the code a cart keeps once applied.
func (c Code) Descriptor() (Descriptor, error) {
	kind, err := c.Kind()
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		Code:          c.Code,
		Kind:          kind,
		MinOrderCents: c.MinOrderCents,
		ExpiresAt:     c.ExpiresAt,
	}
	if kind == KindPercentage {
		d.Percent = money.NormalizePercent(*c.DiscountPercent)
	} else {
		d.AmountCents = money.ClampNonNegative(*c.DiscountAmountCents)
	}
	return d, nil
}

// Exhausted reports whether the usage cap has been reached.
func (c Code) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// Normalize upper-cases and trims a customer-entered code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Descriptor is an applied promo code. It carries everything needed to
// recompute the discount and re-check eligibility without the record store.
type Descriptor struct {
	Code          string          `json:"code"`
	Kind          Kind            `json:"kind"`
	Percent       decimal.Decimal `json:"percent"`
	AmountCents   money.Cents     `json:"amount_cents,omitempty"`
	MinOrderCents *money.Cents    `json:"min_order_cents,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
}

// MeetsMinimum reports whether subtotal reaches the code's minimum order.
func (d Descriptor) MeetsMinimum(subtotal money.Cents) bool {
	return d.MinOrderCents == nil || subtotal >= *d.MinOrderCents
}

// Discount returns the amount taken off subtotal. It is never more than
// subtotal and is zero when the minimum order is no longer met.
func (d Descriptor) Discount(subtotal money.Cents) money.Cents {
	if subtotal <= 0 || !d.MeetsMinimum(subtotal) {
		return 0
	}
	switch d.Kind {
	case KindPercentage:
		return money.PercentOf(subtotal, d.Percent)
	case KindFixed:
		return money.Min(money.ClampNonNegative(d.AmountCents), subtotal)
	default:
		return 0
	}
}

// StillEligible re-checks the time and minimum order gates against a changed
// subtotal. It returns nil when the descriptor can stay attached.
func (d Descriptor) StillEligible(subtotal money.Cents, now time.Time) *Rejection {
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return &Rejection{Reason: ReasonExpired, Code: d.Code}
	}
	if !d.MeetsMinimum(subtotal) {
		return &Rejection{Reason: ReasonMinimumNotMet, Code: d.Code, MinOrderCents: *d.MinOrderCents}
	}
	return nil
}

// Reason names why a code was refused.
type Reason string

const (
	ReasonInvalidOrExpired Reason = "invalid_or_expired"
	ReasonExpired          Reason = "expired"
	ReasonMinimumNotMet    Reason = "minimum_not_met"
	ReasonUsageExhausted   Reason = "usage_exhausted"
	ReasonTryAgain         Reason = "try_again"
)

// Rejection is a recoverable refusal to apply a code.
type Rejection struct {
	Reason        Reason      `json:"reason"`
	Code          string      `json:"code"`
	MinOrderCents money.Cents `json:"min_order_cents,omitempty"`
	Err           error       `json:"-"`
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonMinimumNotMet:
		return fmt.Sprintf("promo code %s requires a minimum order of %s", r.Code, r.MinOrderCents.Format())
	case ReasonExpired:
		return fmt.Sprintf("promo code %s has expired", r.Code)
	case ReasonUsageExhausted:
		return fmt.Sprintf("promo code %s is no longer available", r.Code)
	case ReasonTryAgain:
		return "promo codes cannot be checked right now, please try again"
	default:
		return fmt.Sprintf("promo code %s is invalid or expired", r.Code)
	}
}

func (r *Rejection) Unwrap() error { return r.Err }

// AppError converts the rejection for the HTTP boundary.
func (r *Rejection) AppError() *apperrors.AppError {
	if r.Reason == ReasonTryAgain {
		return apperrors.TryAgain(r.Error(), r.Err)
	}
	appErr := apperrors.ValidationRejected("PROMO_"+strings.ToUpper(string(r.Reason)), r.Error())
	if r.Reason == ReasonMinimumNotMet {
		appErr.WithDetail("min_order_cents", int64(r.MinOrderCents))
	}
	return appErr
}

// Finder loads an active code by its normalized form. A missing code is
// reported with an error wrapping apperrors.ErrNotFound.
type Finder interface {
	FindActive(ctx context.Context, code string) (*Code, error)
}

// Validator applies the eligibility rules in order, stopping at the first
// that fails.
type Validator struct {
	finder Finder
}

// NewValidator creates a validator over the given record store.
func NewValidator(finder Finder) *Validator {
	return &Validator{finder: finder}
}

// Validate checks code against subtotal at time now. Business refusals are
// returned as *Rejection; anything else is a fault.
//
// The usage cap is only advisory here. The authoritative check happens when
// the order is committed.
func (v *Validator) Validate(ctx context.Context, code string, subtotal money.Cents, now time.Time) (Descriptor, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return Descriptor{}, &Rejection{Reason: ReasonInvalidOrExpired}
	}

	rec, err := v.finder.FindActive(ctx, normalized)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			return Descriptor{}, &Rejection{Reason: ReasonInvalidOrExpired, Code: normalized}
		case errors.Is(err, apperrors.ErrTryAgain), errors.Is(err, context.DeadlineExceeded):
			return Descriptor{}, &Rejection{Reason: ReasonTryAgain, Code: normalized, Err: err}
		default:
			return Descriptor{}, fmt.Errorf("find promo code: %w", err)
		}
	}
	if !rec.Active {
		return Descriptor{}, &Rejection{Reason: ReasonInvalidOrExpired, Code: normalized}
	}

	desc, err := rec.Descriptor()
	if err != nil {
		return Descriptor{}, &Rejection{Reason: ReasonInvalidOrExpired, Code: normalized, Err: err}
	}
	if rej := desc.StillEligible(subtotal, now); rej != nil {
		return Descriptor{}, rej
	}
	if rec.Exhausted() {
		return Descriptor{}, &Rejection{Reason: ReasonUsageExhausted, Code: normalized}
	}
	desc.Code = normalized
	return desc, nil
}
