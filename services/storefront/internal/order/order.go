// Package order describes the record produced when a cart is committed.
package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/lunebijoux/storefront/pkg/money"
	"github.com/lunebijoux/storefront/services/storefront/internal/cart"
)

// Status of a committed order.
type Status string

const (
	// StatusCommitted means every cart line was committed.
	StatusCommitted Status = "committed"
	// StatusPartial means some lines lost their stock race and stayed in
	// the cart.
	StatusPartial Status = "partial"
)

// Line is a committed cart line.
type Line struct {
	ItemID         uuid.UUID   `json:"item_id"`
	ProductID      string      `json:"product_id"`
	VariantID      string      `json:"variant_id,omitempty"`
	Name           string      `json:"name"`
	Quantity       int         `json:"quantity"`
	UnitTotalCents money.Cents `json:"unit_total_cents"`
	LineTotalCents money.Cents `json:"line_total_cents"`
	Options        []string    `json:"options,omitempty"`
}

// Order is a committed selection with its final amounts.
type Order struct {
	ID               uuid.UUID   `json:"id"`
	SessionID        string      `json:"session_id"`
	Status           Status      `json:"status"`
	Lines            []Line      `json:"lines"`
	SubtotalCents    money.Cents `json:"subtotal_cents"`
	DiscountCents    money.Cents `json:"discount_cents"`
	ShippingCents    money.Cents `json:"shipping_cents"`
	TotalCents       money.Cents `json:"total_cents"`
	PromoCode        string      `json:"promo_code,omitempty"`
	ShippingMethodID string      `json:"shipping_method_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// LineFromItem copies a cart line into an order line.
func LineFromItem(item cart.LineItem) Line {
	return Line{
		ItemID:         item.ID,
		ProductID:      item.ProductID,
		VariantID:      item.VariantID,
		Name:           item.Name,
		Quantity:       item.Quantity,
		UnitTotalCents: item.UnitTotal(),
		LineTotalCents: item.LineTotal(),
		Options:        item.Options.Labels(),
	}
}

// New builds an order from committed lines and a quote of those lines.
func New(sessionID string, lines []Line, q cart.Quote, partial bool, now time.Time) *Order {
	status := StatusCommitted
	if partial {
		status = StatusPartial
	}
	return &Order{
		ID:               uuid.New(),
		SessionID:        sessionID,
		Status:           status,
		Lines:            lines,
		SubtotalCents:    q.SubtotalCents,
		DiscountCents:    q.DiscountCents,
		ShippingCents:    q.ShippingCents,
		TotalCents:       q.TotalCents,
		PromoCode:        q.PromoCode,
		ShippingMethodID: q.ShippingMethod,
		CreatedAt:        now,
	}
}
