package availability

import (
	"fmt"
	"strings"

	apperrors "github.com/lunebijoux/storefront/pkg/errors"
)

// Reason names why a selection cannot be sold.
type Reason string

const (
	ReasonOutOfStock        Reason = "out_of_stock"
	ReasonPreorderFull      Reason = "preorder_full"
	ReasonInsufficientStock Reason = "insufficient_stock"
)

// Rejection blocks one add-to-cart or checkout line.
type Rejection struct {
	Reason    Reason `json:"reason"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (r *Rejection) Error() string {
	switch r.Reason {
	case ReasonPreorderFull:
		return fmt.Sprintf("preorder quota for product %s is full", r.ProductID)
	case ReasonInsufficientStock:
		return fmt.Sprintf("only %d left for product %s, %d requested", r.Available, r.ProductID, r.Requested)
	default:
		return fmt.Sprintf("product %s is out of stock", r.ProductID)
	}
}

// AppError converts the rejection for the HTTP boundary.
func (r *Rejection) AppError() *apperrors.AppError {
	appErr := apperrors.AvailabilityRejected(strings.ToUpper(string(r.Reason)), r.Error())
	appErr.WithDetail("product_id", r.ProductID)
	if r.VariantID != "" {
		appErr.WithDetail("variant_id", r.VariantID)
	}
	if r.Reason == ReasonInsufficientStock {
		appErr.WithDetail("available", r.Available)
	}
	return appErr
}
