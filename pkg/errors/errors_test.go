package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrInvalidInput, ErrInternal, ErrConflict,
		ErrValidation, ErrUnavailable, ErrCommitConflict, ErrTryAgain,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Equal(t, "INTERNAL_ERROR: something broke: db connection lost", appErr.Error())

	bare := &AppError{Code: "NOT_FOUND", Message: "cart not found"}
	assert.Equal(t, "NOT_FOUND: cart not found", bare.Error())
}

func TestValidationRejected(t *testing.T) {
	err := ValidationRejected("PROMO_EXPIRED", "this code has expired")

	assert.Equal(t, "PROMO_EXPIRED", err.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, err.Status)
	assert.ErrorIs(t, err, ErrValidation)
	assert.True(t, IsRecoverable(err))
}

func TestValidationRejected_DefaultCode(t *testing.T) {
	err := ValidationRejected("", "cart is empty")
	assert.Equal(t, "VALIDATION_REJECTED", err.Code)
}

func TestAvailabilityRejected(t *testing.T) {
	err := AvailabilityRejected("PREORDER_FULL", "preorder quota reached")

	assert.Equal(t, http.StatusConflict, err.Status)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCommitConflict(t *testing.T) {
	err := CommitConflict("stock changed")

	assert.Equal(t, "COMMIT_CONFLICT", err.Code)
	assert.ErrorIs(t, err, ErrCommitConflict)
	assert.True(t, IsRecoverable(err))
}

func TestTryAgain_WrapsCause(t *testing.T) {
	err := TryAgain("please retry", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrTryAgain)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
}

func TestIsRecoverable_Faults(t *testing.T) {
	assert.False(t, IsRecoverable(NotFound("cart item", "x")))
	assert.False(t, IsRecoverable(Internal(errors.New("boom"))))
	assert.False(t, IsRecoverable(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", InvalidInput("bad"), http.StatusBadRequest},
		{"wrapped app error", fmt.Errorf("ctx: %w", NotFound("cart", "1")), http.StatusNotFound},
		{"bare not found", ErrNotFound, http.StatusNotFound},
		{"bare conflict", ErrConflict, http.StatusConflict},
		{"bare unavailable", ErrUnavailable, http.StatusConflict},
		{"bare validation", ErrValidation, http.StatusUnprocessableEntity},
		{"bare try again", ErrTryAgain, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAppError_WithDetail(t *testing.T) {
	err := ValidationRejected("PROMO_MINIMUM_NOT_MET", "minimum order not reached").
		WithDetail("min_order_cents", int64(10000))

	assert.Equal(t, int64(10000), err.Details["min_order_cents"])
	assert.ErrorIs(t, err, ErrValidation)
}
