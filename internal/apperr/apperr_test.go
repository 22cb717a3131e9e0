package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: Validation("op", "bad %s", "input"), want: http.StatusBadRequest},
		{name: "not found", err: NotFound("op", "product", "p1"), want: http.StatusNotFound},
		{name: "insufficient stock", err: InsufficientStock("op", "p1", "sku"), want: http.StatusConflict},
		{name: "forbidden", err: Forbidden("op", "not owner"), want: http.StatusForbidden},
		{name: "conflict", err: Conflict("op", "duplicate"), want: http.StatusConflict},
		{name: "consistency", err: Consistency("op", errors.New("boom"), "product_id", "p1"), want: http.StatusInternalServerError},
		{name: "wrapped", err: fmt.Errorf("outer: %w", NotFound("op", "order", "o1")), want: http.StatusNotFound},
		{name: "plain", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("reserve: %w", InsufficientStock("reserve", "p1", "s1"))

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestConsistencyKeepsCauseAndFields(t *testing.T) {
	cause := errors.New("redis timeout")
	err := Consistency("apply_discount", cause, "discount_id", "d1", "product_id", "p1")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConsistency)
	assert.Equal(t, "d1", err.Fields["discount_id"])
	assert.Contains(t, err.Error(), "discount_id=d1 product_id=p1")
}

func TestPublicMessageHidesInternals(t *testing.T) {
	assert.Equal(t, "product not found", PublicMessage(NotFound("op", "product", "p1")))
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), PublicMessage(errors.New("secret dsn")))
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), PublicMessage(Consistency("op", errors.New("x"))))
}
