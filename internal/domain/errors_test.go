package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestInsufficientStockError(t *testing.T) {
	err := &InsufficientStockError{ProductID: "p-1", ProductName: "Keyboard", Available: 1, Requested: 3}

	if got, want := err.Error(), "insufficient quantity in product 'Keyboard'"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), ErrInsufficientStock) {
		t.Fatal("expected wrapped error to match ErrInsufficientStock")
	}

	var target *InsufficientStockError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &target) || target.ProductID != "p-1" {
		t.Fatalf("errors.As failed, got %+v", target)
	}
}

func TestUnknownProductsError(t *testing.T) {
	err := &UnknownProductsError{IDs: []string{"a", "b"}}

	if got, want := err.Error(), "product not found: a, b"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatal("expected error to match ErrProductNotFound")
	}
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "customer not found", err: ErrCustomerNotFound, want: true},
		{name: "empty product set", err: fmt.Errorf("lookup: %w", ErrEmptyProductSet), want: true},
		{name: "insufficient stock", err: &InsufficientStockError{ProductName: "x"}, want: true},
		{name: "unknown products", err: &UnknownProductsError{IDs: []string{"x"}}, want: true},
		{name: "invalid quantity", err: ErrInvalidQuantity, want: true},
		{name: "infrastructure", err: errors.New("connection reset"), want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidationError(tt.err); got != tt.want {
				t.Errorf("IsValidationError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "idempotency already exists",
			err:  ErrIdempotencyKeyAlreadyExists,
			want: true,
		},
		{
			name: "idempotency hash mismatch",
			err:  ErrIdempotencyHashMismatch,
			want: true,
		},
		{
			name: "wrapped idempotency conflict",
			err:  errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")),
			want: true,
		},
		{
			name: "non idempotency error",
			err:  ErrOrderAlreadyExists,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsIdempotencyConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
