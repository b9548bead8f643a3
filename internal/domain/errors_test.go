package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  ErrOrderVersionConflict,
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  errors.Join(ErrOrderVersionConflict, errors.New("additional context")),
			want: true,
		},
		{
			name: "other error",
			err:  ErrOrderNotFound,
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
			got := IsVersionConflict(tt.err)
			if got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
	}{
		{"cart not found", ErrCartNotFound, ErrNotFound},
		{"order not found", ErrOrderNotFound, ErrNotFound},
		{"product unavailable", ErrProductUnavailable, ErrNotFound},
		{"item not found", ErrItemNotFound, ErrNotFound},
		{"wrapped order not found", fmt.Errorf("load: %w", ErrOrderNotFound), ErrNotFound},
		{"invalid status", ErrInvalidStatus, ErrValidation},
		{"invalid quantity", ErrInvalidQuantity, ErrValidation},
		{"declined", &PaymentDeclinedError{Reason: "insufficient funds"}, ErrPaymentDeclined},
		{"shortfall", &StockShortfallError{OrderID: "o-1"}, ErrInsufficientStock},
		{"not recorded", &OrderNotRecordedError{PaymentReference: "TRX-1", Err: errors.New("db down")}, ErrOrderNotRecorded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Fatalf("expected %v to match %v", tt.err, tt.kind)
			}
		})
	}

	if errors.Is(ErrInvalidStatus, ErrNotFound) {
		t.Fatal("validation error must not match not found")
	}
}

func TestPaymentDeclinedErrorMessage(t *testing.T) {
	err := &PaymentDeclinedError{Reason: "insufficient funds"}
	if err.Error() != "payment declined: insufficient funds" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if (&PaymentDeclinedError{}).Error() != "payment declined" {
		t.Fatal("empty reason should fall back to kind message")
	}
}

func TestStockShortfallErrorMessage(t *testing.T) {
	err := &StockShortfallError{
		OrderID: "o-1",
		Shortfalls: []StockShortfall{
			{ProductID: "p-1", Quantity: 2},
			{ProductID: "p-2", Quantity: 1},
		},
	}
	want := "order o-1 recorded with stock shortfall: p-1 x2, p-2 x1"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
