package domain

import (
	"context"
	"errors"
)

var (
	ErrInvalidEmail         = errors.New("invalid_email")
	ErrPaymentMethodMissing = errors.New("payment_method_required")
)

// Handle identifies a processor customer.
type Handle struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Binder interface {
	ResolveCustomer(ctx context.Context, email, name string) (Handle, error)
	AttachAndDefault(ctx context.Context, customer Handle, paymentMethodID string) error
}
