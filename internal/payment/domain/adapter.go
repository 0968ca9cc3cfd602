package domain

import (
	"context"
	"net/http"
	"time"
)

// Processor is the outbound surface of the payment processor. Implementations
// classify every failure into the errors declared in this package.
type Processor interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreatePaymentIntent(ctx context.Context, input PaymentIntentInput) (*PaymentIntent, error)
	CreateProduct(ctx context.Context, input ProductInput) (*Product, error)
	CreatePrice(ctx context.Context, input PriceInput) (*Price, error)

	CreateSubscription(ctx context.Context, input SubscriptionInput) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	SwapSubscriptionPrice(ctx context.Context, input PriceSwapInput) (*Subscription, error)
	ListActiveSubscriptions(ctx context.Context, fn func(*Subscription) error) error
}

// WebhookVerifier authenticates an inbound processor notification.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, headers http.Header) (*WebhookEvent, error)
}

type CustomerInput struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

type Customer struct {
	ID                   string
	Email                string
	Name                 string
	DefaultPaymentMethod string
}

type PaymentMethod struct {
	ID         string
	CustomerID string
	Brand      string
	Last4      string
}

type PaymentIntentInput struct {
	CustomerID      string
	PaymentMethodID string
	AmountMinor     int64
	Currency        string
	Description     string
	Metadata        map[string]string
	IdempotencyKey  string
}

type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     string
}

type ProductInput struct {
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

type Product struct {
	ID   string
	Name string
}

type PriceInput struct {
	ProductID       string
	Currency        string
	UnitAmountMinor int64
	Metadata        map[string]string
	IdempotencyKey  string
}

// Price is always a monthly recurring price in minor units.
type Price struct {
	ID              string
	ProductID       string
	Currency        string
	UnitAmountMinor int64
}

type SubscriptionInput struct {
	CustomerID             string
	PriceID                string
	DefaultPaymentMethodID string
	Metadata               map[string]string
	IdempotencyKey         string
}

type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	Metadata   map[string]string
	Items      []SubscriptionItem
}

type SubscriptionItem struct {
	ID    string
	Price Price
}

// PrimaryItem is the item that carries the booking's recurring price.
func (s *Subscription) PrimaryItem() (SubscriptionItem, bool) {
	if s == nil || len(s.Items) == 0 {
		return SubscriptionItem{}, false
	}
	return s.Items[0], true
}

type PriceSwapInput struct {
	SubscriptionID string
	ItemID         string
	PriceID        string
	IdempotencyKey string
}

const EventTypeInvoiceUpcoming = "invoice.upcoming"

// WebhookEvent is a verified processor notification.
type WebhookEvent struct {
	ID             string
	Type           string
	SubscriptionID string
	Livemode       bool
	CreatedAt      time.Time
	RawPayload     []byte
}
