package stripe

import (
	"context"
	"strings"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
)

// CreatePaymentIntent authorizes a one-time charge without confirming it; the
// client completes confirmation.
func (a *Adapter) CreatePaymentIntent(ctx context.Context, input paymentdomain.PaymentIntentInput) (*paymentdomain.PaymentIntent, error) {
	params := &stripego.PaymentIntentParams{
		Amount:   stripego.Int64(input.AmountMinor),
		Currency: stripego.String(strings.ToLower(input.Currency)),
		Customer: stripego.String(input.CustomerID),
		Confirm:  stripego.Bool(false),
		AutomaticPaymentMethods: &stripego.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripego.Bool(true),
			AllowRedirects: stripego.String("never"),
		},
	}
	if input.PaymentMethodID != "" {
		params.PaymentMethod = stripego.String(input.PaymentMethodID)
	}
	if input.Description != "" {
		params.Description = stripego.String(input.Description)
	}
	params.Context = ctx
	withMetadata(&params.Params, input.Metadata)
	withIdempotency(&params.Params, input.IdempotencyKey)

	pi, err := a.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify("create payment intent", err)
	}
	return &paymentdomain.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountMinor:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func (a *Adapter) CreateProduct(ctx context.Context, input paymentdomain.ProductInput) (*paymentdomain.Product, error) {
	params := &stripego.ProductParams{Name: stripego.String(input.Name)}
	params.Context = ctx
	withMetadata(&params.Params, input.Metadata)
	withIdempotency(&params.Params, input.IdempotencyKey)

	prod, err := a.api.Products.New(params)
	if err != nil {
		return nil, classify("create product", err)
	}
	return &paymentdomain.Product{ID: prod.ID, Name: prod.Name}, nil
}

// CreatePrice creates a monthly recurring price.
func (a *Adapter) CreatePrice(ctx context.Context, input paymentdomain.PriceInput) (*paymentdomain.Price, error) {
	params := &stripego.PriceParams{
		Product:    stripego.String(input.ProductID),
		UnitAmount: stripego.Int64(input.UnitAmountMinor),
		Currency:   stripego.String(strings.ToLower(input.Currency)),
		Recurring: &stripego.PriceRecurringParams{
			Interval: stripego.String(string(stripego.PriceRecurringIntervalMonth)),
		},
	}
	params.Context = ctx
	withMetadata(&params.Params, input.Metadata)
	withIdempotency(&params.Params, input.IdempotencyKey)

	p, err := a.api.Prices.New(params)
	if err != nil {
		return nil, classify("create price", err)
	}
	price := toPrice(p)
	return &price, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, input paymentdomain.SubscriptionInput) (*paymentdomain.Subscription, error) {
	params := &stripego.SubscriptionParams{
		Customer: stripego.String(input.CustomerID),
		Items: []*stripego.SubscriptionItemsParams{
			{Price: stripego.String(input.PriceID)},
		},
	}
	if input.DefaultPaymentMethodID != "" {
		params.DefaultPaymentMethod = stripego.String(input.DefaultPaymentMethodID)
	}
	params.Context = ctx
	withMetadata(&params.Params, input.Metadata)
	withIdempotency(&params.Params, input.IdempotencyKey)

	sub, err := a.api.Subscriptions.New(params)
	if err != nil {
		return nil, classify("create subscription", err)
	}
	return toSubscription(sub), nil
}

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*paymentdomain.Subscription, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx

	sub, err := a.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, classify("get subscription", err)
	}
	return toSubscription(sub), nil
}

// SwapSubscriptionPrice replaces the item's price from the next cycle on,
// without proration.
func (a *Adapter) SwapSubscriptionPrice(ctx context.Context, input paymentdomain.PriceSwapInput) (*paymentdomain.Subscription, error) {
	params := &stripego.SubscriptionParams{
		Items: []*stripego.SubscriptionItemsParams{
			{ID: stripego.String(input.ItemID), Price: stripego.String(input.PriceID)},
		},
		ProrationBehavior: stripego.String("none"),
	}
	params.Context = ctx
	withIdempotency(&params.Params, input.IdempotencyKey)

	sub, err := a.api.Subscriptions.Update(input.SubscriptionID, params)
	if err != nil {
		return nil, classify("update subscription price", err)
	}
	return toSubscription(sub), nil
}

// ListActiveSubscriptions pages through every active subscription.
func (a *Adapter) ListActiveSubscriptions(ctx context.Context, fn func(*paymentdomain.Subscription) error) error {
	params := &stripego.SubscriptionListParams{Status: stripego.String(string(stripego.SubscriptionStatusActive))}
	params.Context = ctx
	params.Limit = stripego.Int64(100)

	iter := a.api.Subscriptions.List(params)
	for iter.Next() {
		if err := fn(toSubscription(iter.Subscription())); err != nil {
			return err
		}
	}
	return classify("list subscriptions", iter.Err())
}

func toPrice(p *stripego.Price) paymentdomain.Price {
	out := paymentdomain.Price{
		ID:              p.ID,
		Currency:        string(p.Currency),
		UnitAmountMinor: p.UnitAmount,
	}
	if p.Product != nil {
		out.ProductID = p.Product.ID
	}
	return out
}

func toSubscription(sub *stripego.Subscription) *paymentdomain.Subscription {
	out := &paymentdomain.Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			out.Items = append(out.Items, paymentdomain.SubscriptionItem{ID: item.ID, Price: toPrice(item.Price)})
		}
	}
	return out
}
