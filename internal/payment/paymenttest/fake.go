// Package paymenttest provides in-memory processor doubles for tests.
package paymenttest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
)

const (
	OpFindCustomer       = "find_customer"
	OpCreateCustomer     = "create_customer"
	OpAttach             = "attach_payment_method"
	OpSetDefault         = "set_default_payment_method"
	OpCreateIntent       = "create_payment_intent"
	OpCreateProduct      = "create_product"
	OpCreatePrice        = "create_price"
	OpCreateSubscription = "create_subscription"
	OpGetSubscription    = "get_subscription"
	OpSwapPrice          = "swap_price"
	OpListSubscriptions  = "list_subscriptions"
)

// FakeProcessor is a stateful processor that honours idempotency keys the way
// the real API does: a repeated key returns the original object.
type FakeProcessor struct {
	mu sync.Mutex

	seq            int
	customers      map[string]*paymentdomain.Customer
	paymentMethods map[string]string
	products       map[string]*paymentdomain.Product
	prices         map[string]*paymentdomain.Price
	subscriptions  map[string]*paymentdomain.Subscription
	intents        map[string]*paymentdomain.PaymentIntent
	idempotent     map[string]string
	failures       map[string]error
	calls          map[string]int
}

func NewFakeProcessor() *FakeProcessor {
	return &FakeProcessor{
		customers:      map[string]*paymentdomain.Customer{},
		paymentMethods: map[string]string{},
		products:       map[string]*paymentdomain.Product{},
		prices:         map[string]*paymentdomain.Price{},
		subscriptions:  map[string]*paymentdomain.Subscription{},
		intents:        map[string]*paymentdomain.PaymentIntent{},
		idempotent:     map[string]string{},
		failures:       map[string]error{},
		calls:          map[string]int{},
	}
}

var _ paymentdomain.Processor = (*FakeProcessor)(nil)

// FailOn makes every call of op return err until cleared with a nil err.
func (f *FakeProcessor) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

func (f *FakeProcessor) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// PutSubscription seeds a subscription, e.g. one created outside the engine.
func (f *FakeProcessor) PutSubscription(sub paymentdomain.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = cloneSubscription(&sub)
	for _, item := range sub.Items {
		price := item.Price
		f.prices[price.ID] = &price
	}
}

func (f *FakeProcessor) Subscription(id string) (*paymentdomain.Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, false
	}
	return cloneSubscription(sub), true
}

func (f *FakeProcessor) PaymentIntents() []paymentdomain.PaymentIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]paymentdomain.PaymentIntent, 0, len(f.intents))
	for _, pi := range f.intents {
		out = append(out, *pi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *FakeProcessor) PriceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prices)
}

func (f *FakeProcessor) CustomerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers)
}

func (f *FakeProcessor) begin(op string) error {
	f.calls[op]++
	return f.failures[op]
}

func (f *FakeProcessor) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *FakeProcessor) FindCustomerByEmail(ctx context.Context, email string) (*paymentdomain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpFindCustomer); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.customers))
	for id, c := range f.customers {
		if c.Email == email {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, paymentdomain.ErrResourceNotFound
	}
	sort.Strings(ids)
	c := *f.customers[ids[0]]
	return &c, nil
}

func (f *FakeProcessor) CreateCustomer(ctx context.Context, input paymentdomain.CustomerInput) (*paymentdomain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateCustomer); err != nil {
		return nil, err
	}
	if id, ok := f.idempotent[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		c := *f.customers[id]
		return &c, nil
	}
	c := &paymentdomain.Customer{ID: f.nextID("cus"), Email: input.Email, Name: input.Name}
	f.customers[c.ID] = c
	f.remember(input.IdempotencyKey, c.ID)
	out := *c
	return &out, nil
}

func (f *FakeProcessor) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*paymentdomain.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpAttach); err != nil {
		return nil, err
	}
	if owner, ok := f.paymentMethods[paymentMethodID]; ok && owner != customerID {
		return nil, &paymentdomain.RejectedError{Message: "payment method attached to another customer"}
	}
	f.paymentMethods[paymentMethodID] = customerID
	return &paymentdomain.PaymentMethod{ID: paymentMethodID, CustomerID: customerID}, nil
}

func (f *FakeProcessor) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpSetDefault); err != nil {
		return err
	}
	c, ok := f.customers[customerID]
	if !ok {
		return paymentdomain.ErrResourceNotFound
	}
	c.DefaultPaymentMethod = paymentMethodID
	return nil
}

func (f *FakeProcessor) CreatePaymentIntent(ctx context.Context, input paymentdomain.PaymentIntentInput) (*paymentdomain.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateIntent); err != nil {
		return nil, err
	}
	if id, ok := f.idempotent[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		pi := *f.intents[id]
		return &pi, nil
	}
	id := f.nextID("pi")
	pi := &paymentdomain.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       "requires_confirmation",
		AmountMinor:  input.AmountMinor,
		Currency:     input.Currency,
	}
	f.intents[id] = pi
	f.remember(input.IdempotencyKey, id)
	out := *pi
	return &out, nil
}

func (f *FakeProcessor) CreateProduct(ctx context.Context, input paymentdomain.ProductInput) (*paymentdomain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateProduct); err != nil {
		return nil, err
	}
	if id, ok := f.idempotent[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		p := *f.products[id]
		return &p, nil
	}
	p := &paymentdomain.Product{ID: f.nextID("prod"), Name: input.Name}
	f.products[p.ID] = p
	f.remember(input.IdempotencyKey, p.ID)
	out := *p
	return &out, nil
}

func (f *FakeProcessor) CreatePrice(ctx context.Context, input paymentdomain.PriceInput) (*paymentdomain.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreatePrice); err != nil {
		return nil, err
	}
	if id, ok := f.idempotent[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		p := *f.prices[id]
		return &p, nil
	}
	p := &paymentdomain.Price{
		ID:              f.nextID("price"),
		ProductID:       input.ProductID,
		Currency:        input.Currency,
		UnitAmountMinor: input.UnitAmountMinor,
	}
	f.prices[p.ID] = p
	f.remember(input.IdempotencyKey, p.ID)
	out := *p
	return &out, nil
}

func (f *FakeProcessor) CreateSubscription(ctx context.Context, input paymentdomain.SubscriptionInput) (*paymentdomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateSubscription); err != nil {
		return nil, err
	}
	if id, ok := f.idempotent[input.IdempotencyKey]; ok && input.IdempotencyKey != "" {
		return cloneSubscription(f.subscriptions[id]), nil
	}
	price, ok := f.prices[input.PriceID]
	if !ok {
		return nil, paymentdomain.ErrResourceNotFound
	}
	metadata := make(map[string]string, len(input.Metadata))
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	sub := &paymentdomain.Subscription{
		ID:         f.nextID("sub"),
		CustomerID: input.CustomerID,
		Status:     "active",
		Metadata:   metadata,
		Items:      []paymentdomain.SubscriptionItem{{ID: f.nextID("si"), Price: *price}},
	}
	f.subscriptions[sub.ID] = sub
	f.remember(input.IdempotencyKey, sub.ID)
	return cloneSubscription(sub), nil
}

func (f *FakeProcessor) GetSubscription(ctx context.Context, id string) (*paymentdomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpGetSubscription); err != nil {
		return nil, err
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, paymentdomain.ErrResourceNotFound
	}
	return cloneSubscription(sub), nil
}

func (f *FakeProcessor) SwapSubscriptionPrice(ctx context.Context, input paymentdomain.PriceSwapInput) (*paymentdomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpSwapPrice); err != nil {
		return nil, err
	}
	sub, ok := f.subscriptions[input.SubscriptionID]
	if !ok {
		return nil, paymentdomain.ErrResourceNotFound
	}
	price, ok := f.prices[input.PriceID]
	if !ok {
		return nil, paymentdomain.ErrResourceNotFound
	}
	for i := range sub.Items {
		if sub.Items[i].ID == input.ItemID {
			sub.Items[i].Price = *price
			return cloneSubscription(sub), nil
		}
	}
	return nil, paymentdomain.ErrResourceNotFound
}

func (f *FakeProcessor) ListActiveSubscriptions(ctx context.Context, fn func(*paymentdomain.Subscription) error) error {
	f.mu.Lock()
	if err := f.begin(OpListSubscriptions); err != nil {
		f.mu.Unlock()
		return err
	}
	ids := make([]string, 0, len(f.subscriptions))
	for id, sub := range f.subscriptions {
		if sub.Status == "active" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	subs := make([]*paymentdomain.Subscription, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, cloneSubscription(f.subscriptions[id]))
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if err := fn(sub); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeProcessor) remember(key, id string) {
	if key != "" {
		f.idempotent[key] = id
	}
}

func cloneSubscription(sub *paymentdomain.Subscription) *paymentdomain.Subscription {
	out := *sub
	out.Metadata = make(map[string]string, len(sub.Metadata))
	for k, v := range sub.Metadata {
		out.Metadata[k] = v
	}
	out.Items = append([]paymentdomain.SubscriptionItem(nil), sub.Items...)
	return &out
}
