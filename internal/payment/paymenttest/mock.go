package paymenttest

import (
	"context"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/stretchr/testify/mock"
)

// MockProcessor is a testify mock of the processor port.
type MockProcessor struct {
	mock.Mock
}

var _ paymentdomain.Processor = (*MockProcessor)(nil)

func (m *MockProcessor) FindCustomerByEmail(ctx context.Context, email string) (*paymentdomain.Customer, error) {
	args := m.Called(ctx, email)
	c, _ := args.Get(0).(*paymentdomain.Customer)
	return c, args.Error(1)
}

func (m *MockProcessor) CreateCustomer(ctx context.Context, input paymentdomain.CustomerInput) (*paymentdomain.Customer, error) {
	args := m.Called(ctx, input)
	c, _ := args.Get(0).(*paymentdomain.Customer)
	return c, args.Error(1)
}

func (m *MockProcessor) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*paymentdomain.PaymentMethod, error) {
	args := m.Called(ctx, customerID, paymentMethodID)
	pm, _ := args.Get(0).(*paymentdomain.PaymentMethod)
	return pm, args.Error(1)
}

func (m *MockProcessor) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	return m.Called(ctx, customerID, paymentMethodID).Error(0)
}

func (m *MockProcessor) CreatePaymentIntent(ctx context.Context, input paymentdomain.PaymentIntentInput) (*paymentdomain.PaymentIntent, error) {
	args := m.Called(ctx, input)
	pi, _ := args.Get(0).(*paymentdomain.PaymentIntent)
	return pi, args.Error(1)
}

func (m *MockProcessor) CreateProduct(ctx context.Context, input paymentdomain.ProductInput) (*paymentdomain.Product, error) {
	args := m.Called(ctx, input)
	p, _ := args.Get(0).(*paymentdomain.Product)
	return p, args.Error(1)
}

func (m *MockProcessor) CreatePrice(ctx context.Context, input paymentdomain.PriceInput) (*paymentdomain.Price, error) {
	args := m.Called(ctx, input)
	p, _ := args.Get(0).(*paymentdomain.Price)
	return p, args.Error(1)
}

func (m *MockProcessor) CreateSubscription(ctx context.Context, input paymentdomain.SubscriptionInput) (*paymentdomain.Subscription, error) {
	args := m.Called(ctx, input)
	s, _ := args.Get(0).(*paymentdomain.Subscription)
	return s, args.Error(1)
}

func (m *MockProcessor) GetSubscription(ctx context.Context, id string) (*paymentdomain.Subscription, error) {
	args := m.Called(ctx, id)
	s, _ := args.Get(0).(*paymentdomain.Subscription)
	return s, args.Error(1)
}

func (m *MockProcessor) SwapSubscriptionPrice(ctx context.Context, input paymentdomain.PriceSwapInput) (*paymentdomain.Subscription, error) {
	args := m.Called(ctx, input)
	s, _ := args.Get(0).(*paymentdomain.Subscription)
	return s, args.Error(1)
}

func (m *MockProcessor) ListActiveSubscriptions(ctx context.Context, fn func(*paymentdomain.Subscription) error) error {
	return m.Called(ctx, fn).Error(0)
}
