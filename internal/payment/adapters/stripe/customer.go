package stripe

import (
	"context"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
)

// FindCustomerByEmail returns the first customer registered under email.
func (a *Adapter) FindCustomerByEmail(ctx context.Context, email string) (*paymentdomain.Customer, error) {
	params := &stripego.CustomerListParams{Email: stripego.String(email)}
	params.Context = ctx
	params.Limit = stripego.Int64(1)

	iter := a.api.Customers.List(params)
	if iter.Next() {
		return toCustomer(iter.Customer()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, classify("list customers", err)
	}
	return nil, paymentdomain.ErrResourceNotFound
}

func (a *Adapter) CreateCustomer(ctx context.Context, input paymentdomain.CustomerInput) (*paymentdomain.Customer, error) {
	params := &stripego.CustomerParams{Email: stripego.String(input.Email)}
	if input.Name != "" {
		params.Name = stripego.String(input.Name)
	}
	params.Context = ctx
	withMetadata(&params.Params, input.Metadata)
	withIdempotency(&params.Params, input.IdempotencyKey)

	cus, err := a.api.Customers.New(params)
	if err != nil {
		return nil, classify("create customer", err)
	}
	return toCustomer(cus), nil
}

// AttachPaymentMethod binds a tokenized payment method to the customer. A
// method already attached to the same customer counts as attached.
func (a *Adapter) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*paymentdomain.PaymentMethod, error) {
	params := &stripego.PaymentMethodAttachParams{Customer: stripego.String(customerID)}
	params.Context = ctx

	pm, err := a.api.PaymentMethods.Attach(paymentMethodID, params)
	if err == nil {
		return toPaymentMethod(pm), nil
	}
	if !isAlreadyAttached(err) {
		return nil, classify("attach payment method", err)
	}

	getParams := &stripego.PaymentMethodParams{}
	getParams.Context = ctx
	existing, getErr := a.api.PaymentMethods.Get(paymentMethodID, getParams)
	if getErr != nil {
		return nil, classify("retrieve payment method", getErr)
	}
	if existing.Customer == nil || existing.Customer.ID != customerID {
		return nil, classify("attach payment method", err)
	}

	a.log.Debug("payment method already attached",
		zap.String("customer_id", customerID),
		zap.String("payment_method_id", paymentMethodID))
	return toPaymentMethod(existing), nil
}

func (a *Adapter) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripego.CustomerParams{
		InvoiceSettings: &stripego.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripego.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := a.api.Customers.Update(customerID, params); err != nil {
		return classify("set default payment method", err)
	}
	return nil
}

func toCustomer(cus *stripego.Customer) *paymentdomain.Customer {
	out := &paymentdomain.Customer{
		ID:    cus.ID,
		Email: cus.Email,
		Name:  cus.Name,
	}
	if cus.InvoiceSettings != nil && cus.InvoiceSettings.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethod = cus.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return out
}

func toPaymentMethod(pm *stripego.PaymentMethod) *paymentdomain.PaymentMethod {
	out := &paymentdomain.PaymentMethod{ID: pm.ID}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
	}
	return out
}
