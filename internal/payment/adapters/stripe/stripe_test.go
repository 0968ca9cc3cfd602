package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test"

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter, err := New(Config{
		SecretKey:         "sk_test_123",
		WebhookSecret:     testWebhookSecret,
		APIURL:            server.URL,
		MaxNetworkRetries: 0,
		RequestTimeout:    5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func stripeError(errType, code, declineCode, message string) map[string]any {
	return map[string]any{"error": map[string]any{
		"type":         errType,
		"code":         code,
		"decline_code": declineCode,
		"message":      message,
	}}
}

func TestNew_RequiresSecretKey(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorNotEnabled)
}

func TestFindCustomerByEmail(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/v1/customers", r.URL.Path)
		if r.URL.Query().Get("email") == "ops@acme.test" {
			writeJSON(w, http.StatusOK, map[string]any{
				"object": "list", "url": "/v1/customers", "has_more": false,
				"data": []any{map[string]any{"id": "cus_1", "object": "customer", "email": "ops@acme.test"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "url": "/v1/customers", "has_more": false, "data": []any{}})
	})

	cus, err := adapter.FindCustomerByEmail(context.Background(), "ops@acme.test")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", cus.ID)

	_, err = adapter.FindCustomerByEmail(context.Background(), "nobody@acme.test")
	assert.ErrorIs(t, err, paymentdomain.ErrResourceNotFound)
}

func TestCreatePrice_SendsIdempotencyKey(t *testing.T) {
	var gotKey, gotInterval string
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/prices", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotKey = r.Header.Get("Idempotency-Key")
		gotInterval = r.PostForm.Get("recurring[interval]")
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "price_1", "object": "price", "currency": "usd", "unit_amount": 13000, "product": "prod_1",
		})
	})

	price, err := adapter.CreatePrice(context.Background(), paymentdomain.PriceInput{
		ProductID:       "prod_1",
		Currency:        "USD",
		UnitAmountMinor: 13000,
		IdempotencyKey:  "price:bk_1:2024-03:13000",
	})
	require.NoError(t, err)
	assert.Equal(t, "price_1", price.ID)
	assert.Equal(t, "prod_1", price.ProductID)
	assert.Equal(t, int64(13000), price.UnitAmountMinor)
	assert.Equal(t, "price:bk_1:2024-03:13000", gotKey)
	assert.Equal(t, "month", gotInterval)
}

func TestAttachPaymentMethod_AlreadyAttachedToSameCustomer(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payment_methods/pm_1/attach":
			writeJSON(w, http.StatusBadRequest, stripeError("invalid_request_error", "",
				"", "The payment method you provided has already been attached to a customer."))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payment_methods/pm_1":
			writeJSON(w, http.StatusOK, map[string]any{
				"id": "pm_1", "object": "payment_method", "customer": "cus_1",
				"card": map[string]any{"brand": "visa", "last4": "4242"},
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	pm, err := adapter.AttachPaymentMethod(context.Background(), "cus_1", "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", pm.CustomerID)
	assert.Equal(t, "4242", pm.Last4)
}

func TestAttachPaymentMethod_AttachedToAnotherCustomer(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusBadRequest, stripeError("invalid_request_error", "",
				"", "The payment method you provided has already been attached to a customer."))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "pm_1", "object": "payment_method", "customer": "cus_other"})
	})

	_, err := adapter.AttachPaymentMethod(context.Background(), "cus_1", "pm_1")
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorRejected)
}

func TestClassify_CardDecline(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPaymentRequired, stripeError("card_error", "card_declined",
			"insufficient_funds", "Your card has insufficient funds."))
	})

	_, err := adapter.CreatePaymentIntent(context.Background(), paymentdomain.PaymentIntentInput{
		CustomerID: "cus_1", AmountMinor: 4000, Currency: "usd",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorRejected)
	assert.False(t, paymentdomain.IsTransient(err))

	rejected, ok := paymentdomain.AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "card_declined", rejected.Code)
	assert.Equal(t, "insufficient_funds", rejected.DeclineCode)
	assert.Equal(t, "Your card has insufficient funds.", rejected.Reason())
}

func TestClassify_ServerErrorIsTransient(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, stripeError("api_error", "", "", "upstream unavailable"))
	})

	_, err := adapter.CreateProduct(context.Background(), paymentdomain.ProductInput{Name: "Coworking Monthly"})
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorTransient)
}

func TestClassify_RateLimitIsTransient(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, stripeError("invalid_request_error", "rate_limit", "", "slow down"))
	})

	_, err := adapter.GetSubscription(context.Background(), "sub_1")
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorTransient)
}

func TestClassify_MissingResource(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, stripeError("invalid_request_error", "resource_missing", "", "No such subscription"))
	})

	_, err := adapter.GetSubscription(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, paymentdomain.ErrResourceNotFound)
}

func TestAttachPaymentMethod_UnknownMethodIsRejected(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_methods/pm_bad/attach", r.URL.Path)
		body := stripeError("invalid_request_error", "resource_missing", "", "No such PaymentMethod: 'pm_bad'")
		body["error"].(map[string]any)["param"] = "payment_method"
		writeJSON(w, http.StatusBadRequest, body)
	})

	_, err := adapter.AttachPaymentMethod(context.Background(), "cus_1", "pm_bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorRejected)
	assert.NotErrorIs(t, err, paymentdomain.ErrResourceNotFound)

	rejected, ok := paymentdomain.AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "resource_missing", rejected.Code)
	assert.Equal(t, "payment_method", rejected.Param)
	assert.Equal(t, "No such PaymentMethod: 'pm_bad'", rejected.Reason())
}

func TestClassify_NetworkFailureIsTransient(t *testing.T) {
	err := classify("get subscription", errors.New("dial tcp: connection refused"))
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorTransient)
}

func TestSwapSubscriptionPrice_NoProration(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "none", r.PostForm.Get("proration_behavior"))
		assert.Equal(t, "si_1", r.PostForm.Get("items[0][id]"))
		assert.Equal(t, "price_2", r.PostForm.Get("items[0][price]"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "sub_1", "object": "subscription", "status": "active",
			"metadata": map[string]any{"dynamic_billing": "true"},
			"items": map[string]any{"object": "list", "data": []any{map[string]any{
				"id": "si_1", "object": "subscription_item",
				"price": map[string]any{"id": "price_2", "object": "price", "unit_amount": 12000, "currency": "usd", "product": "prod_1"},
			}}},
		})
	})

	sub, err := adapter.SwapSubscriptionPrice(context.Background(), paymentdomain.PriceSwapInput{
		SubscriptionID: "sub_1", ItemID: "si_1", PriceID: "price_2",
	})
	require.NoError(t, err)
	item, ok := sub.PrimaryItem()
	require.True(t, ok)
	assert.Equal(t, int64(12000), item.Price.UnitAmountMinor)
	assert.Equal(t, "true", sub.Metadata["dynamic_billing"])
}

func signedPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestVerifyWebhook_InvoiceUpcoming(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.upcoming","created":1709251200,"livemode":false,` +
		`"data":{"object":{"object":"invoice","subscription":"sub_1","amount_due":13000}}}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, signedPayload(t, payload, testWebhookSecret))

	event, err := adapter.VerifyWebhook(payload, headers)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, paymentdomain.EventTypeInvoiceUpcoming, event.Type)
	assert.Equal(t, "sub_1", event.SubscriptionID)
}

func TestVerifyWebhook_BadSignature(t *testing.T) {
	adapter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.upcoming","data":{"object":{}}}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, signedPayload(t, payload, "whsec_other"))
	_, err := adapter.VerifyWebhook(payload, headers)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)

	_, err = adapter.VerifyWebhook(payload, http.Header{})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidSignature)
}
