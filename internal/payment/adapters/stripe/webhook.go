package stripe

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const SignatureHeader = "Stripe-Signature"

// VerifyWebhook checks the Stripe-Signature header against the endpoint secret
// and decodes the event envelope.
func (a *Adapter) VerifyWebhook(payload []byte, headers http.Header) (*paymentdomain.WebhookEvent, error) {
	if a.webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                a.webhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, paymentdomain.ErrInvalidSignature
		}
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	out := &paymentdomain.WebhookEvent{
		ID:         event.ID,
		Type:       string(event.Type),
		Livemode:   event.Livemode,
		CreatedAt:  time.Unix(event.Created, 0).UTC(),
		RawPayload: payload,
	}

	if out.Type == paymentdomain.EventTypeInvoiceUpcoming && event.Data != nil {
		var inv stripego.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}
