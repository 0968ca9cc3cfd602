package payment

import (
	"github.com/railzwaylabs/deskbill/internal/config"
	"github.com/railzwaylabs/deskbill/internal/payment/adapters/stripe"
	"github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/railzwaylabs/deskbill/internal/payment/repository"
	"github.com/railzwaylabs/deskbill/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(NewStripeAdapter),
	fx.Provide(
		func(a *stripe.Adapter) domain.Processor { return a },
		func(a *stripe.Adapter) domain.WebhookVerifier { return a },
	),
	fx.Provide(repository.NewEventRecordRepository),
	fx.Provide(webhook.NewService),
)

func NewStripeAdapter(cfg config.Config, log *zap.Logger) (*stripe.Adapter, error) {
	return stripe.New(stripe.Config{
		SecretKey:         cfg.Stripe.SecretKey,
		WebhookSecret:     cfg.Stripe.WebhookSecret,
		APIURL:            cfg.Stripe.APIURL,
		MaxNetworkRetries: cfg.Stripe.MaxNetworkRetries,
		RequestTimeout:    cfg.Stripe.RequestTimeout,
		WebhookTolerance:  cfg.Stripe.WebhookTolerance,
	}, log)
}
