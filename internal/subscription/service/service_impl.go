package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	customerdomain "github.com/railzwaylabs/deskbill/internal/customer/domain"
	"github.com/railzwaylabs/deskbill/internal/observability/metrics"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const bookingFrequencyWeekly = "weekly"

type ServiceParam struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Processor  paymentdomain.Processor
	Binder     customerdomain.Binder
	Billing    billingcycledomain.Service
	BillingCfg *config.BillingConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	processor  paymentdomain.Processor
	binder     customerdomain.Binder
	billing    billingcycledomain.Service
	billingCfg *config.BillingConfigHolder
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

func NewService(p ServiceParam) domain.Synchronizer {
	return &Service{
		log:        p.Log.Named("subscription.service"),
		clock:      p.Clock,
		processor:  p.Processor,
		binder:     p.Binder,
		billing:    p.Billing,
		billingCfg: p.BillingCfg,
		metrics:    p.Metrics,
		tracer:     otel.Tracer("deskbill/subscription"),
	}
}

// CreateRecurringBooking binds the payment method, opens the prorated one-time
// charge when there is anything to charge, and creates the recurring
// subscription priced for the month after the start month. Every processor
// object is created under an idempotency key derived from the booking
// reference, so retrying a failed booking resumes instead of duplicating.
func (s *Service) CreateRecurringBooking(ctx context.Context, input domain.CreateInput) (*domain.CreateResult, error) {
	ref := strings.TrimSpace(input.BookingRef)
	if ref == "" {
		return nil, domain.ErrBookingRefRequired
	}

	quote, err := s.billing.ComputeInitialBilling(input.Intent)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "subscription.CreateRecurringBooking",
		trace.WithAttributes(attribute.String("booking.ref", ref)))
	defer span.End()

	cfg := s.billingCfg.Get()
	currency := strings.ToLower(cfg.Currency)
	result := &domain.CreateResult{
		Proration:  quote.Proration,
		Projection: quote.Projection,
	}

	if err := s.binder.AttachAndDefault(ctx, input.Customer, input.PaymentMethodID); err != nil {
		return nil, s.stepFailed(span, domain.StepAttachPaymentMethod, err)
	}

	startDate := input.Intent.StartDate.Format("2006-01-02")
	if quote.Proration.AmountMinor > 0 {
		pi, err := s.processor.CreatePaymentIntent(ctx, paymentdomain.PaymentIntentInput{
			CustomerID:      input.Customer.ID,
			PaymentMethodID: input.PaymentMethodID,
			AmountMinor:     quote.Proration.AmountMinor,
			Currency:        currency,
			Description:     fmt.Sprintf("Prorated booking for %04d-%02d", quote.Proration.ReferenceYear, quote.Proration.ReferenceMonth),
			Metadata: map[string]string{
				"type":                  "prorated_billing",
				domain.MetaBookingRef:   ref,
				"remaining_days":        strconv.Itoa(quote.Proration.RemainingDays),
				domain.MetaStartDate:    startDate,
				domain.MetaSelectedDays: input.Intent.Weekdays.Encode(),
			},
			IdempotencyKey: "booking:" + ref + ":proration",
		})
		if err != nil {
			return nil, s.stepFailed(span, domain.StepCreateOneTimeCharge, err)
		}
		result.OneTimeCharge = &domain.OneTimeCharge{
			PaymentIntentID: pi.ID,
			ClientSecret:    pi.ClientSecret,
			AmountMinor:     pi.AmountMinor,
			Currency:        currency,
		}
	} else {
		s.log.Info("no prorated days remaining, skipping one-time charge",
			zap.String("booking_ref", ref),
			zap.String("start_date", startDate))
	}

	packageName := strings.TrimSpace(input.PackageName)
	if packageName == "" {
		packageName = input.Intent.Weekdays.Names()
	}
	product, err := s.processor.CreateProduct(ctx, paymentdomain.ProductInput{
		Name: cfg.ProductNamePrefix + " - " + packageName,
		Metadata: map[string]string{
			domain.MetaBookingRef:   ref,
			domain.MetaSelectedDays: input.Intent.Weekdays.Encode(),
		},
		IdempotencyKey: "booking:" + ref + ":product",
	})
	if err != nil {
		return nil, s.stepFailed(span, domain.StepCreateProduct, err)
	}

	price, err := s.processor.CreatePrice(ctx, paymentdomain.PriceInput{
		ProductID:       product.ID,
		Currency:        currency,
		UnitAmountMinor: quote.Projection.AmountMinor,
		Metadata:        priceMetadata(quote.Projection),
		IdempotencyKey:  "booking:" + ref + ":price",
	})
	if err != nil {
		return nil, s.stepFailed(span, domain.StepCreatePrice, err)
	}

	pricing := domain.PricingMetadata{
		Weekdays:       input.Intent.Weekdays,
		DailyRateMinor: input.Intent.DailyRateMinor,
		Mode:           input.Intent.Mode,
		Dynamic:        true,
	}
	metadata := pricing.Encode()
	metadata[domain.MetaBookingRef] = ref
	metadata[domain.MetaStartDate] = startDate
	metadata[domain.MetaBookingFrequency] = bookingFrequencyWeekly
	if result.OneTimeCharge != nil {
		metadata[domain.MetaProratedIntent] = result.OneTimeCharge.PaymentIntentID
	}

	sub, err := s.processor.CreateSubscription(ctx, paymentdomain.SubscriptionInput{
		CustomerID:             input.Customer.ID,
		PriceID:                price.ID,
		DefaultPaymentMethodID: input.PaymentMethodID,
		Metadata:               metadata,
		IdempotencyKey:         "booking:" + ref + ":subscription",
	})
	if err != nil {
		return nil, s.stepFailed(span, domain.StepCreateSubscription, err)
	}

	result.Subscription = domain.Handle{
		ID:          sub.ID,
		PriceID:     price.ID,
		ProductID:   product.ID,
		AmountMinor: price.UnitAmountMinor,
		Pricing:     pricing,
	}
	if item, ok := sub.PrimaryItem(); ok {
		result.Subscription.ItemID = item.ID
	}

	span.SetAttributes(attribute.String("subscription.id", sub.ID))
	s.log.Info("recurring booking created",
		zap.String("booking_ref", ref),
		zap.String("subscription_id", sub.ID),
		zap.Int64("prorated_amount", quote.Proration.AmountMinor),
		zap.Int64("recurring_amount", quote.Projection.AmountMinor),
		zap.String("billing_month", quote.Projection.BillingMonth()))
	return result, nil
}

// ResyncPriceBeforeCycle reprices a dynamic subscription for the month after
// the current date. It compares against the processor's stored price and only
// swaps when the amount differs, so repeated calls converge.
func (s *Service) ResyncPriceBeforeCycle(ctx context.Context, subscriptionID string) (*domain.SyncResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	ctx, span := s.tracer.Start(ctx, "subscription.ResyncPriceBeforeCycle",
		trace.WithAttributes(attribute.String("subscription.id", subscriptionID)))
	defer span.End()

	sub, err := s.processor.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, s.stepFailed(span, domain.StepReadSubscription, err)
	}
	return s.resync(ctx, span, sub)
}

// SweepDynamicSubscriptions resyncs every active dynamic subscription. It backs
// up the webhook path when a notification was missed.
func (s *Service) SweepDynamicSubscriptions(ctx context.Context) (domain.SweepSummary, error) {
	ctx, span := s.tracer.Start(ctx, "subscription.SweepDynamicSubscriptions")
	defer span.End()

	var summary domain.SweepSummary
	err := s.processor.ListActiveSubscriptions(ctx, func(sub *paymentdomain.Subscription) error {
		summary.Scanned++
		if !domain.IsDynamic(sub.Metadata) {
			summary.Skipped++
			return nil
		}

		res, err := s.resync(ctx, span, sub)
		if err != nil {
			summary.Failed++
			s.log.Warn("resync during sweep failed",
				zap.String("subscription_id", sub.ID),
				zap.Error(err))
			return ctx.Err()
		}
		switch res.Status {
		case domain.SyncUpdated:
			summary.Updated++
		case domain.SyncUnchanged:
			summary.Unchanged++
		default:
			summary.Skipped++
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveProcessorError("list_subscriptions", err)
		return summary, err
	}

	s.log.Info("resync sweep completed",
		zap.Int("scanned", summary.Scanned),
		zap.Int("updated", summary.Updated),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (s *Service) resync(ctx context.Context, span trace.Span, sub *paymentdomain.Subscription) (*domain.SyncResult, error) {
	if !domain.IsDynamic(sub.Metadata) {
		return s.skipped(sub.ID, domain.SkipReasonNotDynamic), nil
	}

	pricing, err := domain.DecodePricingMetadata(sub.Metadata)
	if err != nil {
		s.log.Warn("subscription has unreadable pricing metadata",
			zap.String("subscription_id", sub.ID),
			zap.Error(err))
		return s.skipped(sub.ID, domain.SkipReasonInvalidMetadata), nil
	}

	item, ok := sub.PrimaryItem()
	if !ok {
		return nil, s.stepFailed(span, domain.StepReadSubscription, domain.ErrSubscriptionHasNoItems)
	}

	now := s.clock.Now(ctx)
	projection, err := s.billing.ProjectNextPeriod(pricing.Weekdays, now, pricing.DailyRateMinor, pricing.Mode)
	if err != nil {
		return nil, err
	}

	oldAmount := item.Price.UnitAmountMinor
	if projection.AmountMinor == oldAmount {
		s.metrics.ObserveResync(string(domain.SyncUnchanged))
		return &domain.SyncResult{
			SubscriptionID: sub.ID,
			Status:         domain.SyncUnchanged,
			OldAmountMinor: oldAmount,
			NewAmountMinor: oldAmount,
			PriceID:        item.Price.ID,
			Projection:     &projection,
		}, nil
	}

	currency := item.Price.Currency
	if currency == "" {
		currency = strings.ToLower(s.billingCfg.Get().Currency)
	}
	price, err := s.processor.CreatePrice(ctx, paymentdomain.PriceInput{
		ProductID:       item.Price.ProductID,
		Currency:        currency,
		UnitAmountMinor: projection.AmountMinor,
		Metadata:        priceMetadata(projection),
		IdempotencyKey:  fmt.Sprintf("price:%s:%s:%d", sub.ID, projection.BillingMonth(), projection.AmountMinor),
	})
	if err != nil {
		return nil, s.stepFailed(span, domain.StepCreateReplacementPrice, err)
	}

	if _, err := s.processor.SwapSubscriptionPrice(ctx, paymentdomain.PriceSwapInput{
		SubscriptionID: sub.ID,
		ItemID:         item.ID,
		PriceID:        price.ID,
	}); err != nil {
		return nil, s.stepFailed(span, domain.StepSwapPrice, err)
	}

	s.metrics.ObserveResync(string(domain.SyncUpdated))
	s.log.Info("subscription price updated",
		zap.String("subscription_id", sub.ID),
		zap.String("billing_month", projection.BillingMonth()),
		zap.Int64("old_amount", oldAmount),
		zap.Int64("new_amount", projection.AmountMinor),
		zap.Int("days", projection.MatchingDays))

	return &domain.SyncResult{
		SubscriptionID: sub.ID,
		Status:         domain.SyncUpdated,
		OldAmountMinor: oldAmount,
		NewAmountMinor: projection.AmountMinor,
		PriceID:        price.ID,
		Projection:     &projection,
	}, nil
}

func (s *Service) skipped(subscriptionID, reason string) *domain.SyncResult {
	s.metrics.ObserveResync(string(domain.SyncSkipped))
	return &domain.SyncResult{
		SubscriptionID: subscriptionID,
		Status:         domain.SyncSkipped,
		Reason:         reason,
	}
}

func (s *Service) stepFailed(span trace.Span, step domain.Step, err error) error {
	s.metrics.ObserveProcessorError(string(step), err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(step))
	s.log.Warn("processor step failed",
		zap.String("step", string(step)),
		zap.String("class", metrics.ClassifyProcessorError(err)),
		zap.Error(err))
	return &domain.StepError{Step: step, Err: err}
}

func priceMetadata(p billingcycledomain.BillingPeriodProjection) map[string]string {
	return map[string]string{
		domain.MetaDynamic:      "true",
		domain.MetaDaysCount:    strconv.Itoa(p.MatchingDays),
		domain.MetaBillingMonth: p.BillingMonth(),
	}
}
