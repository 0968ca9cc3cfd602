package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	"github.com/railzwaylabs/deskbill/internal/booking/domain"
	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	customerdomain "github.com/railzwaylabs/deskbill/internal/customer/domain"
	"github.com/railzwaylabs/deskbill/internal/observability/metrics"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"github.com/railzwaylabs/deskbill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const stepResolveCustomer = "resolve_customer"

type Params struct {
	fx.In

	Log        *zap.Logger
	Node       *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Billing    billingcycledomain.Service
	Binder     customerdomain.Binder
	Sync       subscriptiondomain.Synchronizer
	BillingCfg *config.BillingConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	node       *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	billing    billingcycledomain.Service
	binder     customerdomain.Binder
	sync       subscriptiondomain.Synchronizer
	billingCfg *config.BillingConfigHolder
	metrics    *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:        p.Log.Named("booking.service"),
		node:       p.Node,
		clock:      p.Clock,
		repo:       p.Repo,
		billing:    p.Billing,
		binder:     p.Binder,
		sync:       p.Sync,
		billingCfg: p.BillingCfg,
		metrics:    p.Metrics,
	}
}

func (s *Service) ComputeInitialBilling(ctx context.Context, intent billingcycledomain.RecurringBookingIntent) (billingcycledomain.InitialBilling, error) {
	return s.billing.ComputeInitialBilling(intent)
}

// CreateRecurringBooking records the booking and drives the processor setup.
// A declined card or a transient processor failure is reported through the
// response outcome rather than as an error, and a later call with the same
// booking reference resumes where the failed one stopped.
func (s *Service) CreateRecurringBooking(ctx context.Context, req domain.CreateRequest) (*domain.CreateResponse, error) {
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, customerdomain.ErrInvalidEmail)
	}
	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	if paymentMethodID == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, customerdomain.ErrPaymentMethodMissing)
	}
	quote, err := s.billing.ComputeInitialBilling(req.Intent)
	if err != nil {
		return nil, err
	}

	record, err := s.loadOrCreate(ctx, req, quote)
	if err != nil {
		return nil, err
	}
	// A resumed booking keeps the terms it was first quoted with.
	if !record.SameTerms(req.Intent) {
		s.log.Warn("booking reference reused with different terms", zap.String("booking_ref", record.BookingRef))
		return nil, fmt.Errorf("%w: %s", domain.ErrIntentMismatch, record.BookingRef)
	}
	intent, err := record.Intent()
	if err != nil {
		return nil, err
	}
	if record.Status == domain.StatusActive {
		s.log.Info("booking billing already active", zap.String("booking_ref", record.BookingRef))
		return &domain.CreateResponse{Billing: record, Outcome: domain.OutcomeCreated}, nil
	}

	customer, err := s.binder.ResolveCustomer(ctx, email, req.CustomerName)
	if err != nil {
		return s.fail(ctx, record, stepResolveCustomer, err)
	}
	record.CustomerID = customer.ID
	record.PaymentMethodID = paymentMethodID

	res, err := s.sync.CreateRecurringBooking(ctx, subscriptiondomain.CreateInput{
		BookingRef:      record.BookingRef,
		PackageName:     record.PackageName,
		Intent:          intent,
		Customer:        customer,
		PaymentMethodID: paymentMethodID,
	})
	if err != nil {
		step, _ := subscriptiondomain.FailedStep(err)
		return s.fail(ctx, record, string(step), err)
	}

	record.Status = domain.StatusActive
	record.Outcome = domain.OutcomeCreated
	record.FailedStep = ""
	record.FailureReason = ""
	record.SubscriptionID = res.Subscription.ID
	record.RecurringAmount = res.Subscription.AmountMinor
	record.BillingMonth = res.Projection.BillingMonth()
	record.UpdatedAt = s.clock.Now(ctx)

	resp := &domain.CreateResponse{Billing: record, Outcome: domain.OutcomeCreated}
	if res.OneTimeCharge != nil {
		record.PaymentIntentID = res.OneTimeCharge.PaymentIntentID
		resp.ClientSecret = res.OneTimeCharge.ClientSecret
	}

	if err := s.repo.Update(ctx, nil, record); err != nil {
		// The processor side is complete; a retry with the same reference
		// replays the same objects and fixes the record.
		s.log.Error("failed to store active booking billing",
			zap.String("booking_ref", record.BookingRef),
			zap.String("subscription_id", record.SubscriptionID),
			zap.Error(err))
		return nil, err
	}

	s.metrics.ObserveBookingOutcome(string(domain.OutcomeCreated))
	return resp, nil
}

func (s *Service) ManualResync(ctx context.Context, subscriptionID string) (*subscriptiondomain.SyncResult, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, domain.ErrSubscriptionIDRequired
	}
	s.log.Info("manual resync requested", zap.String("subscription_id", subscriptionID))
	return s.sync.ResyncPriceBeforeCycle(ctx, subscriptionID)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.BookingBilling, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, domain.ErrInvalidID
	}
	record, err := s.repo.FindByID(ctx, nil, parsed)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

func (s *Service) loadOrCreate(ctx context.Context, req domain.CreateRequest, quote billingcycledomain.InitialBilling) (*domain.BookingBilling, error) {
	ref := strings.TrimSpace(req.BookingRef)
	if ref != "" {
		existing, err := s.repo.FindByRef(ctx, nil, ref)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := s.clock.Now(ctx)
	id := s.node.Generate()
	if ref == "" {
		ref = "bkg_" + id.String()
	}
	record := &domain.BookingBilling{
		ID:              id,
		BookingRef:      ref,
		CustomerEmail:   strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		PackageName:     strings.TrimSpace(req.PackageName),
		SelectedDays:    req.Intent.Weekdays.Encode(),
		StartDate:       req.Intent.StartDate,
		DailyRateMinor:  req.Intent.DailyRateMinor,
		Mode:            string(req.Intent.Mode),
		Currency:        strings.ToLower(s.billingCfg.Get().Currency),
		ProratedDays:    quote.Proration.RemainingDays,
		ProratedAmount:  quote.Proration.AmountMinor,
		RecurringAmount: quote.Projection.AmountMinor,
		BillingMonth:    quote.Projection.BillingMonth(),
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, nil, record); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		existing, findErr := s.repo.FindByRef(ctx, nil, ref)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	return record, nil
}

func (s *Service) fail(ctx context.Context, record *domain.BookingBilling, step string, cause error) (*domain.CreateResponse, error) {
	record.Status = domain.StatusFailed
	record.FailedStep = step
	record.FailureReason = cause.Error()
	record.UpdatedAt = s.clock.Now(ctx)

	resp := &domain.CreateResponse{Billing: record}
	if rejected, ok := paymentdomain.AsRejected(cause); ok {
		record.Outcome = domain.OutcomeDeclined
		resp.DeclineReason = rejected.Reason()
	} else if paymentdomain.IsTransient(cause) {
		record.Outcome = domain.OutcomeRetryLater
	} else {
		record.Outcome = ""
	}

	if err := s.repo.Update(ctx, nil, record); err != nil {
		s.log.Error("failed to store booking billing failure",
			zap.String("booking_ref", record.BookingRef),
			zap.Error(err))
	}

	s.log.Warn("recurring booking failed",
		zap.String("booking_ref", record.BookingRef),
		zap.String("step", step),
		zap.String("outcome", string(record.Outcome)),
		zap.Error(cause))

	if record.Outcome == "" {
		s.metrics.ObserveBookingOutcome("error")
		if errors.Is(cause, customerdomain.ErrInvalidEmail) || errors.Is(cause, customerdomain.ErrPaymentMethodMissing) {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, cause)
		}
		return nil, cause
	}
	s.metrics.ObserveBookingOutcome(string(record.Outcome))
	resp.Outcome = record.Outcome
	return resp, nil
}
