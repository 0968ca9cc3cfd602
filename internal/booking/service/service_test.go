package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	billingcycleservice "github.com/railzwaylabs/deskbill/internal/billingcycle/service"
	"github.com/railzwaylabs/deskbill/internal/booking/domain"
	"github.com/railzwaylabs/deskbill/internal/booking/repository"
	"github.com/railzwaylabs/deskbill/internal/calendar"
	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	customerservice "github.com/railzwaylabs/deskbill/internal/customer/service"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/railzwaylabs/deskbill/internal/payment/paymenttest"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
	subscriptionservice "github.com/railzwaylabs/deskbill/internal/subscription/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	svc  domain.Service
	db   *gorm.DB
	proc *paymenttest.FakeProcessor
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.BookingBilling{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	proc := paymenttest.NewFakeProcessor()
	fixed := clock.NewFixedClock(time.Date(2024, 2, 19, 15, 0, 0, 0, time.UTC))
	billing := billingcycleservice.NewService()
	billingCfg := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	binder := customerservice.New(customerservice.Params{Log: zap.NewNop(), Processor: proc})
	sync := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		Log:        zap.NewNop(),
		Clock:      fixed,
		Processor:  proc,
		Binder:     binder,
		Billing:    billing,
		BillingCfg: billingCfg,
	})

	svc := NewService(Params{
		Log:        zap.NewNop(),
		Node:       node,
		Clock:      fixed,
		Repo:       repository.Provide(conn),
		Billing:    billing,
		Binder:     binder,
		Sync:       sync,
		BillingCfg: billingCfg,
	})
	return &fixture{svc: svc, db: conn, proc: proc}
}

func bookingRequest(t *testing.T, ref string) domain.CreateRequest {
	t.Helper()
	days, err := calendar.NewWeekdaySet(calendar.Monday, calendar.Wednesday, calendar.Friday)
	require.NoError(t, err)
	return domain.CreateRequest{
		BookingRef:      ref,
		CustomerEmail:   "Desk@Acme.test",
		CustomerName:    "Acme",
		PaymentMethodID: "pm_card_visa",
		PackageName:     "Hot Desk",
		Intent: billingcycledomain.RecurringBookingIntent{
			Weekdays:       days,
			StartDate:      time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
			DailyRateMinor: 2000,
			Mode:           billingcycledomain.ModeHalfDay,
		},
	}
}

func TestCreateRecurringBooking_Created(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	resp, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, resp.Outcome)
	assert.NotEmpty(t, resp.ClientSecret)

	billing := resp.Billing
	assert.Equal(t, domain.StatusActive, billing.Status)
	assert.Equal(t, "bk_1", billing.BookingRef)
	assert.Equal(t, "desk@acme.test", billing.CustomerEmail)
	assert.Equal(t, "1,3,5", billing.SelectedDays)
	assert.Equal(t, 4, billing.ProratedDays)
	assert.Equal(t, int64(4000), billing.ProratedAmount)
	assert.Equal(t, int64(13000), billing.RecurringAmount)
	assert.Equal(t, "2024-03", billing.BillingMonth)
	assert.NotEmpty(t, billing.SubscriptionID)
	assert.NotEmpty(t, billing.PaymentIntentID)
	assert.Equal(t, "usd", billing.Currency)

	stored, err := f.svc.Get(ctx, billing.ID.String())
	require.NoError(t, err)
	assert.Equal(t, billing.SubscriptionID, stored.SubscriptionID)
	assert.Equal(t, domain.StatusActive, stored.Status)
}

func TestCreateRecurringBooking_ReplayOfActiveBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_replay"))
	require.NoError(t, err)

	second, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_replay"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, second.Outcome)
	assert.Equal(t, first.Billing.ID, second.Billing.ID)
	assert.Equal(t, 1, f.proc.Calls(paymenttest.OpCreateSubscription))

	var count int64
	require.NoError(t, f.db.Model(&domain.BookingBilling{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateRecurringBooking_DeclinedThenRetried(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.proc.FailOn(paymenttest.OpCreateIntent, &paymentdomain.RejectedError{
		Code:        "card_declined",
		DeclineCode: "insufficient_funds",
		Message:     "Your card has insufficient funds.",
	})

	resp, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_declined"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeclined, resp.Outcome)
	assert.Equal(t, "Your card has insufficient funds.", resp.DeclineReason)
	assert.Equal(t, domain.StatusFailed, resp.Billing.Status)
	assert.Equal(t, string(subscriptiondomain.StepCreateOneTimeCharge), resp.Billing.FailedStep)

	f.proc.FailOn(paymenttest.OpCreateIntent, nil)
	retried, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_declined"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, retried.Outcome)
	assert.Equal(t, resp.Billing.ID, retried.Billing.ID)
	assert.Empty(t, retried.Billing.FailedStep)
	assert.Len(t, f.proc.PaymentIntents(), 1)
}

func TestCreateRecurringBooking_UnknownPaymentMethodIsDeclined(t *testing.T) {
	f := setup(t)
	f.proc.FailOn(paymenttest.OpAttach, &paymentdomain.RejectedError{
		Code:    "resource_missing",
		Param:   "payment_method",
		Message: "No such PaymentMethod: 'pm_bad'",
	})

	req := bookingRequest(t, "bk_bad_pm")
	req.PaymentMethodID = "pm_bad"
	resp, err := f.svc.CreateRecurringBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDeclined, resp.Outcome)
	assert.Equal(t, "No such PaymentMethod: 'pm_bad'", resp.DeclineReason)
	assert.Equal(t, string(subscriptiondomain.StepAttachPaymentMethod), resp.Billing.FailedStep)
	assert.Zero(t, f.proc.Calls(paymenttest.OpCreateIntent))
}

func TestCreateRecurringBooking_RetryWithDifferentTermsIsRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.proc.FailOn(paymenttest.OpCreateIntent, &paymentdomain.RejectedError{Code: "card_declined", Message: "declined"})

	first, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_terms"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDeclined, first.Outcome)
	f.proc.FailOn(paymenttest.OpCreateIntent, nil)

	changed := bookingRequest(t, "bk_terms")
	changed.Intent.StartDate = time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC)
	changed.Intent.DailyRateMinor = 5000
	_, err = f.svc.CreateRecurringBooking(ctx, changed)
	assert.ErrorIs(t, err, domain.ErrIntentMismatch)
	assert.Empty(t, f.proc.PaymentIntents())
	assert.Zero(t, f.proc.Calls(paymenttest.OpCreateSubscription))

	stored, err := f.svc.Get(ctx, first.Billing.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), stored.DailyRateMinor)
	assert.Equal(t, int64(4000), stored.ProratedAmount)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestCreateRecurringBooking_RetryUsesStoredTerms(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.proc.FailOn(paymenttest.OpCreateIntent, &paymentdomain.RejectedError{Code: "card_declined", Message: "declined"})

	first, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_same_terms"))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDeclined, first.Outcome)
	f.proc.FailOn(paymenttest.OpCreateIntent, nil)

	// Same calendar day at a different time, paid with a new card.
	retry := bookingRequest(t, "bk_same_terms")
	retry.Intent.StartDate = time.Date(2024, 2, 20, 18, 30, 0, 0, time.UTC)
	retry.PaymentMethodID = "pm_card_mastercard"
	resp, err := f.svc.CreateRecurringBooking(ctx, retry)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, resp.Outcome)
	assert.Equal(t, "pm_card_mastercard", resp.Billing.PaymentMethodID)

	intents := f.proc.PaymentIntents()
	require.Len(t, intents, 1)
	assert.Equal(t, first.Billing.ProratedAmount, intents[0].AmountMinor)

	sub, ok := f.proc.Subscription(resp.Billing.SubscriptionID)
	require.True(t, ok)
	assert.Equal(t, "2024-02-20", sub.Metadata[subscriptiondomain.MetaStartDate])
	assert.Equal(t, int64(13000), resp.Billing.RecurringAmount)
}

func TestCreateRecurringBooking_TransientIsRetryLater(t *testing.T) {
	f := setup(t)
	f.proc.FailOn(paymenttest.OpCreatePrice, paymentdomain.ErrProcessorTransient)

	resp, err := f.svc.CreateRecurringBooking(context.Background(), bookingRequest(t, "bk_transient"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRetryLater, resp.Outcome)
	assert.Equal(t, string(subscriptiondomain.StepCreatePrice), resp.Billing.FailedStep)
	assert.Equal(t, domain.StatusFailed, resp.Billing.Status)
}

func TestCreateRecurringBooking_ConflictIsAnError(t *testing.T) {
	f := setup(t)
	f.proc.FailOn(paymenttest.OpCreateSubscription, paymentdomain.ErrProcessorConflict)

	_, err := f.svc.CreateRecurringBooking(context.Background(), bookingRequest(t, "bk_conflict"))
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorConflict)
}

func TestCreateRecurringBooking_GeneratesReference(t *testing.T) {
	f := setup(t)

	resp, err := f.svc.CreateRecurringBooking(context.Background(), bookingRequest(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "bkg_"+resp.Billing.ID.String(), resp.Billing.BookingRef)
}

func TestCreateRecurringBooking_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	req := bookingRequest(t, "bk_invalid")
	req.CustomerEmail = ""
	_, err := f.svc.CreateRecurringBooking(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	req = bookingRequest(t, "bk_invalid")
	req.PaymentMethodID = " "
	_, err = f.svc.CreateRecurringBooking(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	req = bookingRequest(t, "bk_invalid")
	req.Intent.Weekdays = 0
	_, err = f.svc.CreateRecurringBooking(ctx, req)
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidIntent)

	req = bookingRequest(t, "bk_invalid")
	req.CustomerEmail = "not-an-email"
	_, err = f.svc.CreateRecurringBooking(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Zero(t, f.proc.Calls(paymenttest.OpCreateSubscription))
}

func TestComputeInitialBilling(t *testing.T) {
	f := setup(t)

	quote, err := f.svc.ComputeInitialBilling(context.Background(), bookingRequest(t, "").Intent)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), quote.Proration.AmountMinor)
	assert.Equal(t, int64(13000), quote.Projection.AmountMinor)
	assert.Zero(t, f.proc.Calls(paymenttest.OpCreateCustomer))
}

func TestGet(t *testing.T) {
	f := setup(t)

	_, err := f.svc.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidID)

	_, err = f.svc.Get(context.Background(), "123456")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManualResync(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ManualResync(ctx, "  ")
	assert.ErrorIs(t, err, domain.ErrSubscriptionIDRequired)

	resp, err := f.svc.CreateRecurringBooking(ctx, bookingRequest(t, "bk_manual"))
	require.NoError(t, err)

	res, err := f.svc.ManualResync(ctx, resp.Billing.SubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SyncUnchanged, res.Status)
}
