package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	billingcycleservice "github.com/railzwaylabs/deskbill/internal/billingcycle/service"
	"github.com/railzwaylabs/deskbill/internal/calendar"
	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	customerdomain "github.com/railzwaylabs/deskbill/internal/customer/domain"
	customerservice "github.com/railzwaylabs/deskbill/internal/customer/service"
	"github.com/railzwaylabs/deskbill/internal/observability/metrics"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/railzwaylabs/deskbill/internal/payment/paymenttest"
	"github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	svc      domain.Synchronizer
	proc     *paymenttest.FakeProcessor
	clock    *clock.FixedClock
	customer customerdomain.Handle
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	proc := paymenttest.NewFakeProcessor()
	binder := customerservice.New(customerservice.Params{Log: zap.NewNop(), Processor: proc})
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	fixed := clock.NewFixedClock(now)
	svc := NewService(ServiceParam{
		Log:        zap.NewNop(),
		Clock:      fixed,
		Processor:  proc,
		Binder:     binder,
		Billing:    billingcycleservice.NewService(),
		BillingCfg: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Metrics:    m,
	})

	customer, err := binder.ResolveCustomer(context.Background(), "desk@acme.test", "Acme")
	require.NoError(t, err)
	return &harness{svc: svc, proc: proc, clock: fixed, customer: customer}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func halfDayMWF(t *testing.T, start time.Time) billingcycledomain.RecurringBookingIntent {
	t.Helper()
	days, err := calendar.NewWeekdaySet(calendar.Monday, calendar.Wednesday, calendar.Friday)
	require.NoError(t, err)
	return billingcycledomain.RecurringBookingIntent{
		Weekdays:       days,
		StartDate:      start,
		DailyRateMinor: 2000,
		Mode:           billingcycledomain.ModeHalfDay,
	}
}

func (h *harness) create(t *testing.T, ref string, start time.Time) *domain.CreateResult {
	t.Helper()
	res, err := h.svc.CreateRecurringBooking(context.Background(), domain.CreateInput{
		BookingRef:      ref,
		PackageName:     "Hot Desk",
		Intent:          halfDayMWF(t, start),
		Customer:        h.customer,
		PaymentMethodID: "pm_card_visa",
	})
	require.NoError(t, err)
	return res
}

func TestCreateRecurringBooking_ProratesAndPricesNextMonth(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))

	res := h.create(t, "bk_1", date(2024, time.February, 20))

	require.NotNil(t, res.OneTimeCharge)
	assert.Equal(t, int64(4000), res.OneTimeCharge.AmountMinor)
	assert.NotEmpty(t, res.OneTimeCharge.ClientSecret)
	assert.Equal(t, 4, res.Proration.RemainingDays)

	// March 2024 has 13 Mondays, Wednesdays and Fridays.
	assert.Equal(t, "2024-03", res.Projection.BillingMonth())
	assert.Equal(t, 13, res.Projection.MatchingDays)
	assert.Equal(t, int64(13000), res.Subscription.AmountMinor)

	sub, ok := h.proc.Subscription(res.Subscription.ID)
	require.True(t, ok)
	assert.Equal(t, "true", sub.Metadata[domain.MetaDynamic])
	assert.Equal(t, "1,3,5", sub.Metadata[domain.MetaSelectedDays])
	assert.Equal(t, "2000", sub.Metadata[domain.MetaDailyRate])
	assert.Equal(t, "half_day", sub.Metadata[domain.MetaMode])
	assert.Equal(t, "bk_1", sub.Metadata[domain.MetaBookingRef])
	assert.Equal(t, "2024-02-20", sub.Metadata[domain.MetaStartDate])
	assert.Equal(t, res.OneTimeCharge.PaymentIntentID, sub.Metadata[domain.MetaProratedIntent])
}

func TestCreateRecurringBooking_NoRemainingDaysSkipsCharge(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 29))

	// 2024-02-29 is a Thursday and the last day of the month.
	res := h.create(t, "bk_late", date(2024, time.February, 29))

	assert.Nil(t, res.OneTimeCharge)
	assert.Equal(t, 0, res.Proration.RemainingDays)
	assert.Empty(t, h.proc.PaymentIntents())
	assert.Equal(t, 1, h.proc.Calls(paymenttest.OpCreateSubscription))
}

func TestCreateRecurringBooking_RetryDoesNotDuplicate(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	input := domain.CreateInput{
		BookingRef:      "bk_retry",
		Intent:          halfDayMWF(t, date(2024, time.February, 20)),
		Customer:        h.customer,
		PaymentMethodID: "pm_card_visa",
	}

	h.proc.FailOn(paymenttest.OpCreateSubscription, paymentdomain.ErrProcessorTransient)
	_, err := h.svc.CreateRecurringBooking(context.Background(), input)
	require.Error(t, err)
	step, ok := domain.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, domain.StepCreateSubscription, step)
	assert.ErrorIs(t, err, paymentdomain.ErrProcessorTransient)

	h.proc.FailOn(paymenttest.OpCreateSubscription, nil)
	res, err := h.svc.CreateRecurringBooking(context.Background(), input)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Subscription.ID)

	assert.Len(t, h.proc.PaymentIntents(), 1)
	assert.Equal(t, 1, h.proc.PriceCount())
}

func TestCreateRecurringBooking_DeclinedChargeReportsStep(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	h.proc.FailOn(paymenttest.OpCreateIntent, &paymentdomain.RejectedError{Code: "card_declined", DeclineCode: "insufficient_funds"})

	_, err := h.svc.CreateRecurringBooking(context.Background(), domain.CreateInput{
		BookingRef:      "bk_declined",
		Intent:          halfDayMWF(t, date(2024, time.February, 20)),
		Customer:        h.customer,
		PaymentMethodID: "pm_card_visa",
	})

	require.Error(t, err)
	step, _ := domain.FailedStep(err)
	assert.Equal(t, domain.StepCreateOneTimeCharge, step)
	rejected, ok := paymentdomain.AsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "insufficient_funds", rejected.DeclineCode)
	assert.Zero(t, h.proc.Calls(paymenttest.OpCreateProduct))
}

func TestCreateRecurringBooking_Validation(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))

	_, err := h.svc.CreateRecurringBooking(context.Background(), domain.CreateInput{
		Intent: halfDayMWF(t, date(2024, time.February, 20)),
	})
	assert.ErrorIs(t, err, domain.ErrBookingRefRequired)

	intent := halfDayMWF(t, date(2024, time.February, 20))
	intent.DailyRateMinor = 0
	_, err = h.svc.CreateRecurringBooking(context.Background(), domain.CreateInput{BookingRef: "bk", Intent: intent})
	assert.ErrorIs(t, err, billingcycledomain.ErrInvalidRate)
	assert.Zero(t, h.proc.Calls(paymenttest.OpAttach))
}

func TestCreateRecurringBooking_AttachFailureStopsEarly(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	h.proc.FailOn(paymenttest.OpAttach, &paymentdomain.RejectedError{Code: "payment_method_unactivated"})

	_, err := h.svc.CreateRecurringBooking(context.Background(), domain.CreateInput{
		BookingRef:      "bk_attach",
		Intent:          halfDayMWF(t, date(2024, time.February, 20)),
		Customer:        h.customer,
		PaymentMethodID: "pm_bad",
	})
	step, _ := domain.FailedStep(err)
	assert.Equal(t, domain.StepAttachPaymentMethod, step)
	assert.Zero(t, h.proc.Calls(paymenttest.OpCreateIntent))
}

func TestResyncPriceBeforeCycle_UpdatesThenConverges(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	created := h.create(t, "bk_resync", date(2024, time.February, 20))

	// May 2024 has 14 Mondays, Wednesdays and Fridays.
	h.clock.Set(date(2024, time.April, 27))

	first, err := h.svc.ResyncPriceBeforeCycle(context.Background(), created.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncUpdated, first.Status)
	assert.Equal(t, int64(13000), first.OldAmountMinor)
	assert.Equal(t, int64(14000), first.NewAmountMinor)
	require.NotNil(t, first.Projection)
	assert.Equal(t, "2024-05", first.Projection.BillingMonth())

	sub, _ := h.proc.Subscription(created.Subscription.ID)
	item, _ := sub.PrimaryItem()
	assert.Equal(t, first.PriceID, item.Price.ID)
	assert.Equal(t, int64(14000), item.Price.UnitAmountMinor)
	assert.Equal(t, created.Subscription.ProductID, item.Price.ProductID)

	second, err := h.svc.ResyncPriceBeforeCycle(context.Background(), created.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncUnchanged, second.Status)
	assert.Equal(t, 1, h.proc.Calls(paymenttest.OpSwapPrice))
}

func TestResyncPriceBeforeCycle_SameAmountIsUnchanged(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	created := h.create(t, "bk_same", date(2024, time.February, 20))

	// April 2024 also has 13 matching days.
	h.clock.Set(date(2024, time.March, 28))

	res, err := h.svc.ResyncPriceBeforeCycle(context.Background(), created.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncUnchanged, res.Status)
	assert.Zero(t, h.proc.Calls(paymenttest.OpSwapPrice))
}

func TestResyncPriceBeforeCycle_SkipsNonDynamic(t *testing.T) {
	h := newHarness(t, date(2024, time.April, 27))
	h.proc.PutSubscription(paymentdomain.Subscription{
		ID:       "sub_static",
		Status:   "active",
		Metadata: map[string]string{"plan": "flat"},
		Items:    []paymentdomain.SubscriptionItem{{ID: "si_static", Price: paymentdomain.Price{ID: "price_static", UnitAmountMinor: 9900}}},
	})

	res, err := h.svc.ResyncPriceBeforeCycle(context.Background(), "sub_static")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSkipped, res.Status)
	assert.Equal(t, domain.SkipReasonNotDynamic, res.Reason)
	assert.Zero(t, h.proc.Calls(paymenttest.OpCreatePrice))
}

func TestResyncPriceBeforeCycle_SkipsInvalidMetadata(t *testing.T) {
	h := newHarness(t, date(2024, time.April, 27))
	h.proc.PutSubscription(paymentdomain.Subscription{
		ID:     "sub_broken",
		Status: "active",
		Metadata: map[string]string{
			domain.MetaDynamic:      "true",
			domain.MetaSelectedDays: "1,3,5",
			domain.MetaDailyRate:    "abc",
		},
		Items: []paymentdomain.SubscriptionItem{{ID: "si_b", Price: paymentdomain.Price{ID: "price_b", UnitAmountMinor: 100}}},
	})

	res, err := h.svc.ResyncPriceBeforeCycle(context.Background(), "sub_broken")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSkipped, res.Status)
	assert.Equal(t, domain.SkipReasonInvalidMetadata, res.Reason)
	assert.Zero(t, h.proc.Calls(paymenttest.OpSwapPrice))
}

func TestResyncPriceBeforeCycle_ReadFailure(t *testing.T) {
	h := newHarness(t, date(2024, time.April, 27))

	_, err := h.svc.ResyncPriceBeforeCycle(context.Background(), "sub_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, paymentdomain.ErrResourceNotFound)
	step, _ := domain.FailedStep(err)
	assert.Equal(t, domain.StepReadSubscription, step)
}

func TestResyncPriceBeforeCycle_SwapFailureReportsStep(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	created := h.create(t, "bk_swap", date(2024, time.February, 20))
	h.clock.Set(date(2024, time.April, 27))
	h.proc.FailOn(paymenttest.OpSwapPrice, paymentdomain.ErrProcessorTransient)

	_, err := h.svc.ResyncPriceBeforeCycle(context.Background(), created.Subscription.ID)
	step, _ := domain.FailedStep(err)
	assert.Equal(t, domain.StepSwapPrice, step)
	assert.True(t, paymentdomain.IsTransient(err))

	h.proc.FailOn(paymenttest.OpSwapPrice, nil)
	prices := h.proc.PriceCount()
	res, err := h.svc.ResyncPriceBeforeCycle(context.Background(), created.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncUpdated, res.Status)
	assert.Equal(t, prices, h.proc.PriceCount(), "replacement price is reused on retry")
}

func TestSweepDynamicSubscriptions(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	h.create(t, "bk_sweep", date(2024, time.February, 20))
	h.proc.PutSubscription(paymentdomain.Subscription{
		ID:       "sub_static",
		Status:   "active",
		Metadata: map[string]string{},
		Items:    []paymentdomain.SubscriptionItem{{ID: "si_s", Price: paymentdomain.Price{ID: "price_s", UnitAmountMinor: 500}}},
	})
	h.proc.PutSubscription(paymentdomain.Subscription{
		ID:       "sub_broken",
		Status:   "active",
		Metadata: map[string]string{domain.MetaDynamic: "true"},
		Items:    []paymentdomain.SubscriptionItem{{ID: "si_b", Price: paymentdomain.Price{ID: "price_b", UnitAmountMinor: 500}}},
	})
	h.proc.PutSubscription(paymentdomain.Subscription{
		ID:       "sub_cancelled",
		Status:   "canceled",
		Metadata: map[string]string{domain.MetaDynamic: "true"},
	})
	h.clock.Set(date(2024, time.April, 27))

	summary, err := h.svc.SweepDynamicSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SweepSummary{Scanned: 3, Updated: 1, Skipped: 2}, summary)
}

func TestSweepDynamicSubscriptions_ContinuesPastFailures(t *testing.T) {
	h := newHarness(t, date(2024, time.February, 20))
	h.create(t, "bk_a", date(2024, time.February, 20))
	h.create(t, "bk_b", date(2024, time.February, 20))
	h.clock.Set(date(2024, time.April, 27))
	h.proc.FailOn(paymenttest.OpCreatePrice, paymentdomain.ErrProcessorTransient)

	summary, err := h.svc.SweepDynamicSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Failed)
}

func TestSweepDynamicSubscriptions_ListFailure(t *testing.T) {
	h := newHarness(t, date(2024, time.April, 27))
	boom := errors.New("list failed")
	h.proc.FailOn(paymenttest.OpListSubscriptions, boom)

	_, err := h.svc.SweepDynamicSubscriptions(context.Background())
	assert.ErrorIs(t, err, boom)
}
