package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	"github.com/railzwaylabs/deskbill/internal/calendar"
	customerdomain "github.com/railzwaylabs/deskbill/internal/customer/domain"
)

var (
	ErrInvalidPricingMetadata = errors.New("invalid_pricing_metadata")
	ErrSubscriptionHasNoItems = errors.New("subscription_has_no_items")
	ErrBookingRefRequired     = errors.New("booking_reference_required")
)

// Metadata keys stored on the processor subscription.
const (
	MetaSelectedDays     = "selected_days"
	MetaDailyRate        = "daily_rate_cents"
	MetaMode             = "subscription_mode"
	MetaDynamic          = "dynamic_billing"
	MetaBookingRef       = "booking_id"
	MetaStartDate        = "start_date"
	MetaProratedIntent   = "prorated_payment_intent"
	MetaBookingFrequency = "booking_frequency"
	MetaDaysCount        = "days_count"
	MetaBillingMonth     = "billing_month"
)

// PricingMetadata is everything needed to recompute a subscription's price from
// the processor object alone.
type PricingMetadata struct {
	Weekdays       calendar.WeekdaySet
	DailyRateMinor int64
	Mode           billingcycledomain.SubscriptionMode
	Dynamic        bool
}

func (m PricingMetadata) Encode() map[string]string {
	return map[string]string{
		MetaSelectedDays: m.Weekdays.Encode(),
		MetaDailyRate:    strconv.FormatInt(m.DailyRateMinor, 10),
		MetaMode:         string(m.Mode),
		MetaDynamic:      strconv.FormatBool(m.Dynamic),
	}
}

// IsDynamic reports whether metadata opts the subscription into repricing. It
// does not validate the rest of the pricing keys.
func IsDynamic(metadata map[string]string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(metadata[MetaDynamic]))
	return err == nil && v
}

// DecodePricingMetadata reads pricing metadata back from a processor object.
func DecodePricingMetadata(metadata map[string]string) (PricingMetadata, error) {
	out := PricingMetadata{Dynamic: IsDynamic(metadata)}

	days, err := calendar.ParseWeekdaySet(metadata[MetaSelectedDays])
	if err != nil || days.Empty() {
		return out, fmt.Errorf("%w: %s", ErrInvalidPricingMetadata, MetaSelectedDays)
	}
	rate, err := strconv.ParseInt(strings.TrimSpace(metadata[MetaDailyRate]), 10, 64)
	if err != nil || rate <= 0 {
		return out, fmt.Errorf("%w: %s", ErrInvalidPricingMetadata, MetaDailyRate)
	}
	mode := billingcycledomain.ModeFullDay
	if raw := strings.TrimSpace(metadata[MetaMode]); raw != "" {
		mode, err = billingcycledomain.ParseSubscriptionMode(raw)
		if err != nil {
			return out, fmt.Errorf("%w: %s", ErrInvalidPricingMetadata, MetaMode)
		}
	}

	out.Weekdays = days
	out.DailyRateMinor = rate
	out.Mode = mode
	return out, nil
}

// Handle identifies a processor subscription together with its pricing state.
type Handle struct {
	ID          string          `json:"id"`
	ItemID      string          `json:"item_id"`
	PriceID     string          `json:"price_id"`
	ProductID   string          `json:"product_id"`
	AmountMinor int64           `json:"amount_minor"`
	Pricing     PricingMetadata `json:"-"`
}

type Step string

const (
	StepAttachPaymentMethod    Step = "attach_payment_method"
	StepCreateOneTimeCharge    Step = "create_one_time_charge"
	StepCreateProduct          Step = "create_product"
	StepCreatePrice            Step = "create_price"
	StepCreateSubscription     Step = "create_subscription"
	StepReadSubscription       Step = "read_subscription"
	StepCreateReplacementPrice Step = "create_replacement_price"
	StepSwapPrice              Step = "swap_price"
)

// StepError reports which processor call failed. Earlier steps are not rolled
// back.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func FailedStep(err error) (Step, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}

type CreateInput struct {
	BookingRef      string
	PackageName     string
	Intent          billingcycledomain.RecurringBookingIntent
	Customer        customerdomain.Handle
	PaymentMethodID string
}

// OneTimeCharge is the unconfirmed prorated charge the client must confirm.
type OneTimeCharge struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
}

type CreateResult struct {
	Proration     billingcycledomain.ProrationResult         `json:"proration"`
	Projection    billingcycledomain.BillingPeriodProjection `json:"next_period"`
	OneTimeCharge *OneTimeCharge                             `json:"one_time_charge,omitempty"`
	Subscription  Handle                                     `json:"subscription"`
}

type SyncStatus string

const (
	SyncUpdated   SyncStatus = "updated"
	SyncUnchanged SyncStatus = "unchanged"
	SyncSkipped   SyncStatus = "skipped"
)

const (
	SkipReasonNotDynamic      = "not dynamic"
	SkipReasonInvalidMetadata = "invalid pricing metadata"
)

type SyncResult struct {
	SubscriptionID string                                      `json:"subscription_id"`
	Status         SyncStatus                                  `json:"status"`
	OldAmountMinor int64                                       `json:"old_amount_minor,omitempty"`
	NewAmountMinor int64                                       `json:"new_amount_minor,omitempty"`
	PriceID        string                                      `json:"price_id,omitempty"`
	Reason         string                                      `json:"reason,omitempty"`
	Projection     *billingcycledomain.BillingPeriodProjection `json:"projection,omitempty"`
}

// SweepSummary counts the outcomes of one pass over active subscriptions.
type SweepSummary struct {
	Scanned   int `json:"scanned"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type Synchronizer interface {
	CreateRecurringBooking(ctx context.Context, input CreateInput) (*CreateResult, error)
	ResyncPriceBeforeCycle(ctx context.Context, subscriptionID string) (*SyncResult, error)
	SweepDynamicSubscriptions(ctx context.Context) (SweepSummary, error)
}
