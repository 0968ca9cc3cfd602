package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/railzwaylabs/deskbill/internal/calendar"
)

var (
	ErrInvalidIntent    = errors.New("invalid_booking_intent")
	ErrEmptyWeekdays    = errors.New("weekdays_required")
	ErrInvalidRate      = errors.New("daily_rate_must_be_positive")
	ErrInvalidMode      = errors.New("invalid_subscription_mode")
	ErrMissingStartDate = errors.New("start_date_required")
)

type SubscriptionMode string

const (
	ModeFullDay SubscriptionMode = "full_day"
	ModeHalfDay SubscriptionMode = "half_day"
)

// ParseSubscriptionMode normalizes the booking form values. "full_time" is the
// legacy spelling of full_day.
func ParseSubscriptionMode(raw string) (SubscriptionMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "full_day", "full_time", "full-day", "full":
		return ModeFullDay, nil
	case "half_day", "half-day", "half":
		return ModeHalfDay, nil
	default:
		return "", ErrInvalidMode
	}
}

func (m SubscriptionMode) Valid() bool {
	return m == ModeFullDay || m == ModeHalfDay
}

// EffectiveDailyRate halves the rate for half-day bookings, rounding down.
func (m SubscriptionMode) EffectiveDailyRate(rate int64) int64 {
	if m == ModeHalfDay {
		return rate / 2
	}
	return rate
}

// RecurringBookingIntent holds the inputs billing is computed from. Rates are in
// minor currency units.
type RecurringBookingIntent struct {
	Weekdays       calendar.WeekdaySet `json:"weekdays"`
	StartDate      time.Time           `json:"start_date"`
	DailyRateMinor int64               `json:"daily_rate_minor"`
	Mode           SubscriptionMode    `json:"subscription_mode"`
}

func (i RecurringBookingIntent) Validate() error {
	if i.Weekdays.Empty() {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, ErrEmptyWeekdays)
	}
	if i.DailyRateMinor <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, ErrInvalidRate)
	}
	if !i.Mode.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, ErrInvalidMode)
	}
	if i.StartDate.IsZero() {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, ErrMissingStartDate)
	}
	return nil
}

// EffectiveDailyRate is the per-day charge after the mode adjustment.
func (i RecurringBookingIntent) EffectiveDailyRate() int64 {
	return i.Mode.EffectiveDailyRate(i.DailyRateMinor)
}

type ProrationResult struct {
	RemainingDays  int   `json:"remaining_days"`
	AmountMinor    int64 `json:"amount_minor"`
	ReferenceYear  int   `json:"reference_year"`
	ReferenceMonth int   `json:"reference_month"`
}

type BillingPeriodProjection struct {
	TargetYear   int   `json:"target_year"`
	TargetMonth  int   `json:"target_month"`
	MatchingDays int   `json:"matching_days"`
	AmountMinor  int64 `json:"amount_minor"`
}

// BillingMonth renders the target period as YYYY-MM.
func (p BillingPeriodProjection) BillingMonth() string {
	return fmt.Sprintf("%04d-%02d", p.TargetYear, p.TargetMonth)
}

// InitialBilling is the quote shown before a booking is confirmed.
type InitialBilling struct {
	Proration  ProrationResult         `json:"proration"`
	Projection BillingPeriodProjection `json:"next_period"`
}

type Service interface {
	ComputeProration(intent RecurringBookingIntent) (ProrationResult, error)
	ProjectNextPeriod(weekdays calendar.WeekdaySet, reference time.Time, dailyRateMinor int64, mode SubscriptionMode) (BillingPeriodProjection, error)
	ComputeInitialBilling(intent RecurringBookingIntent) (InitialBilling, error)
}
