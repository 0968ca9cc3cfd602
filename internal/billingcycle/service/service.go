package service

import (
	"time"

	"github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	"github.com/railzwaylabs/deskbill/internal/calendar"
)

type Service struct{}

func NewService() domain.Service {
	return &Service{}
}

// ComputeProration counts the selected weekdays from the start date through
// the end of its month and prices them at the effective daily rate.
func (s *Service) ComputeProration(intent domain.RecurringBookingIntent) (domain.ProrationResult, error) {
	if err := intent.Validate(); err != nil {
		return domain.ProrationResult{}, err
	}

	start := calendar.DateOnly(intent.StartDate)
	last := calendar.LastDayOfMonth(start)

	days := 0
	for d := start; !d.After(last); d = d.AddDate(0, 0, 1) {
		if intent.Weekdays.Contains(calendar.FromTime(d.Weekday())) {
			days++
		}
	}

	return domain.ProrationResult{
		RemainingDays:  days,
		AmountMinor:    int64(days) * intent.EffectiveDailyRate(),
		ReferenceYear:  start.Year(),
		ReferenceMonth: int(start.Month()),
	}, nil
}

// ProjectNextPeriod prices the full calendar month following reference's month.
func (s *Service) ProjectNextPeriod(weekdays calendar.WeekdaySet, reference time.Time, dailyRateMinor int64, mode domain.SubscriptionMode) (domain.BillingPeriodProjection, error) {
	if weekdays.Empty() {
		return domain.BillingPeriodProjection{}, domain.ErrEmptyWeekdays
	}
	if dailyRateMinor <= 0 {
		return domain.BillingPeriodProjection{}, domain.ErrInvalidRate
	}
	if !mode.Valid() {
		return domain.BillingPeriodProjection{}, domain.ErrInvalidMode
	}
	if reference.IsZero() {
		return domain.BillingPeriodProjection{}, domain.ErrMissingStartDate
	}

	year, month := calendar.NextMonth(reference.Year(), int(reference.Month()))
	days, err := calendar.CountMatchingWeekdays(year, month, weekdays)
	if err != nil {
		return domain.BillingPeriodProjection{}, err
	}

	return domain.BillingPeriodProjection{
		TargetYear:   year,
		TargetMonth:  month,
		MatchingDays: days,
		AmountMinor:  int64(days) * mode.EffectiveDailyRate(dailyRateMinor),
	}, nil
}

// ComputeInitialBilling quotes the prorated first month and the first recurring
// period. The recurring period is the month after the start date's month.
func (s *Service) ComputeInitialBilling(intent domain.RecurringBookingIntent) (domain.InitialBilling, error) {
	proration, err := s.ComputeProration(intent)
	if err != nil {
		return domain.InitialBilling{}, err
	}
	projection, err := s.ProjectNextPeriod(intent.Weekdays, intent.StartDate, intent.DailyRateMinor, intent.Mode)
	if err != nil {
		return domain.InitialBilling{}, err
	}
	return domain.InitialBilling{Proration: proration, Projection: projection}, nil
}
