package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	"github.com/railzwaylabs/deskbill/internal/calendar"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest         = errors.New("invalid_booking_request")
	ErrInvalidID              = errors.New("invalid_booking_billing_id")
	ErrNotFound               = errors.New("booking_billing_not_found")
	ErrSubscriptionIDRequired = errors.New("subscription_id_required")
	ErrIntentMismatch         = errors.New("booking_intent_mismatch")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
)

// PaymentOutcome tells the booking caller what to do next.
type PaymentOutcome string

const (
	OutcomeCreated    PaymentOutcome = "created"
	OutcomeDeclined   PaymentOutcome = "declined"
	OutcomeRetryLater PaymentOutcome = "retry_later"
)

// BookingBilling is the local record of one recurring booking's billing setup.
// The processor remains the source of truth for prices.
type BookingBilling struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	BookingRef      string         `json:"booking_ref" gorm:"type:text;not null;uniqueIndex"`
	CustomerEmail   string         `json:"customer_email" gorm:"type:text;not null"`
	CustomerID      string         `json:"customer_id,omitempty" gorm:"type:text"`
	PaymentMethodID string         `json:"payment_method_id" gorm:"type:text;not null"`
	PackageName     string         `json:"package_name,omitempty" gorm:"type:text"`
	SelectedDays    string         `json:"selected_days" gorm:"type:text;not null"`
	StartDate       time.Time      `json:"start_date" gorm:"not null"`
	DailyRateMinor  int64          `json:"daily_rate_minor" gorm:"not null"`
	Mode            string         `json:"subscription_mode" gorm:"type:text;not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	ProratedDays    int            `json:"prorated_days"`
	ProratedAmount  int64          `json:"prorated_amount_minor"`
	RecurringAmount int64          `json:"recurring_amount_minor"`
	BillingMonth    string         `json:"billing_month" gorm:"type:text"`
	PaymentIntentID string         `json:"payment_intent_id,omitempty" gorm:"type:text"`
	SubscriptionID  string         `json:"subscription_id,omitempty" gorm:"type:text;index"`
	Status          Status         `json:"status" gorm:"type:text;not null"`
	Outcome         PaymentOutcome `json:"outcome,omitempty" gorm:"type:text"`
	FailedStep      string         `json:"failed_step,omitempty" gorm:"type:text"`
	FailureReason   string         `json:"failure_reason,omitempty" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

func (BookingBilling) TableName() string { return "booking_billings" }

// Intent rebuilds the booking terms the record was created with.
func (b *BookingBilling) Intent() (billingcycledomain.RecurringBookingIntent, error) {
	days, err := calendar.ParseWeekdaySet(b.SelectedDays)
	if err != nil {
		return billingcycledomain.RecurringBookingIntent{}, err
	}
	mode, err := billingcycledomain.ParseSubscriptionMode(b.Mode)
	if err != nil {
		return billingcycledomain.RecurringBookingIntent{}, err
	}
	return billingcycledomain.RecurringBookingIntent{
		Weekdays:       days,
		StartDate:      calendar.DateOnly(b.StartDate.UTC()),
		DailyRateMinor: b.DailyRateMinor,
		Mode:           mode,
	}, nil
}

// SameTerms reports whether intent books the same days, start date, rate and
// mode as the record.
func (b *BookingBilling) SameTerms(intent billingcycledomain.RecurringBookingIntent) bool {
	stored, err := b.Intent()
	if err != nil {
		return false
	}
	return stored.Weekdays == intent.Weekdays &&
		stored.StartDate.Equal(calendar.DateOnly(intent.StartDate)) &&
		stored.DailyRateMinor == intent.DailyRateMinor &&
		stored.Mode == intent.Mode
}

type CreateRequest struct {
	BookingRef      string
	CustomerEmail   string
	CustomerName    string
	PaymentMethodID string
	PackageName     string
	Intent          billingcycledomain.RecurringBookingIntent
}

type CreateResponse struct {
	Billing       *BookingBilling `json:"billing"`
	Outcome       PaymentOutcome  `json:"outcome"`
	ClientSecret  string          `json:"client_secret,omitempty"`
	DeclineReason string          `json:"decline_reason,omitempty"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, billing *BookingBilling) error
	Update(ctx context.Context, db *gorm.DB, billing *BookingBilling) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BookingBilling, error)
	FindByRef(ctx context.Context, db *gorm.DB, ref string) (*BookingBilling, error)
}

// Service is the surface the booking flow calls into.
type Service interface {
	ComputeInitialBilling(ctx context.Context, intent billingcycledomain.RecurringBookingIntent) (billingcycledomain.InitialBilling, error)
	CreateRecurringBooking(ctx context.Context, req CreateRequest) (*CreateResponse, error)
	ManualResync(ctx context.Context, subscriptionID string) (*subscriptiondomain.SyncResult, error)
	Get(ctx context.Context, id string) (*BookingBilling, error)
}
