package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	bookingdomain "github.com/railzwaylabs/deskbill/internal/booking/domain"
	"github.com/railzwaylabs/deskbill/internal/calendar"
)

// bookingIntentRequest accepts weekdays as Sunday-based numbers or day names,
// e.g. [1, 3, 5] or ["mon", "wed", "fri"].
type bookingIntentRequest struct {
	Weekdays         []json.RawMessage `json:"weekdays"`
	StartDate        string            `json:"start_date"`
	DailyRateMinor   int64             `json:"daily_rate_minor"`
	SubscriptionMode string            `json:"subscription_mode"`
}

func (r bookingIntentRequest) toIntent() (billingcycledomain.RecurringBookingIntent, error) {
	var intent billingcycledomain.RecurringBookingIntent

	tokens := make([]string, 0, len(r.Weekdays))
	for _, raw := range r.Weekdays {
		raw = bytes.TrimSpace(raw)
		var n int
		if err := json.Unmarshal(raw, &n); err == nil {
			tokens = append(tokens, strconv.Itoa(n))
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return intent, newValidationError("weekdays", "invalid_weekdays", "weekdays must be numbers 0-6 or day names")
		}
		tokens = append(tokens, name)
	}
	days, err := calendar.ParseWeekdaySet(strings.Join(tokens, ","))
	if err != nil {
		return intent, newValidationError("weekdays", "invalid_weekdays", "weekdays must be numbers 0-6 or day names")
	}

	var start time.Time
	if v := strings.TrimSpace(r.StartDate); v != "" {
		start, err = time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return intent, newValidationError("start_date", "invalid_start_date", "start_date must be YYYY-MM-DD")
		}
	}

	mode := billingcycledomain.ModeFullDay
	if v := strings.TrimSpace(r.SubscriptionMode); v != "" {
		mode, err = billingcycledomain.ParseSubscriptionMode(v)
		if err != nil {
			return intent, newValidationError("subscription_mode", "invalid_subscription_mode", "subscription_mode must be full_day or half_day")
		}
	}

	intent = billingcycledomain.RecurringBookingIntent{
		Weekdays:       days,
		StartDate:      start,
		DailyRateMinor: r.DailyRateMinor,
		Mode:           mode,
	}
	return intent, nil
}

type createBookingBillingRequest struct {
	bookingIntentRequest

	CustomerEmail   string `json:"customer_email"`
	CustomerName    string `json:"customer_name"`
	PaymentMethodID string `json:"payment_method_id"`
	PackageName     string `json:"package_name"`
}

// QuoteBookingBilling returns the prorated charge and the next month's
// recurring amount without touching the processor.
func (s *Server) QuoteBookingBilling(c *gin.Context) {
	var req bookingIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := req.toIntent()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	quote, err := s.bookingSvc.ComputeInitialBilling(c.Request.Context(), intent)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, quote)
}

func (s *Server) CreateBookingBilling(c *gin.Context) {
	var req createBookingBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := req.toIntent()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.bookingSvc.CreateRecurringBooking(c.Request.Context(), bookingdomain.CreateRequest{
		BookingRef:      idempotencyKeyFromHeader(c),
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		CustomerName:    strings.TrimSpace(req.CustomerName),
		PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
		PackageName:     strings.TrimSpace(req.PackageName),
		Intent:          intent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch resp.Outcome {
	case bookingdomain.OutcomeDeclined:
		respondDataWithStatus(c, http.StatusPaymentRequired, resp)
	case bookingdomain.OutcomeRetryLater:
		c.Header("Retry-After", retryAfterSeconds)
		respondDataWithStatus(c, http.StatusServiceUnavailable, resp)
	default:
		respondDataWithStatus(c, http.StatusCreated, resp)
	}
}

func (s *Server) GetBookingBilling(c *gin.Context) {
	billing, err := s.bookingSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, billing)
}

// ResyncSubscription is the operator path for repricing one subscription
// outside the webhook flow.
func (s *Server) ResyncSubscription(c *gin.Context) {
	result, err := s.bookingSvc.ManualResync(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondData(c, result)
}
