package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingcycledomain "github.com/railzwaylabs/deskbill/internal/billingcycle/domain"
	bookingdomain "github.com/railzwaylabs/deskbill/internal/booking/domain"
	"github.com/railzwaylabs/deskbill/internal/calendar"
	customerdomain "github.com/railzwaylabs/deskbill/internal/customer/domain"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusServiceUnavailable {
			c.Header("Retry-After", retryAfterSeconds)
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: strings.ReplaceAll(code, "_", " "),
				},
			},
		}
	}

	if rejected, ok := paymentdomain.AsRejected(err); ok {
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_rejected",
			Message: rejected.Reason(),
			Code:    rejected.Code,
		}
	}

	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_signature",
			Message: "invalid webhook signature",
		}
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_payload",
			Message: "invalid webhook payload",
		}
	case errors.Is(err, bookingdomain.ErrIntentMismatch):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "booking reference already used with different booking terms",
		}
	case errors.Is(err, paymentdomain.ErrProcessorConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflicting request, retry with a new idempotency key",
		}
	case errors.Is(err, bookingdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrResourceNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, paymentdomain.ErrProcessorTransient),
		errors.Is(err, paymentdomain.ErrProcessorNotEnabled),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "try again later",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bookingdomain.ErrInvalidRequest),
		errors.Is(err, bookingdomain.ErrInvalidID),
		errors.Is(err, bookingdomain.ErrSubscriptionIDRequired),
		errors.Is(err, billingcycledomain.ErrInvalidIntent),
		errors.Is(err, calendar.ErrInvalidCalendarInput),
		errors.Is(err, customerdomain.ErrInvalidEmail),
		errors.Is(err, customerdomain.ErrPaymentMethodMissing),
		errors.Is(err, subscriptiondomain.ErrBookingRefRequired):
		return true
	default:
		return false
	}
}

// validationErrorCode is the most specific sentinel in a "%w: %w" chain.
func validationErrorCode(err error) string {
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx >= 0 {
		return msg[idx+2:]
	}
	return msg
}

func validationErrorField(code string) string {
	switch code {
	case billingcycledomain.ErrEmptyWeekdays.Error(), calendar.ErrInvalidCalendarInput.Error():
		return "weekdays"
	case billingcycledomain.ErrInvalidRate.Error():
		return "daily_rate_minor"
	case billingcycledomain.ErrInvalidMode.Error():
		return "subscription_mode"
	case billingcycledomain.ErrMissingStartDate.Error():
		return "start_date"
	case customerdomain.ErrInvalidEmail.Error():
		return "customer_email"
	case customerdomain.ErrPaymentMethodMissing.Error():
		return "payment_method_id"
	case bookingdomain.ErrInvalidID.Error(), bookingdomain.ErrSubscriptionIDRequired.Error():
		return "id"
	case subscriptiondomain.ErrBookingRefRequired.Error():
		return "Idempotency-Key"
	default:
		return "request"
	}
}
