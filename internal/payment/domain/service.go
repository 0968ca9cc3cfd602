package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")

	ErrProcessorTransient  = errors.New("processor_transient")
	ErrProcessorRejected   = errors.New("processor_rejected")
	ErrProcessorConflict   = errors.New("processor_conflict")
	ErrResourceNotFound    = errors.New("processor_resource_not_found")
	ErrProcessorNotEnabled = errors.New("processor_not_configured")
)

// RejectedError carries the processor's reason for refusing a request, such as
// a card decline. It matches ErrProcessorRejected with errors.Is.
type RejectedError struct {
	Code        string
	DeclineCode string
	Param       string
	Message     string
}

func (e *RejectedError) Error() string {
	switch {
	case e.DeclineCode != "":
		return fmt.Sprintf("processor rejected request: %s (%s): %s", e.Code, e.DeclineCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("processor rejected request: %s: %s", e.Code, e.Message)
	default:
		return "processor rejected request: " + e.Message
	}
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrProcessorRejected
}

// Reason is the message safe to show the paying customer.
func (e *RejectedError) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.DeclineCode != "" {
		return e.DeclineCode
	}
	return e.Code
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProcessorTransient)
}

// AsRejected extracts the processor rejection from err, if any.
func AsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
