package service

import (
	"context"
	"errors"
	"strings"

	"github.com/railzwaylabs/deskbill/internal/customer/domain"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Processor paymentdomain.Processor
}

type Service struct {
	log       *zap.Logger
	processor paymentdomain.Processor
}

func New(p Params) domain.Binder {
	return &Service{
		log:       p.Log.Named("customer.service"),
		processor: p.Processor,
	}
}

// ResolveCustomer returns the processor customer for email, creating it when
// none exists. The processor matches emails case-sensitively, so the address
// is looked up as given and then in lower case; the first match wins.
func (s *Service) ResolveCustomer(ctx context.Context, email, name string) (domain.Handle, error) {
	candidates, err := emailCandidates(email)
	if err != nil {
		return domain.Handle{}, err
	}
	canonical := candidates[len(candidates)-1]

	existing, err := s.findByEmail(ctx, candidates)
	if err == nil {
		return domain.Handle{ID: existing.ID, Email: canonical}, nil
	}
	if !errors.Is(err, paymentdomain.ErrResourceNotFound) {
		return domain.Handle{}, err
	}

	created, err := s.processor.CreateCustomer(ctx, paymentdomain.CustomerInput{
		Email:          canonical,
		Name:           strings.TrimSpace(name),
		Metadata:       map[string]string{"source": "deskbill"},
		IdempotencyKey: "customer:" + canonical,
	})
	if err == nil {
		s.log.Info("created processor customer", zap.String("customer_id", created.ID))
		return domain.Handle{ID: created.ID, Email: canonical}, nil
	}
	if !errors.Is(err, paymentdomain.ErrProcessorConflict) {
		return domain.Handle{}, err
	}

	// A concurrent request created the customer first.
	existing, lookupErr := s.findByEmail(ctx, candidates)
	if lookupErr != nil {
		s.log.Warn("customer create conflicted but lookup failed", zap.Error(lookupErr))
		return domain.Handle{}, err
	}
	return domain.Handle{ID: existing.ID, Email: canonical}, nil
}

func (s *Service) findByEmail(ctx context.Context, candidates []string) (*paymentdomain.Customer, error) {
	for _, email := range candidates {
		existing, err := s.processor.FindCustomerByEmail(ctx, email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, paymentdomain.ErrResourceNotFound) {
			return nil, err
		}
	}
	return nil, paymentdomain.ErrResourceNotFound
}

// AttachAndDefault attaches the payment method and makes it the customer's
// invoice default. Re-attaching to the same customer is not an error.
func (s *Service) AttachAndDefault(ctx context.Context, customer domain.Handle, paymentMethodID string) error {
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return domain.ErrPaymentMethodMissing
	}
	if _, err := s.processor.AttachPaymentMethod(ctx, customer.ID, paymentMethodID); err != nil {
		return err
	}
	return s.processor.SetDefaultPaymentMethod(ctx, customer.ID, paymentMethodID)
}

// emailCandidates returns the trimmed address followed by its lower-case form
// when the two differ. The last entry is the canonical address.
func emailCandidates(raw string) ([]string, error) {
	email := strings.TrimSpace(raw)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		return nil, domain.ErrInvalidEmail
	}
	lower := strings.ToLower(email)
	if lower == email {
		return []string{email}, nil
	}
	return []string{email, lower}, nil
}
