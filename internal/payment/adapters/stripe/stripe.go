package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const Provider = "stripe"

// Config is the per-instance processor configuration. The package never
// touches stripe-go's global key.
type Config struct {
	SecretKey         string
	WebhookSecret     string
	APIURL            string
	MaxNetworkRetries int64
	RequestTimeout    time.Duration
	WebhookTolerance  time.Duration
}

type Adapter struct {
	api              *client.API
	webhookSecret    string
	webhookTolerance time.Duration
	log              *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Adapter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, paymentdomain.ErrProcessorNotEnabled
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(cfg.MaxNetworkRetries),
		LeveledLogger:     log.Named("stripe.client").Sugar(),
	}
	if url := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); url != "" {
		backendCfg.URL = stripego.String(url)
	}

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)
	api := client.New(key, &stripego.Backends{
		API:     backend,
		Connect: backend,
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, backendCfg),
	})

	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}

	return &Adapter{
		api:              api,
		webhookSecret:    strings.TrimSpace(cfg.WebhookSecret),
		webhookTolerance: tolerance,
		log:              log.Named("payment.stripe"),
	}, nil
}

var _ paymentdomain.Processor = (*Adapter)(nil)
var _ paymentdomain.WebhookVerifier = (*Adapter)(nil)

// classify maps stripe-go failures onto the payment domain errors so no
// stripe types leave this package.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stripe %s: %w: %w", op, paymentdomain.ErrProcessorTransient, err)
	}

	var serr *stripego.Error
	if !errors.As(err, &serr) {
		return fmt.Errorf("stripe %s: %w: %v", op, paymentdomain.ErrProcessorTransient, err)
	}

	switch {
	case serr.HTTPStatusCode == http.StatusTooManyRequests,
		serr.HTTPStatusCode >= http.StatusInternalServerError,
		serr.Type == stripego.ErrorTypeAPI:
		return fmt.Errorf("stripe %s: %w: %s", op, paymentdomain.ErrProcessorTransient, serr.Msg)
	// Stripe reports an unknown payment method as a 400 resource_missing;
	// that is a rejection the caller must see, not a lookup miss.
	case serr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("stripe %s: %w: %s", op, paymentdomain.ErrResourceNotFound, serr.Msg)
	case serr.HTTPStatusCode == http.StatusConflict,
		serr.Type == stripego.ErrorTypeIdempotency,
		serr.Code == stripego.ErrorCodeResourceAlreadyExists:
		return fmt.Errorf("stripe %s: %w: %s", op, paymentdomain.ErrProcessorConflict, serr.Msg)
	default:
		return fmt.Errorf("stripe %s: %w", op, &paymentdomain.RejectedError{
			Code:        string(serr.Code),
			DeclineCode: string(serr.DeclineCode),
			Param:       serr.Param,
			Message:     serr.Msg,
		})
	}
}

func isAlreadyAttached(err error) bool {
	var serr *stripego.Error
	if !errors.As(err, &serr) {
		return false
	}
	msg := strings.ToLower(serr.Msg)
	return strings.Contains(msg, "already attached") || strings.Contains(msg, "already been attached")
}

func withMetadata(params *stripego.Params, metadata map[string]string) {
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
}

func withIdempotency(params *stripego.Params, key string) {
	if key = strings.TrimSpace(key); key != "" {
		params.SetIdempotencyKey(key)
	}
}
