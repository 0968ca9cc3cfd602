package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/deskbill/internal/clock"
	"github.com/railzwaylabs/deskbill/internal/config"
	"github.com/railzwaylabs/deskbill/internal/observability/metrics"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	subscriptiondomain "github.com/railzwaylabs/deskbill/internal/subscription/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	providerStripe  = "stripe"
	dedupeKeyPrefix = "deskbill:webhook:"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Verifier   paymentdomain.WebhookVerifier
	Sync       subscriptiondomain.Synchronizer
	Records    paymentdomain.EventRecordRepository
	Node       *snowflake.Node
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
	Redis      *redis.Client    `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	verifier   paymentdomain.WebhookVerifier
	sync       subscriptiondomain.Synchronizer
	records    paymentdomain.EventRecordRepository
	node       *snowflake.Node
	clock      clock.Clock
	billingCfg *config.BillingConfigHolder
	redis      *redis.Client
	metrics    *metrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		verifier:   p.Verifier,
		sync:       p.Sync,
		records:    p.Records,
		node:       p.Node,
		clock:      p.Clock,
		billingCfg: p.BillingCfg,
		redis:      p.Redis,
		metrics:    p.Metrics,
	}
}

// IngestWebhook verifies and dispatches one processor notification. Only a
// signature or envelope failure is returned as an error; a verified event is
// always acknowledged, including when its resync failed, because the scheduled
// sweep picks those up.
func (s *Service) IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.WebhookResult, error) {
	if !json.Valid(payload) {
		return nil, paymentdomain.ErrInvalidPayload
	}

	event, err := s.verifier.VerifyWebhook(payload, headers)
	if err != nil {
		s.log.Warn("webhook rejected",
			zap.Int("payload_size", len(payload)),
			zap.Error(err))
		return nil, err
	}

	receivedAt := s.clock.Now(ctx)
	result := &paymentdomain.WebhookResult{
		EventID:        event.ID,
		EventType:      event.Type,
		SubscriptionID: event.SubscriptionID,
	}

	var detail string
	switch {
	case s.seen(ctx, event.ID):
		result.Outcome = paymentdomain.WebhookOutcomeDuplicate
	case event.Type != paymentdomain.EventTypeInvoiceUpcoming:
		result.Outcome = paymentdomain.WebhookOutcomeIgnored
	case strings.TrimSpace(event.SubscriptionID) == "":
		result.Outcome = paymentdomain.WebhookOutcomeIgnored
		detail = "invoice has no subscription"
	default:
		sync, err := s.sync.ResyncPriceBeforeCycle(ctx, event.SubscriptionID)
		if err != nil {
			result.Outcome = paymentdomain.WebhookOutcomeFailed
			detail = err.Error()
			s.log.Error("resync from webhook failed",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", event.SubscriptionID),
				zap.Error(err))
			break
		}
		result.Outcome = paymentdomain.WebhookOutcomeHandled
		detail = string(sync.Status)
		if sync.Reason != "" {
			detail += ": " + sync.Reason
		}
	}

	if result.Outcome == paymentdomain.WebhookOutcomeHandled || result.Outcome == paymentdomain.WebhookOutcomeIgnored {
		s.markSeen(ctx, event.ID)
	}
	s.record(ctx, event, result.Outcome, detail, receivedAt)
	s.metrics.ObserveWebhook(event.Type, string(result.Outcome))

	s.log.Info("webhook processed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("livemode", event.Livemode))
	return result, nil
}

func (s *Service) seen(ctx context.Context, eventID string) bool {
	if s.redis == nil {
		return false
	}
	n, err := s.redis.Exists(ctx, dedupeKeyPrefix+eventID).Result()
	if err != nil {
		s.log.Warn("webhook dedupe lookup failed", zap.String("event_id", eventID), zap.Error(err))
		return false
	}
	return n > 0
}

func (s *Service) markSeen(ctx context.Context, eventID string) {
	if s.redis == nil {
		return
	}
	ttl := s.billingCfg.Get().WebhookDedupeTTL
	if ttl <= 0 {
		return
	}
	if err := s.redis.SetNX(ctx, dedupeKeyPrefix+eventID, "1", ttl).Err(); err != nil {
		s.log.Warn("webhook dedupe marker not stored", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, event *paymentdomain.WebhookEvent, outcome paymentdomain.WebhookOutcome, detail string, receivedAt time.Time) {
	if s.records == nil {
		return
	}
	processedAt := s.clock.Now(ctx)
	rec := &paymentdomain.EventRecord{
		ID:              s.node.Generate(),
		Provider:        providerStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		SubscriptionID:  event.SubscriptionID,
		Outcome:         outcome,
		Detail:          detail,
		Payload:         datatypes.JSON(maskPayload(event.RawPayload)),
		ReceivedAt:      receivedAt,
		ProcessedAt:     &processedAt,
	}
	if err := s.records.Insert(ctx, nil, rec); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("failed to record webhook event",
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

func maskPayload(raw []byte) []byte {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}
	maskMap(obj)
	masked, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return masked
}

func maskMap(m map[string]any) {
	for k, v := range m {
		switch strings.ToLower(k) {
		case "card", "billing_details", "shipping_details", "payment_method_details", "customer_email", "customer_address", "customer_phone":
			m[k] = "***"
		default:
			if nested, ok := v.(map[string]any); ok {
				maskMap(nested)
			} else if arr, ok := v.([]any); ok {
				for _, item := range arr {
					if itemMap, ok := item.(map[string]any); ok {
						maskMap(itemMap)
					}
				}
			}
		}
	}
}
