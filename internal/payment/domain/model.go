package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WebhookOutcome string

const (
	WebhookOutcomeHandled   WebhookOutcome = "handled"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

// EventRecord is the delivery log of verified webhook events.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;index"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	SubscriptionID  string         `json:"subscription_id" gorm:"type:text"`
	Outcome         WebhookOutcome `json:"outcome" gorm:"type:text;not null"`
	Detail          string         `json:"detail" gorm:"type:text"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null;index"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// WebhookResult is what the webhook endpoint reports back to the processor.
type WebhookResult struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	Outcome        WebhookOutcome `json:"outcome"`
	SubscriptionID string         `json:"subscription_id,omitempty"`
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookResult, error)
}

type EventRecordRepository interface {
	Insert(ctx context.Context, db *gorm.DB, record *EventRecord) error
	FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, providerEventID string) ([]EventRecord, error)
	DeleteReceivedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}
