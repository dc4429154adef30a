package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/seatledger/internal/billingerr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecord is one provider webhook delivery. ProcessedAt stays nil until
// every effect of the event is committed, so a redelivery after a failure is
// applied again.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:varchar(128);not null"`
	BusinessID      *snowflake.ID  `json:"business_id,omitempty" gorm:"index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "payment_intent.succeeded"
)

// Service ingests signed provider webhooks.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, signature string) error
}

type Repository interface {
	// Record stores the delivery unless it exists and returns the stored row.
	Record(ctx context.Context, db *gorm.DB, event *EventRecord) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, businessID *snowflake.ID, at time.Time) error
}

var (
	ErrProviderNotFound      = billingerr.NotFound("payment_provider_not_found", "No webhook is configured for this provider")
	ErrWebhookDisabled       = billingerr.NotFound("webhook_disabled", "Webhooks are not configured")
	ErrInvalidSignature      = billingerr.Validation("invalid_signature", "Stripe-Signature", "The webhook signature is invalid")
	ErrInvalidPayload        = billingerr.Validation("invalid_payload", "payload", "The webhook payload is invalid")
	ErrEventAlreadyProcessed = billingerr.Conflict("event_already_processed", "The event was already processed")
)
