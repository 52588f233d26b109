package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookDirection indicates whether an event was received or sent
type WebhookDirection string

const (
	DirectionIn  WebhookDirection = "in"
	DirectionOut WebhookDirection = "out"
)

// WebhookStatus is the lifecycle status of a webhook event
type WebhookStatus string

const (
	StatusReceived  WebhookStatus = "received"
	StatusVerified  WebhookStatus = "verified"
	StatusDelivered WebhookStatus = "delivered"
	StatusFailed    WebhookStatus = "failed"
)

// Provider identifies an external payment provider
type Provider string

const (
	ProviderStripe   Provider = "stripe"
	ProviderRazorpay Provider = "razorpay"
	ProviderPaystack Provider = "paystack"
)

// StoredEvent is a domain event persisted in the append-only event log.
// Sequence is globally unique and strictly increasing; it is the sole
// ordering key. Rows are never updated after insert.
type StoredEvent struct {
	ID               uint       `gorm:"primaryKey" json:"-"`
	Sequence         uint64     `gorm:"uniqueIndex;not null" json:"sequence"`
	EventID          string     `gorm:"uniqueIndex;not null" json:"event_id"`
	EventType        string     `gorm:"index;not null" json:"event_type"`
	Payload          []byte     `gorm:"type:jsonb" json:"payload"`
	Version          int        `json:"version"`
	Source           string     `json:"source"`
	CorrelationID    *string    `gorm:"index" json:"correlation_id,omitempty"`
	ScopeID          *uuid.UUID `gorm:"type:uuid;index" json:"scope_id,omitempty"`
	AggregateID      *string    `gorm:"index" json:"aggregate_id,omitempty"`
	AggregateType    *string    `json:"aggregate_type,omitempty"`
	AggregateVersion *int       `json:"aggregate_version,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	StoredAt         time.Time  `gorm:"autoCreateTime" json:"stored_at"`
}

// SequenceCounter backs the global event sequence. A single row per
// counter name, incremented transactionally at append time.
type SequenceCounter struct {
	Name      string    `gorm:"primaryKey" json:"name"`
	Value     uint64    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GlobalSequence is the counter name used by the event store.
const GlobalSequence = "event_log"

// WebhookEvent is a stored inbound or outbound webhook delivery.
// Inbound rows are immutable after insert; outbound rows only ever
// change status/http_status/error as delivery attempts are recorded.
type WebhookEvent struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	ScopeID        *uuid.UUID       `gorm:"type:uuid;index:idx_webhook_events_scope_created,priority:1;index:idx_webhook_events_failures,priority:1" json:"scope_id"`
	Direction      WebhookDirection `gorm:"not null;index:idx_webhook_events_failures,priority:2" json:"direction"`
	Provider       *Provider        `gorm:"uniqueIndex:idx_webhook_events_provider_natural,priority:1" json:"provider"`
	NaturalEventID *string          `gorm:"uniqueIndex:idx_webhook_events_provider_natural,priority:2" json:"natural_event_id"`
	Payload        []byte           `gorm:"type:jsonb" json:"payload"`
	Headers        []byte           `gorm:"type:jsonb" json:"headers"`
	Target         *string          `json:"target"`
	Status         WebhookStatus    `gorm:"not null;index:idx_webhook_events_failures,priority:3" json:"status"`
	HTTPStatus     *int             `json:"http_status"`
	Error          *string          `json:"error"`
	ExpiresAt      *time.Time       `gorm:"index" json:"expires_at"`
	CreatedAt      time.Time        `gorm:"autoCreateTime;index:idx_webhook_events_scope_created,priority:2;index:idx_webhook_events_failures,priority:4" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"-"`
	DeletedAt      gorm.DeletedAt   `gorm:"index" json:"-"`
}
