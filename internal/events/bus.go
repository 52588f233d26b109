package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Domain event names published by this service. Each name has exactly
// one payload type, checked at the publish boundary.
const (
	PaymentCaptured        = "billing.payment_captured"
	SubscriptionChanged    = "billing.subscription_changed"
	CustomerMappingChanged = "billing.customer_mapping_changed"
	SuppressionRequested   = "notify.suppression_requested"
	WebhookReplayed        = "webhooks.replayed"
)

// PaymentCapturedPayload describes a captured payment
type PaymentCapturedPayload struct {
	Provider      string     `json:"provider"`
	PaymentID     string     `json:"payment_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	CustomerID    string     `json:"customer_id,omitempty"`
	ScopeID       *uuid.UUID `json:"scope_id,omitempty"`
	CapturedAt    time.Time  `json:"captured_at"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// SubscriptionChangedPayload describes a subscription state change
type SubscriptionChangedPayload struct {
	Provider       string     `json:"provider"`
	SubscriptionID string     `json:"subscription_id"`
	Status         string     `json:"status"`
	PlanID         string     `json:"plan_id,omitempty"`
	ScopeID        *uuid.UUID `json:"scope_id,omitempty"`
	ChangedAt      time.Time  `json:"changed_at"`
}

// CustomerMappingChangedPayload links a provider customer to a scope
type CustomerMappingChangedPayload struct {
	Provider   string     `json:"provider"`
	CustomerID string     `json:"customer_id"`
	ScopeID    *uuid.UUID `json:"scope_id,omitempty"`
}

// SuppressionRequestedPayload asks downstream notifiers to stop
// contacting an address
type SuppressionRequestedPayload struct {
	Provider string `json:"provider"`
	Address  string `json:"address"`
	Reason   string `json:"reason,omitempty"`
}

// WebhookReplayedPayload records that an outbound delivery was
// re-enqueued
type WebhookReplayedPayload struct {
	EventID uuid.UUID  `json:"event_id"`
	ScopeID *uuid.UUID `json:"scope_id,omitempty"`
	Target  string     `json:"target"`
}

// payloadSchemas fixes the payload type allowed for each event name
var payloadSchemas = map[string]func(payload interface{}) bool{
	PaymentCaptured:        func(p interface{}) bool { _, ok := p.(PaymentCapturedPayload); return ok },
	SubscriptionChanged:    func(p interface{}) bool { _, ok := p.(SubscriptionChangedPayload); return ok },
	CustomerMappingChanged: func(p interface{}) bool { _, ok := p.(CustomerMappingChangedPayload); return ok },
	SuppressionRequested:   func(p interface{}) bool { _, ok := p.(SuppressionRequestedPayload); return ok },
	WebhookReplayed:        func(p interface{}) bool { _, ok := p.(WebhookReplayedPayload); return ok },
}

// ValidatePayload checks that payload matches the schema fixed for the
// event name
func ValidatePayload(name string, payload interface{}) error {
	check, ok := payloadSchemas[name]
	if !ok {
		return errors.Errorf("unknown event name: %s", name)
	}
	if !check(payload) {
		return errors.Errorf("payload type does not match schema for event %s", name)
	}
	return nil
}

// Envelope is the published form of a domain event
type Envelope struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload"`
	Source  string      `json:"source"`
	Time    time.Time   `json:"time"`
}

// Bus publishes typed domain events to downstream modules. Delivery is
// at-least-once and ordering across subscribers is not guaranteed, so
// subscribers must be idempotent.
type Bus interface {
	EmitTyped(ctx context.Context, name string, payload interface{}, source string) error
}

// MemoryBus is an in-process Bus that records emitted events. Used in
// tests and as a fallback when no transport is configured.
type MemoryBus struct {
	mu     sync.Mutex
	events []Envelope
}

// NewMemoryBus creates an empty in-memory bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// EmitTyped validates the payload against the event's schema and
// records the envelope
func (b *MemoryBus) EmitTyped(ctx context.Context, name string, payload interface{}, source string) error {
	if err := ValidatePayload(name, payload); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, Envelope{
		Name:    name,
		Payload: payload,
		Source:  source,
		Time:    time.Now().UTC(),
	})
	return nil
}

// Emitted returns a copy of the envelopes emitted so far
func (b *MemoryBus) Emitted() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Envelope, len(b.events))
	copy(out, b.events)
	return out
}
