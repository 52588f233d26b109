package eventstore

import (
	"context"
	"time"

	"example.com/backstage/services/webhooks/internal/models"

	"github.com/google/uuid"
)

// Filter narrows event log queries. Zero values are ignored.
type Filter struct {
	AggregateID   string
	AggregateType string
	EventTypes    []string
	CorrelationID string
	ScopeID       *uuid.UUID
	FromSequence  uint64
	ToSequence    uint64
	From          *time.Time
	To            *time.Time
	Descending    bool
	Skip          int
	Limit         int
}

// ReplayOptions controls a catch-up read of the event log
type ReplayOptions struct {
	FromSequence uint64
	// ToSequence bounds the replay; 0 means up to the sequence current
	// at the time the first batch is fetched.
	ToSequence  uint64
	BatchSize   int
	EventTypes  []string
	AggregateID string
}

// EventStore is the append-only sequenced domain event log.
// Stored events are immutable; Sequence is assigned exactly once at
// append time and is strictly increasing across concurrent appenders.
type EventStore interface {
	// Append assigns the next global sequence and persists the event.
	// EventID and Timestamp are filled in when empty.
	Append(ctx context.Context, event *models.StoredEvent) (*models.StoredEvent, error)

	// Query returns events matching the filter ordered by sequence
	Query(ctx context.Context, filter Filter) ([]models.StoredEvent, error)

	// GetByEventID returns the event with the given id, or nil
	GetByEventID(ctx context.Context, eventID string) (*models.StoredEvent, error)

	// GetByAggregateID returns the aggregate's events ordered by
	// aggregate version ascending, bounded by the version range when
	// either bound is non-zero
	GetByAggregateID(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]models.StoredEvent, error)

	// GetByCorrelationID returns events sharing a correlation id,
	// ordered by sequence ascending
	GetByCorrelationID(ctx context.Context, correlationID string) ([]models.StoredEvent, error)

	// CurrentSequence returns the last assigned sequence, 0 if none
	CurrentSequence(ctx context.Context) (uint64, error)

	// Count returns the number of events matching the filter
	Count(ctx context.Context, filter Filter) (int64, error)

	// Replay returns a batched catch-up iterator over the log
	Replay(opts ReplayOptions) *Replayer
}
