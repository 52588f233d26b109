package eventstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/webhooks/internal/models"
)

// GormEventStore implements EventStore using GORM
type GormEventStore struct {
	db *gorm.DB
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

// Append assigns the next global sequence and persists the event.
// The sequence comes from a single counter row incremented inside the
// insert transaction, so concurrent appenders never observe the same
// value and a rolled-back append never reuses one.
func (s *GormEventStore) Append(ctx context.Context, event *models.StoredEvent) (*models.StoredEvent, error) {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq uint64
		row := tx.Raw(
			"UPDATE sequence_counters SET value = value + 1, updated_at = NOW() WHERE name = ? RETURNING value",
			models.GlobalSequence,
		).Row()
		if err := row.Scan(&seq); err != nil {
			return errors.Wrap(err, "failed to advance sequence counter")
		}

		event.Sequence = seq
		if err := tx.Create(event).Error; err != nil {
			return errors.Wrap(err, "failed to save event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint64("sequence", event.Sequence).
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Msg("Event appended")

	return event, nil
}

// Query returns events matching the filter ordered by sequence
func (s *GormEventStore) Query(ctx context.Context, filter Filter) ([]models.StoredEvent, error) {
	q := s.applyFilter(s.db.WithContext(ctx).Model(&models.StoredEvent{}), filter)

	if filter.Descending {
		q = q.Order("sequence DESC")
	} else {
		q = q.Order("sequence ASC")
	}
	if filter.Skip > 0 {
		q = q.Offset(filter.Skip)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var events []models.StoredEvent
	if err := q.Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	return events, nil
}

// GetByEventID returns the event with the given id, or nil if absent
func (s *GormEventStore) GetByEventID(ctx context.Context, eventID string) (*models.StoredEvent, error) {
	var event models.StoredEvent
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get event by id")
	}
	return &event, nil
}

// GetByAggregateID returns an aggregate's events ordered by aggregate
// version ascending
func (s *GormEventStore) GetByAggregateID(ctx context.Context, aggregateID string, fromVersion, toVersion int) ([]models.StoredEvent, error) {
	q := s.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID)
	if fromVersion > 0 {
		q = q.Where("aggregate_version >= ?", fromVersion)
	}
	if toVersion > 0 {
		q = q.Where("aggregate_version <= ?", toVersion)
	}

	var events []models.StoredEvent
	if err := q.Order("aggregate_version ASC").Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to get events by aggregate id")
	}
	return events, nil
}

// GetByCorrelationID returns events sharing a correlation id, ordered
// by sequence ascending
func (s *GormEventStore) GetByCorrelationID(ctx context.Context, correlationID string) ([]models.StoredEvent, error) {
	var events []models.StoredEvent
	err := s.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("sequence ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get events by correlation id")
	}
	return events, nil
}

// CurrentSequence returns the last assigned sequence, 0 if none
func (s *GormEventStore) CurrentSequence(ctx context.Context) (uint64, error) {
	var counter models.SequenceCounter
	err := s.db.WithContext(ctx).
		Where("name = ?", models.GlobalSequence).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read sequence counter")
	}
	return counter.Value, nil
}

// Count returns the number of events matching the filter
func (s *GormEventStore) Count(ctx context.Context, filter Filter) (int64, error) {
	var count int64
	q := s.applyFilter(s.db.WithContext(ctx).Model(&models.StoredEvent{}), filter)
	if err := q.Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count events")
	}
	return count, nil
}

// Replay returns a batched catch-up iterator over the log
func (s *GormEventStore) Replay(opts ReplayOptions) *Replayer {
	return NewReplayer(s, opts)
}

func (s *GormEventStore) applyFilter(q *gorm.DB, filter Filter) *gorm.DB {
	if filter.AggregateID != "" {
		q = q.Where("aggregate_id = ?", filter.AggregateID)
	}
	if filter.AggregateType != "" {
		q = q.Where("aggregate_type = ?", filter.AggregateType)
	}
	if len(filter.EventTypes) > 0 {
		q = q.Where("event_type IN ?", filter.EventTypes)
	}
	if filter.CorrelationID != "" {
		q = q.Where("correlation_id = ?", filter.CorrelationID)
	}
	if filter.ScopeID != nil {
		q = q.Where("scope_id = ?", *filter.ScopeID)
	}
	if filter.FromSequence > 0 {
		q = q.Where("sequence >= ?", filter.FromSequence)
	}
	if filter.ToSequence > 0 {
		q = q.Where("sequence <= ?", filter.ToSequence)
	}
	if filter.From != nil {
		q = q.Where("timestamp >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("timestamp <= ?", *filter.To)
	}
	return q
}
