package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/webhooks/internal/cache"
	"example.com/backstage/services/webhooks/internal/events"
	"example.com/backstage/services/webhooks/internal/metrics"
	"example.com/backstage/services/webhooks/internal/models"
	"example.com/backstage/services/webhooks/internal/repositories"
	"example.com/backstage/services/webhooks/internal/tracing"
)

// ErrNotFound is returned when a replay target does not exist or is
// not replayable
var ErrNotFound = errors.New("webhook event not found")

const sourceModule = "webhooks"

// webhookRepository is the persistence surface the service needs
type webhookRepository interface {
	RecordInbound(ctx context.Context, event *models.WebhookEvent) (bool, error)
	RecordOutbound(ctx context.Context, event *models.WebhookEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	ListPage(ctx context.Context, query repositories.ListQuery) (*repositories.Page, error)
	CountOutboundFailuresSince(ctx context.Context, scopeIDs []uuid.UUID, since time.Time) (map[uuid.UUID]int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// auditLog is the slice of the event store the service appends to
type auditLog interface {
	Append(ctx context.Context, event *models.StoredEvent) (*models.StoredEvent, error)
}

// deliveryQueue re-enqueues outbound payloads for another delivery
// attempt; the actual transmission happens outside this service
type deliveryQueue interface {
	SendMessage(ctx context.Context, body interface{}) error
}

// searchIndexer indexes webhook events for dashboards, best effort
type searchIndexer interface {
	IndexWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}

// InboundResult reports the outcome of handling an inbound delivery
type InboundResult struct {
	Deduped bool
	Event   *models.WebhookEvent
}

// DeliveryRequest is the message placed on the delivery queue when an
// outbound event is replayed
type DeliveryRequest struct {
	EventID uuid.UUID       `json:"event_id"`
	ScopeID *uuid.UUID      `json:"scope_id,omitempty"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
	Headers json.RawMessage `json:"headers,omitempty"`
	Replay  bool            `json:"replay"`
}

// WebhookService routes inbound provider callbacks and tracks
// outbound deliveries
type WebhookService struct {
	repo    webhookRepository
	guard   cache.IdempotencyGuard
	bus     events.Bus
	store   auditLog
	queue   deliveryQueue
	search  searchIndexer
	tracer  tracing.Tracer
	metrics *metrics.Metrics

	idempotencyTTL time.Duration
	retention      time.Duration
}

// NewWebhookService creates a new webhook service. queue and search
// may be nil; replay then fails with an explicit error and indexing is
// skipped.
func NewWebhookService(
	repo webhookRepository,
	guard cache.IdempotencyGuard,
	bus events.Bus,
	store auditLog,
	queue deliveryQueue,
	search searchIndexer,
	tracer tracing.Tracer,
	m *metrics.Metrics,
	idempotencyTTL time.Duration,
	retentionDays int,
) *WebhookService {
	if idempotencyTTL <= 0 {
		idempotencyTTL = 72 * time.Hour
	}
	var retention time.Duration
	if retentionDays > 0 {
		retention = time.Duration(retentionDays) * 24 * time.Hour
	}
	if tracer == nil {
		tracer = &tracing.NewRelicTracer{}
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &WebhookService{
		repo:           repo,
		guard:          guard,
		bus:            bus,
		store:          store,
		queue:          queue,
		search:         search,
		tracer:         tracer,
		metrics:        m,
		idempotencyTTL: idempotencyTTL,
		retention:      retention,
	}
}

// HandleInbound verifies, deduplicates, persists and dispatches one
// inbound provider callback. Handling the same delivery twice yields
// at most one set of emitted domain events; the second call reports
// Deduped. Malformed payloads are stored but emit nothing, and are
// never surfaced as errors — providers must not see failures for
// shape issues, only for storage being unreachable.
func (s *WebhookService) HandleInbound(ctx context.Context, provider models.Provider, payload []byte, headers map[string]string, signatureVerified bool) (*InboundResult, error) {
	txn := s.tracer.StartTransaction("webhook-inbound")
	defer s.tracer.EndTransaction(txn)

	s.metrics.Inc(metrics.InboundReceived)

	strategy, known := providerTable[provider]
	if !known {
		log.Warn().Str("provider", string(provider)).Msg("Inbound webhook for unknown provider")
	}

	var naturalID string
	if known {
		naturalID = strategy.extractNaturalID(payload, headers)
	}

	// Fast-path dedup before any work. Guard unavailability is logged
	// and ignored; the storage unique constraint is authoritative.
	if naturalID != "" && s.guard != nil {
		claimed, err := s.guard.Claim(ctx, cache.InboundEventKey(provider, naturalID), s.idempotencyTTL)
		if err != nil {
			log.Warn().Err(err).Str("provider", string(provider)).Msg("Idempotency guard unavailable, relying on storage dedup")
		} else if !claimed {
			s.metrics.Inc(metrics.InboundDeduped)
			log.Info().Str("provider", string(provider)).Str("natural_event_id", naturalID).Msg("Duplicate webhook delivery short-circuited")
			return &InboundResult{Deduped: true}, nil
		}
	}

	event := &models.WebhookEvent{
		ID:       uuid.New(),
		Provider: &provider,
		Payload:  payload,
		Status:   models.StatusReceived,
	}
	if signatureVerified {
		event.Status = models.StatusVerified
	}
	if naturalID != "" {
		event.NaturalEventID = &naturalID
	}
	if len(headers) > 0 {
		if data, err := json.Marshal(headers); err == nil {
			event.Headers = data
		}
	}
	if s.retention > 0 {
		expires := time.Now().UTC().Add(s.retention)
		event.ExpiresAt = &expires
	}

	deduped, err := s.repo.RecordInbound(ctx, event)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to persist inbound webhook")
	}
	if deduped {
		// The guard raced: both deliveries claimed, storage broke the tie
		s.metrics.Inc(metrics.InboundDeduped)
		log.Info().Str("provider", string(provider)).Str("natural_event_id", naturalID).Msg("Duplicate webhook delivery caught by storage constraint")
		return &InboundResult{Deduped: true}, nil
	}

	var emitted int
	if known {
		for _, e := range strategy.translate(payload) {
			if err := s.bus.EmitTyped(ctx, e.name, e.payload, sourceModule); err != nil {
				// At-least-once bus: the delivery is already persisted,
				// downstream can catch up from the log
				log.Error().Err(err).Str("event", e.name).Msg("Failed to emit domain event")
				continue
			}
			emitted++
		}
	}
	if emitted > 0 {
		s.metrics.Add(metrics.EventsEmitted, int64(emitted))
	} else if known {
		s.metrics.Inc(metrics.InboundMalformed)
	}

	s.appendAudit(ctx, "webhooks.inbound_received", event, map[string]interface{}{
		"webhook_event_id": event.ID.String(),
		"provider":         string(provider),
		"natural_event_id": naturalID,
		"emitted":          emitted,
	})
	s.indexEvent(ctx, event)

	return &InboundResult{Event: event}, nil
}

// RecordOutbound appends an audit record of one outbound delivery
// attempt
func (s *WebhookService) RecordOutbound(ctx context.Context, scopeID *uuid.UUID, target string, status models.WebhookStatus, httpStatus int, headers map[string]string, payload []byte, errMsg string) (*models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		ID:      uuid.New(),
		ScopeID: scopeID,
		Payload: payload,
		Status:  status,
	}
	if target != "" {
		event.Target = &target
	}
	if httpStatus != 0 {
		event.HTTPStatus = &httpStatus
	}
	if errMsg != "" {
		event.Error = &errMsg
	}
	if len(headers) > 0 {
		if data, err := json.Marshal(headers); err == nil {
			event.Headers = data
		}
	}

	if err := s.repo.RecordOutbound(ctx, event); err != nil {
		return nil, err
	}

	s.metrics.Inc(metrics.OutboundRecorded)
	s.appendAudit(ctx, "webhooks.outbound_recorded", event, map[string]interface{}{
		"webhook_event_id": event.ID.String(),
		"target":           target,
		"status":           string(status),
	})
	s.indexEvent(ctx, event)

	return event, nil
}

// ReplayOutbound re-enqueues a previously recorded outbound event for
// another delivery attempt. It fails with ErrNotFound when the event
// does not exist, belongs to a different scope, or has no target.
func (s *WebhookService) ReplayOutbound(ctx context.Context, scopeID *uuid.UUID, eventID uuid.UUID) error {
	txn := s.tracer.StartTransaction("webhook-replay")
	defer s.tracer.EndTransaction(txn)

	event, err := s.repo.GetByID(ctx, eventID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return err
	}
	if event == nil || event.Direction != models.DirectionOut {
		return ErrNotFound
	}
	if scopeID != nil && (event.ScopeID == nil || *event.ScopeID != *scopeID) {
		return ErrNotFound
	}
	if event.Target == nil || *event.Target == "" {
		return errors.Wrap(ErrNotFound, "event has no delivery target")
	}
	if s.queue == nil {
		return errors.New("no delivery queue configured")
	}

	req := DeliveryRequest{
		EventID: event.ID,
		ScopeID: event.ScopeID,
		Target:  *event.Target,
		Payload: event.Payload,
		Headers: event.Headers,
		Replay:  true,
	}
	if err := s.queue.SendMessage(ctx, req); err != nil {
		s.tracer.RecordError(txn, err)
		return errors.Wrap(err, "failed to enqueue replay delivery")
	}

	if err := s.bus.EmitTyped(ctx, events.WebhookReplayed, events.WebhookReplayedPayload{
		EventID: event.ID,
		ScopeID: event.ScopeID,
		Target:  *event.Target,
	}, sourceModule); err != nil {
		log.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to emit replay event")
	}

	s.metrics.Inc(metrics.OutboundReplayed)
	log.Info().Str("event_id", event.ID.String()).Str("target", *event.Target).Msg("Outbound webhook replayed")
	return nil
}

// ListPage returns one cursor page of webhook events
func (s *WebhookService) ListPage(ctx context.Context, query repositories.ListQuery) (*repositories.Page, error) {
	return s.repo.ListPage(ctx, query)
}

// GetByID returns a stored webhook event, or nil when absent
func (s *WebhookService) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	return s.repo.GetByID(ctx, id)
}

// CountFailuresSince returns per-scope outbound failure counts for
// dashboards and alerting
func (s *WebhookService) CountFailuresSince(ctx context.Context, scopeIDs []uuid.UUID, since time.Time) (map[uuid.UUID]int64, error) {
	return s.repo.CountOutboundFailuresSince(ctx, scopeIDs, since)
}

// PurgeExpired removes inbound events past their retention window
func (s *WebhookService) PurgeExpired(ctx context.Context) error {
	purged, err := s.repo.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if purged > 0 {
		s.metrics.Add(metrics.ExpiredPurged, purged)
		log.Info().Int64("purged", purged).Msg("Expired webhook events purged")
	}
	return nil
}

// appendAudit writes a record of pipeline activity to the event log,
// best effort
func (s *WebhookService) appendAudit(ctx context.Context, eventType string, event *models.WebhookEvent, data map[string]interface{}) {
	if s.store == nil {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	aggregateID := event.ID.String()
	aggregateType := "webhook_event"
	if _, err := s.store.Append(ctx, &models.StoredEvent{
		EventType:     eventType,
		Payload:       payload,
		Source:        sourceModule,
		ScopeID:       event.ScopeID,
		AggregateID:   &aggregateID,
		AggregateType: &aggregateType,
	}); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("Failed to append audit event")
	}
}

// indexEvent pushes the event into the search index, best effort
func (s *WebhookService) indexEvent(ctx context.Context, event *models.WebhookEvent) {
	if s.search == nil {
		return
	}
	if err := s.search.IndexWebhookEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID.String()).Msg("Failed to index webhook event")
	}
}
