package cmd

import (
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/webhooks/config"
	"example.com/backstage/services/webhooks/internal/cache"
	"example.com/backstage/services/webhooks/internal/events"
	"example.com/backstage/services/webhooks/internal/eventstore"
	"example.com/backstage/services/webhooks/internal/messaging"
	"example.com/backstage/services/webhooks/internal/metrics"
	"example.com/backstage/services/webhooks/internal/repositories"
	"example.com/backstage/services/webhooks/internal/search"
	"example.com/backstage/services/webhooks/internal/services"
	"example.com/backstage/services/webhooks/internal/tracing"
)

// pipeline holds the wired webhook components shared by the server
// and worker commands
type pipeline struct {
	WebhookService *services.WebhookService
	EventStore     eventstore.EventStore
	Metrics        *metrics.Metrics

	deliveryQueue messaging.ServiceBusClient
	eventsQueue   messaging.ServiceBusClient
}

// buildPipeline wires the webhook pipeline from configuration.
// Service Bus and Elasticsearch are optional: without a Service Bus
// connection string the event bus stays in-process and replay is
// unavailable; without Elasticsearch indexing is skipped.
func buildPipeline(cfg config.Config, db *gorm.DB, redisCache *cache.RedisCache, tracer tracing.Tracer) *pipeline {
	store := eventstore.NewGormEventStore(db)
	repo := repositories.NewWebhookEventRepository(db)
	m := metrics.NewMetrics()

	var deliveryQueue, eventsQueue messaging.ServiceBusClient
	var bus events.Bus
	if cfg.Azure.ConnectionString != "" {
		var err error
		deliveryQueue, err = messaging.NewServiceBusClient(cfg.Azure.ConnectionString, cfg.Azure.DeliveryQueueName, "webhooks-delivery")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create delivery queue client")
		}
		eventsQueue, err = messaging.NewServiceBusClient(cfg.Azure.ConnectionString, cfg.Azure.EventsQueueName, "webhooks-events")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create events queue client")
		}
		bus = messaging.NewServiceBusEventBus(eventsQueue)
	} else {
		log.Warn().Msg("No Service Bus connection string, using in-process event bus")
		bus = events.NewMemoryBus()
	}

	var indexer *search.ElasticClient
	if cfg.Elastic.Enabled {
		var err error
		indexer, err = search.NewElasticClient(cfg.Elastic)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search indexing")
			indexer = nil
		}
	}

	var guard cache.IdempotencyGuard
	if redisCache != nil {
		guard = redisCache
	}

	// searchIndexer is an interface; pass nil explicitly when disabled
	var svc *services.WebhookService
	if indexer != nil {
		svc = services.NewWebhookService(repo, guard, bus, store, deliveryQueue, indexer, tracer, m, cfg.Webhooks.IdempotencyTTL, cfg.Webhooks.RetentionDays)
	} else {
		svc = services.NewWebhookService(repo, guard, bus, store, deliveryQueue, nil, tracer, m, cfg.Webhooks.IdempotencyTTL, cfg.Webhooks.RetentionDays)
	}

	return &pipeline{
		WebhookService: svc,
		EventStore:     store,
		Metrics:        m,
		deliveryQueue:  deliveryQueue,
		eventsQueue:    eventsQueue,
	}
}

// Close releases the messaging clients
func (p *pipeline) Close() {
	if p.deliveryQueue != nil {
		if err := p.deliveryQueue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close delivery queue client")
		}
	}
	if p.eventsQueue != nil {
		if err := p.eventsQueue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close events queue client")
		}
	}
}
