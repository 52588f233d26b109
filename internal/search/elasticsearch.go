package search

import (
	"bytes"
	"context"
	"encoding/json"

	"example.com/backstage/services/webhooks/config"
	"example.com/backstage/services/webhooks/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexWebhookEvent indexes a webhook event for dashboard search.
// The raw payload is indexed as a nested object when it parses, and
// dropped otherwise; indexing failures never affect the pipeline.
func (c *ElasticClient) IndexWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	doc := map[string]interface{}{
		"id":         event.ID.String(),
		"direction":  event.Direction,
		"status":     event.Status,
		"created_at": event.CreatedAt,
	}
	if event.ScopeID != nil {
		doc["scope_id"] = event.ScopeID.String()
	}
	if event.Provider != nil {
		doc["provider"] = *event.Provider
	}
	if event.NaturalEventID != nil {
		doc["natural_event_id"] = *event.NaturalEventID
	}
	if event.Target != nil {
		doc["target"] = *event.Target
	}
	if len(event.Payload) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			doc["payload"] = payload
		}
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal webhook event document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: event.ID.String(),
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("event_id", event.ID.String()).Msg("webhook event indexed")
	return nil
}
