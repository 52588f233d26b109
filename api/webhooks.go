package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/webhooks/internal/models"
	"example.com/backstage/services/webhooks/internal/repositories"
	"example.com/backstage/services/webhooks/internal/services"
)

// receiveWebhook accepts a raw provider callback. Shape problems never
// produce an error response; only storage being unreachable does, so
// the sender retries exactly when retrying can help.
func (s *Server) receiveWebhook(c *gin.Context) {
	provider := models.Provider(c.Param("provider"))

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "failed to read request body"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for name, values := range c.Request.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}

	verified := false
	if s.verifier != nil {
		verified = s.verifier.Verify(provider, payload, headers)
	}

	result, err := s.webhookService.HandleInbound(c.Request.Context(), provider, payload, headers, verified)
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to handle inbound webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	resp := gin.H{"ok": true}
	if result.Deduped {
		resp["deduped"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// listWebhookEvents returns one cursor page of webhook events
func (s *Server) listWebhookEvents(c *gin.Context) {
	query := repositories.ListQuery{
		Direction: models.WebhookDirection(c.Query("direction")),
		Status:    models.WebhookStatus(c.Query("status")),
		Cursor:    c.Query("cursor"),
	}

	if scope := c.Query("scope_id"); scope != "" {
		scopeID, err := uuid.Parse(scope)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope_id"})
			return
		}
		query.ScopeID = &scopeID
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		query.Limit = n
	}

	page, err := s.webhookService.ListPage(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list webhook events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":       page.Items,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// getWebhookEvent returns one webhook event by id
func (s *Server) getWebhookEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := s.webhookService.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get webhook event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook event not found"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// replayWebhookEvent re-enqueues a recorded outbound delivery
func (s *Server) replayWebhookEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var scopeID *uuid.UUID
	if scope := c.Query("scope_id"); scope != "" {
		parsed, err := uuid.Parse(scope)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope_id"})
			return
		}
		scopeID = &parsed
	}

	if err := s.webhookService.ReplayOutbound(c.Request.Context(), scopeID, id); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "webhook event not found"})
			return
		}
		log.Error().Err(err).Str("event_id", id.String()).Msg("Failed to replay webhook event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay webhook event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// countWebhookFailures returns per-scope outbound failure counts
func (s *Server) countWebhookFailures(c *gin.Context) {
	raw := c.Query("scope_ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_ids is required"})
		return
	}

	var scopeIDs []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope id: " + part})
			return
		}
		scopeIDs = append(scopeIDs, id)
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		since = parsed
	}

	counts, err := s.webhookService.CountFailuresSince(c.Request.Context(), scopeIDs, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count failures"})
		return
	}

	out := make(map[string]int64, len(counts))
	for scopeID, count := range counts {
		out[scopeID.String()] = count
	}
	c.JSON(http.StatusOK, gin.H{"failures": out, "since": since})
}
