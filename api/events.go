package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/backstage/services/webhooks/internal/eventstore"
)

// queryEvents returns events from the sequenced log matching the
// request filters, ordered by sequence
func (s *Server) queryEvents(c *gin.Context) {
	filter := eventstore.Filter{
		AggregateID:   c.Query("aggregate_id"),
		AggregateType: c.Query("aggregate_type"),
		CorrelationID: c.Query("correlation_id"),
		Descending:    c.Query("order") == "desc",
	}

	if types := c.Query("types"); types != "" {
		filter.EventTypes = strings.Split(types, ",")
	}
	if scope := c.Query("scope_id"); scope != "" {
		scopeID, err := uuid.Parse(scope)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scope_id"})
			return
		}
		filter.ScopeID = &scopeID
	}

	var err error
	if filter.FromSequence, err = parseUint(c.Query("from_sequence")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from_sequence"})
		return
	}
	if filter.ToSequence, err = parseUint(c.Query("to_sequence")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to_sequence"})
		return
	}

	if skip := c.Query("skip"); skip != "" {
		if filter.Skip, err = strconv.Atoi(skip); err != nil || filter.Skip < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip"})
			return
		}
	}
	filter.Limit = 100
	if limit := c.Query("limit"); limit != "" {
		if filter.Limit, err = strconv.Atoi(limit); err != nil || filter.Limit < 1 || filter.Limit > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	events, err := s.eventStore.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query events"})
		return
	}

	count, err := s.eventStore.Count(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": events, "total": count})
}

// getEventByID returns one stored event by its event id
func (s *Server) getEventByID(c *gin.Context) {
	event, err := s.eventStore.GetByEventID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	c.JSON(http.StatusOK, event)
}

// getCurrentSequence returns the last assigned global sequence
func (s *Server) getCurrentSequence(c *gin.Context) {
	seq, err := s.eventStore.CurrentSequence(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sequence"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"current_sequence": seq})
}

func parseUint(raw string) (uint64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
