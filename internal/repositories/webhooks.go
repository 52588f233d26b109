package repositories

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/webhooks/internal/models"
)

// Cursor is the keyset position encoded into a page token. Pages are
// ordered by (created_at DESC, id DESC), so pages remain stable while
// new rows are inserted ahead of the cursor.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

// EncodeCursor serializes a cursor into an opaque page token
func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal cursor")
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses an opaque page token back into a cursor
func DecodeCursor(token string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errors.Wrap(err, "invalid page token")
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, errors.Wrap(err, "invalid page token")
	}
	return c, nil
}

// ListQuery narrows a webhook event listing
type ListQuery struct {
	ScopeID   *uuid.UUID
	Direction models.WebhookDirection
	Status    models.WebhookStatus
	Cursor    string
	Limit     int
}

// Page is one page of webhook events with the token for the next one
type Page struct {
	Items      []models.WebhookEvent
	NextCursor string
	HasMore    bool
}

const defaultPageSize = 50

// WebhookEventRepository provides access to stored webhook events
type WebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// RecordInbound persists an inbound webhook event. A unique-constraint
// conflict on (provider, natural_event_id) means another delivery of
// the same provider event already landed; it is reported as deduped,
// never as an error.
func (r *WebhookEventRepository) RecordInbound(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Direction = models.DirectionIn

	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return true, nil
		}
		return false, errors.Wrap(err, "failed to record inbound webhook event")
	}
	return false, nil
}

// RecordOutbound appends an outbound delivery attempt record
func (r *WebhookEventRepository) RecordOutbound(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Direction = models.DirectionOut

	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return errors.Wrap(err, "failed to record outbound webhook event")
	}
	return nil
}

// GetByID returns a webhook event by id, or nil if absent
func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get webhook event by id")
	}
	return &event, nil
}

// ListPage returns one page of webhook events ordered by
// (created_at DESC, id DESC) using keyset pagination
func (r *WebhookEventRepository) ListPage(ctx context.Context, query ListQuery) (*Page, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}

	q := r.db.WithContext(ctx).Model(&models.WebhookEvent{})
	if query.ScopeID != nil {
		q = q.Where("scope_id = ?", *query.ScopeID)
	}
	if query.Direction != "" {
		q = q.Where("direction = ?", query.Direction)
	}
	if query.Status != "" {
		q = q.Where("status = ?", query.Status)
	}
	if query.Cursor != "" {
		cursor, err := DecodeCursor(query.Cursor)
		if err != nil {
			return nil, err
		}
		q = q.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var items []models.WebhookEvent
	// Fetch one extra row to decide whether another page exists
	err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list webhook events")
	}

	page := &Page{}
	if len(items) > limit {
		items = items[:limit]
		page.HasMore = true

		last := items[len(items)-1]
		token, err := EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return nil, err
		}
		page.NextCursor = token
	}
	page.Items = items

	return page, nil
}

// CountOutboundFailuresSince returns the number of failed outbound
// deliveries per scope since the given time, for dashboards/alerting
func (r *WebhookEventRepository) CountOutboundFailuresSince(ctx context.Context, scopeIDs []uuid.UUID, since time.Time) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(scopeIDs))
	if len(scopeIDs) == 0 {
		return counts, nil
	}

	type row struct {
		ScopeID uuid.UUID
		Total   int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Select("scope_id, COUNT(*) AS total").
		Where("scope_id IN ?", scopeIDs).
		Where("direction = ? AND status = ?", models.DirectionOut, models.StatusFailed).
		Where("created_at >= ?", since).
		Group("scope_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to count outbound failures")
	}

	for _, r := range rows {
		counts[r.ScopeID] = r.Total
	}
	return counts, nil
}

// DeleteExpired hard-deletes inbound events whose retention window has
// passed. Soft delete would keep the (provider, natural_event_id) key
// occupied and block future deliveries of recycled ids.
func (r *WebhookEventRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Where("direction = ? AND expires_at IS NOT NULL AND expires_at < ?", models.DirectionIn, now).
		Delete(&models.WebhookEvent{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "failed to delete expired webhook events")
	}
	return res.RowsAffected, nil
}
