package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/webhooks/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A pooled second connection would see a different in-memory DB
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.WebhookEvent{}))
	return db
}

func seedInbound(t *testing.T, repo *WebhookEventRepository, naturalID string, createdAt time.Time) uuid.UUID {
	t.Helper()

	p := models.ProviderStripe
	event := &models.WebhookEvent{
		ID:             uuid.New(),
		Provider:       &p,
		NaturalEventID: &naturalID,
		Payload:        []byte(`{}`),
		Status:         models.StatusReceived,
		CreatedAt:      createdAt,
	}
	deduped, err := repo.RecordInbound(context.Background(), event)
	require.NoError(t, err)
	require.False(t, deduped)
	return event.ID
}

func TestRecordInboundStorageDedup(t *testing.T) {
	repo := NewWebhookEventRepository(openTestDB(t))

	p := models.ProviderStripe
	naturalID := "evt_once"

	first := &models.WebhookEvent{Provider: &p, NaturalEventID: &naturalID, Status: models.StatusReceived}
	deduped, err := repo.RecordInbound(context.Background(), first)
	require.NoError(t, err)
	require.False(t, deduped)

	// The second delivery of the same provider event hits the unique
	// constraint and is reported as deduped, not as an error
	second := &models.WebhookEvent{Provider: &p, NaturalEventID: &naturalID, Status: models.StatusReceived}
	deduped, err = repo.RecordInbound(context.Background(), second)
	require.NoError(t, err)
	require.True(t, deduped)
}

func TestListPageStableUnderInserts(t *testing.T) {
	repo := NewWebhookEventRepository(openTestDB(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var seeded []uuid.UUID
	for i := 0; i < 6; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		if i == 3 {
			// Two rows share a timestamp so the id tiebreaker is exercised
			ts = base.Add(2 * time.Second)
		}
		seeded = append(seeded, seedInbound(t, repo, fmt.Sprintf("evt_%d", i), ts))
	}

	var late []uuid.UUID
	var collected []uuid.UUID
	var createds []time.Time
	cursor := ""
	pages := 0
	for {
		page, err := repo.ListPage(context.Background(), ListQuery{
			Direction: models.DirectionIn,
			Limit:     2,
			Cursor:    cursor,
		})
		require.NoError(t, err)

		for _, item := range page.Items {
			// Rows inserted after paging began must never surface
			require.NotContains(t, late, item.ID)
			collected = append(collected, item.ID)
			createds = append(createds, item.CreatedAt)
		}

		pages++
		if pages == 1 {
			// New deliveries land ahead of the cursor mid-pagination
			late = append(late, seedInbound(t, repo, "evt_late_a", base.Add(time.Minute)))
			late = append(late, seedInbound(t, repo, "evt_late_b", base.Add(2*time.Minute)))
		}

		if !page.HasMore {
			require.Empty(t, page.NextCursor)
			break
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
	}

	require.Equal(t, 3, pages)
	require.ElementsMatch(t, seeded, collected)
	for i := 1; i < len(createds); i++ {
		require.False(t, createds[i].After(createds[i-1]))
	}
}
