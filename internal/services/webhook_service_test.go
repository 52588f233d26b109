package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/webhooks/internal/events"
	"example.com/backstage/services/webhooks/internal/models"
	"example.com/backstage/services/webhooks/internal/repositories"
)

// Mock repository for testing
type MockWebhookRepository struct {
	mock.Mock
}

func (m *MockWebhookRepository) RecordInbound(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockWebhookRepository) RecordOutbound(ctx context.Context, event *models.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockWebhookRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WebhookEvent), args.Error(1)
}

func (m *MockWebhookRepository) ListPage(ctx context.Context, query repositories.ListQuery) (*repositories.Page, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(*repositories.Page), args.Error(1)
}

func (m *MockWebhookRepository) CountOutboundFailuresSince(ctx context.Context, scopeIDs []uuid.UUID, since time.Time) (map[uuid.UUID]int64, error) {
	args := m.Called(ctx, scopeIDs, since)
	return args.Get(0).(map[uuid.UUID]int64), args.Error(1)
}

func (m *MockWebhookRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// Mock idempotency guard
type MockGuard struct {
	mock.Mock
}

func (m *MockGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

// Mock audit log
type MockAuditLog struct {
	mock.Mock
}

func (m *MockAuditLog) Append(ctx context.Context, event *models.StoredEvent) (*models.StoredEvent, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredEvent), args.Error(1)
}

// Mock delivery queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) SendMessage(ctx context.Context, body interface{}) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

const stripePaymentPayload = `{
	"id": "evt_123",
	"type": "payment_intent.succeeded",
	"data": {"object": {"id": "pi_1", "amount_received": 4200, "currency": "usd", "customer": "cus_9"}}
}`

func newTestService(repo *MockWebhookRepository, guard *MockGuard, bus events.Bus, store *MockAuditLog, queue *MockQueue) *WebhookService {
	svc := NewWebhookService(repo, nil, bus, nil, nil, nil, nil, nil, time.Hour, 30)
	if guard != nil {
		svc.guard = guard
	}
	if store != nil {
		svc.store = store
	}
	if queue != nil {
		svc.queue = queue
	}
	return svc
}

func TestHandleInboundEmitsDomainEvents(t *testing.T) {
	repo := new(MockWebhookRepository)
	guard := new(MockGuard)
	store := new(MockAuditLog)
	bus := events.NewMemoryBus()

	guard.On("Claim", mock.Anything, "webhook:in:stripe:evt_123", time.Hour).Return(true, nil)
	repo.On("RecordInbound", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(false, nil)
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.StoredEvent")).Return(&models.StoredEvent{}, nil)

	svc := newTestService(repo, guard, bus, store, nil)

	result, err := svc.HandleInbound(context.Background(), models.ProviderStripe, []byte(stripePaymentPayload), nil, true)
	require.NoError(t, err)
	require.False(t, result.Deduped)
	require.Equal(t, models.StatusVerified, result.Event.Status)
	require.NotNil(t, result.Event.NaturalEventID)
	require.Equal(t, "evt_123", *result.Event.NaturalEventID)
	require.NotNil(t, result.Event.ExpiresAt)

	emitted := bus.Emitted()
	require.Len(t, emitted, 1)
	require.Equal(t, events.PaymentCaptured, emitted[0].Name)
	payload := emitted[0].Payload.(events.PaymentCapturedPayload)
	require.Equal(t, "pi_1", payload.PaymentID)
	require.Equal(t, int64(4200), payload.Amount)

	repo.AssertExpectations(t)
	guard.AssertExpectations(t)
}

func TestHandleInboundDuplicateShortCircuits(t *testing.T) {
	repo := new(MockWebhookRepository)
	guard := new(MockGuard)
	bus := events.NewMemoryBus()

	guard.On("Claim", mock.Anything, "webhook:in:stripe:evt_123", time.Hour).Return(false, nil)

	svc := newTestService(repo, guard, bus, nil, nil)

	result, err := svc.HandleInbound(context.Background(), models.ProviderStripe, []byte(stripePaymentPayload), nil, true)
	require.NoError(t, err)
	require.True(t, result.Deduped)

	// No persistence and no downstream events for the duplicate
	repo.AssertNotCalled(t, "RecordInbound", mock.Anything, mock.Anything)
	require.Empty(t, bus.Emitted())
}

func TestHandleInboundStorageConflictIsDeduped(t *testing.T) {
	// The guard raced: both deliveries claimed successfully, the
	// unique constraint broke the tie
	repo := new(MockWebhookRepository)
	guard := new(MockGuard)
	bus := events.NewMemoryBus()

	guard.On("Claim", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	repo.On("RecordInbound", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(true, nil)

	svc := newTestService(repo, guard, bus, nil, nil)

	result, err := svc.HandleInbound(context.Background(), models.ProviderStripe, []byte(stripePaymentPayload), nil, true)
	require.NoError(t, err)
	require.True(t, result.Deduped)
	require.Empty(t, bus.Emitted())
}

func TestHandleInboundMalformedPayloadIsStoredSilently(t *testing.T) {
	repo := new(MockWebhookRepository)
	store := new(MockAuditLog)
	bus := events.NewMemoryBus()

	repo.On("RecordInbound", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(false, nil)
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.StoredEvent")).Return(&models.StoredEvent{}, nil)

	svc := newTestService(repo, nil, bus, store, nil)

	// Not JSON at all: no natural id, no emissions, still accepted
	result, err := svc.HandleInbound(context.Background(), models.ProviderStripe, []byte("not json"), nil, false)
	require.NoError(t, err)
	require.False(t, result.Deduped)
	require.Equal(t, models.StatusReceived, result.Event.Status)
	require.Nil(t, result.Event.NaturalEventID)
	require.Empty(t, bus.Emitted())

	repo.AssertExpectations(t)
}

func TestHandleInboundGuardFailureFallsThroughToStorage(t *testing.T) {
	repo := new(MockWebhookRepository)
	guard := new(MockGuard)
	store := new(MockAuditLog)
	bus := events.NewMemoryBus()

	guard.On("Claim", mock.Anything, mock.Anything, mock.Anything).Return(false, context.DeadlineExceeded)
	repo.On("RecordInbound", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(false, nil)
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.StoredEvent")).Return(&models.StoredEvent{}, nil)

	svc := newTestService(repo, guard, bus, store, nil)

	result, err := svc.HandleInbound(context.Background(), models.ProviderStripe, []byte(stripePaymentPayload), nil, true)
	require.NoError(t, err)
	require.False(t, result.Deduped)
	require.Len(t, bus.Emitted(), 1)
}

func TestReplayOutboundReEnqueues(t *testing.T) {
	repo := new(MockWebhookRepository)
	queue := new(MockQueue)
	bus := events.NewMemoryBus()

	eventID := uuid.New()
	scopeID := uuid.New()
	target := "https://x/hook"
	stored := &models.WebhookEvent{
		ID:        eventID,
		ScopeID:   &scopeID,
		Direction: models.DirectionOut,
		Target:    &target,
		Payload:   []byte(`{"hello":"world"}`),
		Status:    models.StatusFailed,
	}

	repo.On("GetByID", mock.Anything, eventID).Return(stored, nil)
	queue.On("SendMessage", mock.Anything, mock.MatchedBy(func(body interface{}) bool {
		req, ok := body.(DeliveryRequest)
		return ok && req.EventID == eventID && req.Target == target && req.Replay
	})).Return(nil)

	svc := newTestService(repo, nil, bus, nil, queue)

	err := svc.ReplayOutbound(context.Background(), &scopeID, eventID)
	require.NoError(t, err)

	emitted := bus.Emitted()
	require.Len(t, emitted, 1)
	require.Equal(t, events.WebhookReplayed, emitted[0].Name)

	repo.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestReplayOutboundNotFound(t *testing.T) {
	repo := new(MockWebhookRepository)
	queue := new(MockQueue)

	missing := uuid.New()
	repo.On("GetByID", mock.Anything, missing).Return(nil, nil)

	svc := newTestService(repo, nil, events.NewMemoryBus(), nil, queue)

	err := svc.ReplayOutbound(context.Background(), nil, missing)
	require.ErrorIs(t, err, ErrNotFound)
	queue.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestReplayOutboundWithoutTarget(t *testing.T) {
	repo := new(MockWebhookRepository)
	queue := new(MockQueue)

	eventID := uuid.New()
	repo.On("GetByID", mock.Anything, eventID).Return(&models.WebhookEvent{
		ID:        eventID,
		Direction: models.DirectionOut,
	}, nil)

	svc := newTestService(repo, nil, events.NewMemoryBus(), nil, queue)

	err := svc.ReplayOutbound(context.Background(), nil, eventID)
	require.ErrorIs(t, err, ErrNotFound)
	queue.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestReplayOutboundScopeMismatch(t *testing.T) {
	repo := new(MockWebhookRepository)

	eventID := uuid.New()
	owner := uuid.New()
	other := uuid.New()
	target := "https://x/hook"
	repo.On("GetByID", mock.Anything, eventID).Return(&models.WebhookEvent{
		ID:        eventID,
		ScopeID:   &owner,
		Direction: models.DirectionOut,
		Target:    &target,
	}, nil)

	svc := newTestService(repo, nil, events.NewMemoryBus(), nil, nil)

	err := svc.ReplayOutbound(context.Background(), &other, eventID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordOutbound(t *testing.T) {
	repo := new(MockWebhookRepository)
	store := new(MockAuditLog)

	repo.On("RecordOutbound", mock.Anything, mock.AnythingOfType("*models.WebhookEvent")).Return(nil)
	store.On("Append", mock.Anything, mock.AnythingOfType("*models.StoredEvent")).Return(&models.StoredEvent{}, nil)

	svc := newTestService(repo, nil, events.NewMemoryBus(), store, nil)

	scopeID := uuid.New()
	event, err := svc.RecordOutbound(context.Background(), &scopeID, "https://x/hook", models.StatusFailed, 503, nil, []byte(`{}`), "upstream unavailable")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, event.Status)
	require.NotNil(t, event.HTTPStatus)
	require.Equal(t, 503, *event.HTTPStatus)
	require.NotNil(t, event.Error)

	repo.AssertExpectations(t)
}

func TestPurgeExpired(t *testing.T) {
	repo := new(MockWebhookRepository)

	repo.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(7), nil)

	svc := newTestService(repo, nil, events.NewMemoryBus(), nil, nil)

	require.NoError(t, svc.PurgeExpired(context.Background()))
	repo.AssertExpectations(t)
}
