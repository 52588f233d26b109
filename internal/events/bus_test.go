package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmitTypedEnforcesSchema(t *testing.T) {
	bus := NewMemoryBus()

	err := bus.EmitTyped(context.Background(), PaymentCaptured, PaymentCapturedPayload{
		Provider:   "stripe",
		PaymentID:  "pi_1",
		Amount:     100,
		Currency:   "usd",
		CapturedAt: time.Now(),
	}, "webhooks")
	require.NoError(t, err)

	// Wrong payload type for the event name
	err = bus.EmitTyped(context.Background(), PaymentCaptured, SubscriptionChangedPayload{}, "webhooks")
	require.Error(t, err)

	// Unknown event name
	err = bus.EmitTyped(context.Background(), "billing.unknown", PaymentCapturedPayload{}, "webhooks")
	require.Error(t, err)

	emitted := bus.Emitted()
	require.Len(t, emitted, 1)
	require.Equal(t, PaymentCaptured, emitted[0].Name)
	require.Equal(t, "webhooks", emitted[0].Source)
}

func TestValidatePayloadCoversAllEventNames(t *testing.T) {
	cases := map[string]interface{}{
		PaymentCaptured:        PaymentCapturedPayload{},
		SubscriptionChanged:    SubscriptionChangedPayload{},
		CustomerMappingChanged: CustomerMappingChangedPayload{},
		SuppressionRequested:   SuppressionRequestedPayload{},
		WebhookReplayed:        WebhookReplayedPayload{},
	}

	for name, payload := range cases {
		require.NoError(t, ValidatePayload(name, payload), name)
	}
}
