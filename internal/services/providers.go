package services

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/webhooks/internal/events"
	"example.com/backstage/services/webhooks/internal/models"
)

// emission is one typed domain event produced from an inbound payload
type emission struct {
	name    string
	payload interface{}
}

// providerStrategy holds the per-provider conventions for pulling the
// natural event id out of a delivery and translating its payload into
// domain events. Parsing is defensive: unknown or malformed shapes
// produce no emissions and no errors.
type providerStrategy struct {
	extractNaturalID func(payload []byte, headers map[string]string) string
	translate        func(payload []byte) []emission
}

// providerTable maps each supported provider to its strategy
var providerTable = map[models.Provider]providerStrategy{
	models.ProviderStripe: {
		extractNaturalID: stripeNaturalID,
		translate:        translateStripe,
	},
	models.ProviderRazorpay: {
		extractNaturalID: razorpayNaturalID,
		translate:        translateRazorpay,
	},
	models.ProviderPaystack: {
		extractNaturalID: paystackNaturalID,
		translate:        translatePaystack,
	},
}

// --- Stripe ---

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePayment struct {
	ID             string `json:"id"`
	AmountReceived int64  `json:"amount_received"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Customer       string `json:"customer"`
}

type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Plan   struct {
		ID string `json:"id"`
	} `json:"plan"`
}

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// stripeNaturalID uses the top-level event id from the body
func stripeNaturalID(payload []byte, _ map[string]string) string {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.ID
}

func translateStripe(payload []byte) []emission {
	var env stripeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Debug().Err(err).Str("provider", "stripe").Msg("malformed webhook payload, skipping")
		return nil
	}

	switch env.Type {
	case "payment_intent.succeeded", "charge.captured":
		var p stripePayment
		if err := json.Unmarshal(env.Data.Object, &p); err != nil || p.ID == "" {
			log.Debug().Str("provider", "stripe").Str("type", env.Type).Msg("unparseable payment object, skipping")
			return nil
		}
		amount := p.AmountReceived
		if amount == 0 {
			amount = p.Amount
		}
		return []emission{{events.PaymentCaptured, events.PaymentCapturedPayload{
			Provider:   string(models.ProviderStripe),
			PaymentID:  p.ID,
			Amount:     amount,
			Currency:   p.Currency,
			CustomerID: p.Customer,
			CapturedAt: time.Now().UTC(),
		}}}

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var s stripeSubscription
		if err := json.Unmarshal(env.Data.Object, &s); err != nil || s.ID == "" {
			log.Debug().Str("provider", "stripe").Str("type", env.Type).Msg("unparseable subscription object, skipping")
			return nil
		}
		status := s.Status
		if env.Type == "customer.subscription.deleted" {
			status = "canceled"
		}
		return []emission{{events.SubscriptionChanged, events.SubscriptionChangedPayload{
			Provider:       string(models.ProviderStripe),
			SubscriptionID: s.ID,
			Status:         status,
			PlanID:         s.Plan.ID,
			ChangedAt:      time.Now().UTC(),
		}}}

	case "customer.created", "customer.updated":
		var c stripeCustomer
		if err := json.Unmarshal(env.Data.Object, &c); err != nil || c.ID == "" {
			return nil
		}
		return []emission{{events.CustomerMappingChanged, events.CustomerMappingChangedPayload{
			Provider:   string(models.ProviderStripe),
			CustomerID: c.ID,
		}}}

	case "customer.deleted":
		var c stripeCustomer
		if err := json.Unmarshal(env.Data.Object, &c); err != nil || c.Email == "" {
			return nil
		}
		return []emission{{events.SuppressionRequested, events.SuppressionRequestedPayload{
			Provider: string(models.ProviderStripe),
			Address:  c.Email,
			Reason:   "customer_deleted",
		}}}
	}

	log.Debug().Str("provider", "stripe").Str("type", env.Type).Msg("unhandled webhook event type")
	return nil
}

// --- Razorpay ---

type razorpayEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Email    string `json:"email"`
			} `json:"entity"`
		} `json:"payment"`
		Subscription struct {
			Entity struct {
				ID     string `json:"id"`
				PlanID string `json:"plan_id"`
				Status string `json:"status"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// razorpayNaturalID uses the provider's delivery id header
func razorpayNaturalID(_ []byte, headers map[string]string) string {
	return headers["x-razorpay-event-id"]
}

func translateRazorpay(payload []byte) []emission {
	var env razorpayEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Debug().Err(err).Str("provider", "razorpay").Msg("malformed webhook payload, skipping")
		return nil
	}

	switch env.Event {
	case "payment.captured":
		p := env.Payload.Payment.Entity
		if p.ID == "" {
			return nil
		}
		return []emission{{events.PaymentCaptured, events.PaymentCapturedPayload{
			Provider:   string(models.ProviderRazorpay),
			PaymentID:  p.ID,
			Amount:     p.Amount,
			Currency:   p.Currency,
			CapturedAt: time.Now().UTC(),
		}}}

	case "subscription.activated", "subscription.updated", "subscription.cancelled", "subscription.halted":
		s := env.Payload.Subscription.Entity
		if s.ID == "" {
			return nil
		}
		return []emission{{events.SubscriptionChanged, events.SubscriptionChangedPayload{
			Provider:       string(models.ProviderRazorpay),
			SubscriptionID: s.ID,
			Status:         s.Status,
			PlanID:         s.PlanID,
			ChangedAt:      time.Now().UTC(),
		}}}
	}

	log.Debug().Str("provider", "razorpay").Str("event", env.Event).Msg("unhandled webhook event type")
	return nil
}

// --- Paystack ---

type paystackEnvelope struct {
	Event string `json:"event"`
	Data  struct {
		ID        json.Number `json:"id"`
		Reference string      `json:"reference"`
		Amount    int64       `json:"amount"`
		Currency  string      `json:"currency"`
		Customer  struct {
			CustomerCode string `json:"customer_code"`
			Email        string `json:"email"`
		} `json:"customer"`
		SubscriptionCode string `json:"subscription_code"`
		Status           string `json:"status"`
		Plan             struct {
			PlanCode string `json:"plan_code"`
		} `json:"plan"`
	} `json:"data"`
}

// paystackNaturalID combines the event name with the data id, since
// paystack reuses numeric ids across event families
func paystackNaturalID(payload []byte, _ map[string]string) string {
	var env paystackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	if env.Event == "" || env.Data.ID.String() == "" {
		return ""
	}
	return env.Event + ":" + env.Data.ID.String()
}

func translatePaystack(payload []byte) []emission {
	var env paystackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Debug().Err(err).Str("provider", "paystack").Msg("malformed webhook payload, skipping")
		return nil
	}

	switch env.Event {
	case "charge.success":
		if env.Data.Reference == "" {
			return nil
		}
		return []emission{{events.PaymentCaptured, events.PaymentCapturedPayload{
			Provider:   string(models.ProviderPaystack),
			PaymentID:  env.Data.Reference,
			Amount:     env.Data.Amount,
			Currency:   env.Data.Currency,
			CustomerID: env.Data.Customer.CustomerCode,
			CapturedAt: time.Now().UTC(),
		}}}

	case "subscription.create", "subscription.disable", "subscription.not_renew":
		if env.Data.SubscriptionCode == "" {
			return nil
		}
		return []emission{{events.SubscriptionChanged, events.SubscriptionChangedPayload{
			Provider:       string(models.ProviderPaystack),
			SubscriptionID: env.Data.SubscriptionCode,
			Status:         env.Data.Status,
			PlanID:         env.Data.Plan.PlanCode,
			ChangedAt:      time.Now().UTC(),
		}}}
	}

	log.Debug().Str("provider", "paystack").Str("event", env.Event).Msg("unhandled webhook event type")
	return nil
}
