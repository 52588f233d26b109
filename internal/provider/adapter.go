package provider

import (
	"context"

	"github.com/google/uuid"
)

// CheckoutRequest asks the provider to create a hosted checkout
type CheckoutRequest struct {
	ScopeID     *uuid.UUID `json:"scope_id,omitempty"`
	CustomerID  string     `json:"customer_id"`
	PlanID      string     `json:"plan_id"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	SuccessURL  string     `json:"success_url"`
	CancelURL   string     `json:"cancel_url"`
	Description string     `json:"description,omitempty"`
}

// CheckoutSession is the provider's checkout handle
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// RefundRequest asks the provider to refund a captured payment
type RefundRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason,omitempty"`
}

// RefundResult is the provider's refund confirmation
type RefundResult struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// SubscriptionUpdate changes a provider-side subscription
type SubscriptionUpdate struct {
	SubscriptionID string `json:"subscription_id"`
	PlanID         string `json:"plan_id,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
}

// Subscription is the provider's view of a subscription
type Subscription struct {
	SubscriptionID string `json:"subscription_id"`
	PlanID         string `json:"plan_id"`
	Status         string `json:"status"`
}

// Adapter is the boundary to one external payment provider. Concrete
// implementations wrap the provider SDK/HTTP surface and must return
// errors classified via the resilience package so that callers can
// distinguish provider unavailability from rejected requests.
type Adapter interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
	UpdateSubscription(ctx context.Context, req SubscriptionUpdate) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}
