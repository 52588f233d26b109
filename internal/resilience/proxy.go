package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/backstage/services/webhooks/config"
	"example.com/backstage/services/webhooks/internal/provider"
)

// minRequestTimeout is the floor enforced on per-attempt timeouts
const minRequestTimeout = time.Second

// Proxy wraps a provider adapter with a circuit breaker and bounded
// retry so that transient provider failures are retried and persistent
// ones are isolated from callers. One proxy instance fronts one
// provider configuration; breaker state is never shared across
// unrelated providers.
type Proxy struct {
	adapter provider.Adapter
	breaker *CircuitBreaker

	maxAttempts    int
	backoffBase    time.Duration
	backoffCap     time.Duration
	requestTimeout time.Duration
}

// NewProxy creates a proxy around adapter using the given policy
func NewProxy(adapter provider.Adapter, cfg config.ResilienceConfig) *Proxy {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 200 * time.Millisecond
	}
	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = 5 * time.Second
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout < minRequestTimeout {
		requestTimeout = minRequestTimeout
	}

	return &Proxy{
		adapter:        adapter,
		breaker:        NewCircuitBreaker(adapter.Name(), cfg.FailureThreshold, cfg.ResetTimeout),
		maxAttempts:    maxAttempts,
		backoffBase:    backoffBase,
		backoffCap:     backoffCap,
		requestTimeout: requestTimeout,
	}
}

// Name returns the wrapped adapter's provider name
func (p *Proxy) Name() string {
	return p.adapter.Name()
}

// BreakerState exposes the current circuit state for health reporting
func (p *Proxy) BreakerState() BreakerState {
	return p.breaker.State()
}

// CreateCheckout proxies Adapter.CreateCheckout
func (p *Proxy) CreateCheckout(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	var result *provider.CheckoutSession
	err := p.execute(ctx, "create_checkout", func(ctx context.Context) error {
		var err error
		result, err = p.adapter.CreateCheckout(ctx, req)
		return err
	})
	return result, err
}

// Refund proxies Adapter.Refund
func (p *Proxy) Refund(ctx context.Context, req provider.RefundRequest) (*provider.RefundResult, error) {
	var result *provider.RefundResult
	err := p.execute(ctx, "refund", func(ctx context.Context) error {
		var err error
		result, err = p.adapter.Refund(ctx, req)
		return err
	})
	return result, err
}

// UpdateSubscription proxies Adapter.UpdateSubscription
func (p *Proxy) UpdateSubscription(ctx context.Context, req provider.SubscriptionUpdate) (*provider.Subscription, error) {
	var result *provider.Subscription
	err := p.execute(ctx, "update_subscription", func(ctx context.Context) error {
		var err error
		result, err = p.adapter.UpdateSubscription(ctx, req)
		return err
	})
	return result, err
}

// CancelSubscription proxies Adapter.CancelSubscription
func (p *Proxy) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return p.execute(ctx, "cancel_subscription", func(ctx context.Context) error {
		return p.adapter.CancelSubscription(ctx, subscriptionID)
	})
}

// execute runs one logical provider call through the breaker and the
// retry policy. Domain errors propagate after the first attempt and do
// not count against the breaker; transient errors are retried with
// exponential backoff until the attempts are exhausted.
func (p *Proxy) execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.breaker.Allow(); err != nil {
			return err
		}

		lastErr = p.attempt(ctx, fn)
		if lastErr == nil {
			p.breaker.Success()
			return nil
		}

		// The caller going away is not a provider failure; releasing
		// rather than recording keeps a half-open probe slot from
		// staying claimed forever
		if ctx.Err() != nil {
			p.breaker.Release()
			return ctx.Err()
		}

		// A domain rejection means the provider answered: the call
		// failed but the provider is reachable
		if Classify(lastErr) == ClassDomain {
			p.breaker.Success()
			return lastErr
		}

		p.breaker.Failure()

		if attempt == p.maxAttempts {
			break
		}

		backoff := p.backoffDelay(attempt)
		log.Warn().
			Err(lastErr).
			Str("provider", p.adapter.Name()).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Provider call failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// attempt runs fn once under the per-attempt request timeout
func (p *Proxy) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	start := time.Now()
	err := fn(attemptCtx)
	if err == nil {
		return nil
	}

	// Distinguish the attempt hitting its bound from the caller
	// cancelling the whole operation
	if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &TimeoutError{Elapsed: time.Since(start), Cause: err}
	}
	return err
}

// backoffDelay returns base * 2^(attempt-1), capped
func (p *Proxy) backoffDelay(attempt int) time.Duration {
	delay := p.backoffBase << uint(attempt-1)
	if delay > p.backoffCap || delay <= 0 {
		return p.backoffCap
	}
	return delay
}
