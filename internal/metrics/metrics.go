package metrics

import (
	"sync"
)

// Counter names tracked by the webhook pipeline
const (
	InboundReceived  = "webhooks_inbound_received"
	InboundDeduped   = "webhooks_inbound_deduped"
	InboundMalformed = "webhooks_inbound_malformed"
	EventsEmitted    = "webhooks_events_emitted"
	OutboundRecorded = "webhooks_outbound_recorded"
	OutboundReplayed = "webhooks_outbound_replayed"
	ExpiredPurged    = "webhooks_expired_purged"
)

// Metrics is an in-process counter collector exposed on /metrics
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewMetrics creates an empty collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]int64),
	}
}

// Inc increments a counter by one
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add increments a counter by delta
func (m *Metrics) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Snapshot returns a copy of all counter values
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
