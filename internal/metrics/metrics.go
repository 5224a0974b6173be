package metrics

import "sync"

// Counter names used across the relay.
const (
	RoomsCreated = "rooms_created"
	RoomJoins    = "room_joins"
	RoomLeaves   = "room_leaves"
	ChatMessages = "chat_messages"

	DropReasonBadMessage   = "bad_message"
	DropReasonRateLimited  = "rate_limited"
	DropReasonSlowConsumer = "slow_consumer"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps room/gateway accounting testable without binding the relay to a
// specific metrics backend; PrometheusHandler exposes the counters for
// scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
