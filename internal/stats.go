package internal

import (
	"context"
	"sync"
)

const (
	CounterConnections     = "connections"
	CounterRequests        = "requests"
	CounterBadRequests     = "bad_requests"
	CounterTransportErrors = "transport_errors"
	CounterPublished       = "shapes_published"
	CounterDrawn           = "shapes_drawn"
	CounterLagged          = "shapes_lagged"
	CounterDrawFailures    = "draw_failures"
	CounterLinkConnects    = "link_connects"
	CounterLinkFailures    = "link_failures"
	CounterLinkDrops       = "link_drops"
)

// Counters receives operational counts. Implementations must not block for
// long; errors are theirs to log.
type Counters interface {
	Incr(ctx context.Context, name string, delta int64)
}

type NopCounters struct{}

func (NopCounters) Incr(context.Context, string, int64) {}

type MemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{values: make(map[string]int64)}
}

func (m *MemoryCounters) Incr(_ context.Context, name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] += delta
}

func (m *MemoryCounters) Get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[name]
}
