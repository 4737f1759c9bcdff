package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/aelexs/archivebot/internal/domain"
)

// InFlight tracks message identities currently being processed. Claim
// returns false when id is already tracked and unexpired.
type InFlight interface {
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// MemoryInFlight is a process-local InFlight. Expired entries are purged
// on every claim, so memory is bounded by the arrival rate times the TTL.
type MemoryInFlight struct {
	mu      sync.Mutex
	clock   domain.Clock
	entries map[string]time.Time
}

func NewMemoryInFlight(clock domain.Clock) *MemoryInFlight {
	return &MemoryInFlight{clock: clock, entries: make(map[string]time.Time)}
}

func (m *MemoryInFlight) Claim(_ context.Context, id string, ttl time.Duration) (bool, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, expiresAt := range m.entries {
		if !now.Before(expiresAt) {
			delete(m.entries, key)
		}
	}
	if _, ok := m.entries[id]; ok {
		return false, nil
	}
	m.entries[id] = now.Add(ttl)
	return true, nil
}

// Len returns the number of tracked identities.
func (m *MemoryInFlight) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
