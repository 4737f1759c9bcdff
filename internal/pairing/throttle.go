// Package pairing handles QR pairing challenges: it throttles challenge
// storms, renders accepted codes for the operator and keeps the latest code
// on disk for the admin status page.
package pairing

import (
	"sync"
	"time"

	"github.com/aelexs/archivebot/internal/domain"
)

// Decision is the throttle's verdict on one raw QR event.
type Decision int

const (
	Accepted Decision = iota + 1
	Suppressed
	CoolingDown
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Suppressed:
		return "suppressed"
	case CoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// ThrottleConfig bounds how often QR challenges are surfaced.
type ThrottleConfig struct {
	Window           time.Duration
	MaxRegenerations int
	Cooldown         time.Duration
}

// ThrottleState is a snapshot of the throttle counters.
type ThrottleState struct {
	// LastEventAt is the time of the last raw QR event, suppressed ones
	// included.
	LastEventAt       time.Time
	RegenerationCount int
	CooldownUntil     time.Time
}

// Throttle rate-limits QR challenge events. Elapsed time is measured from
// the previous raw event, so a steady stream faster than Window keeps
// being suppressed until it trips the cooldown.
type Throttle struct {
	mu    sync.Mutex
	cfg   ThrottleConfig
	clock domain.Clock
	state ThrottleState
}

func NewThrottle(cfg ThrottleConfig, clock domain.Clock) *Throttle {
	if cfg.Window <= 0 {
		cfg.Window = domain.QRThrottleWindow
	}
	if cfg.MaxRegenerations <= 0 {
		cfg.MaxRegenerations = domain.QRMaxRegenerations
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = domain.QRCooldown
	}
	return &Throttle{cfg: cfg, clock: clock}
}

// Admit records a raw QR event and decides whether it may be surfaced.
func (t *Throttle) Admit() Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if now.Before(t.state.CooldownUntil) {
		return CoolingDown
	}

	first := t.state.LastEventAt.IsZero()
	elapsed := now.Sub(t.state.LastEventAt)
	t.state.LastEventAt = now

	if !first && elapsed < t.cfg.Window {
		t.state.RegenerationCount++
		if t.state.RegenerationCount > t.cfg.MaxRegenerations {
			t.state.CooldownUntil = now.Add(t.cfg.Cooldown)
			t.state.RegenerationCount = 0
			return CoolingDown
		}
		return Suppressed
	}

	t.state.RegenerationCount = 0
	return Accepted
}

// Reset clears all counters. Called before each new session connects.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.state = ThrottleState{}
	t.mu.Unlock()
}

func (t *Throttle) State() ThrottleState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
