package pairing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/archivebot/internal/domain/domaintest"
	"github.com/aelexs/archivebot/internal/pairing"
)

var epoch = time.Date(2024, 5, 12, 8, 0, 0, 0, time.UTC)

func newThrottle(clock *domaintest.FakeClock) *pairing.Throttle {
	return pairing.NewThrottle(pairing.ThrottleConfig{
		Window:           30 * time.Second,
		MaxRegenerations: 5,
		Cooldown:         2 * time.Minute,
	}, clock)
}

func TestThrottle_Sequence(t *testing.T) {
	clock := domaintest.NewFakeClock(epoch)
	th := newThrottle(clock)

	steps := []struct {
		at       time.Duration
		want     pairing.Decision
		wantRegs int
	}{
		{at: 0, want: pairing.Accepted, wantRegs: 0},
		{at: 5 * time.Second, want: pairing.Suppressed, wantRegs: 1},
		{at: 35 * time.Second, want: pairing.Accepted, wantRegs: 0},
		{at: 40 * time.Second, want: pairing.Suppressed, wantRegs: 1},
		{at: 200 * time.Second, want: pairing.Accepted, wantRegs: 0},
	}

	for _, step := range steps {
		clock.Set(epoch.Add(step.at))
		got := th.Admit()
		assert.Equal(t, step.want, got, "event at %s", step.at)
		assert.Equal(t, step.wantRegs, th.State().RegenerationCount, "counter at %s", step.at)
		assert.True(t, th.State().LastEventAt.Equal(clock.Now()), "last event at %s", step.at)
	}
}

func TestThrottle_Cooldown(t *testing.T) {
	clock := domaintest.NewFakeClock(epoch)
	th := newThrottle(clock)

	assert.Equal(t, pairing.Accepted, th.Admit())
	for i := 1; i <= 5; i++ {
		clock.Advance(time.Second)
		assert.Equal(t, pairing.Suppressed, th.Admit(), "regeneration %d", i)
	}

	clock.Advance(time.Second)
	assert.Equal(t, pairing.CoolingDown, th.Admit())
	assert.Zero(t, th.State().RegenerationCount)

	t.Run("everything suppressed until cooldown elapses", func(t *testing.T) {
		clock.Advance(time.Minute)
		assert.Equal(t, pairing.CoolingDown, th.Admit())
		assert.Zero(t, th.State().RegenerationCount)
	})

	t.Run("accepted after cooldown", func(t *testing.T) {
		clock.Advance(time.Minute + time.Second)
		assert.Equal(t, pairing.Accepted, th.Admit())
	})
}

func TestThrottle_Reset(t *testing.T) {
	clock := domaintest.NewFakeClock(epoch)
	th := newThrottle(clock)

	th.Admit()
	clock.Advance(time.Second)
	assert.Equal(t, pairing.Suppressed, th.Admit())

	th.Reset()
	assert.Equal(t, pairing.ThrottleState{}, th.State())

	clock.Advance(time.Second)
	assert.Equal(t, pairing.Accepted, th.Admit())
}
