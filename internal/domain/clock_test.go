package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aelexs/archivebot/internal/domain"
	"github.com/aelexs/archivebot/internal/domain/domaintest"
)

func TestRealClock(t *testing.T) {
	clock := domain.RealClock{}
	before := time.Now()
	got := clock.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFakeClock(t *testing.T) {
	fixedTime := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("returns fixed time", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		assert.True(t, clock.Now().Equal(fixedTime))
	})

	t.Run("advance moves time forward", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		clock.Advance(90 * time.Second)
		assert.True(t, clock.Now().Equal(fixedTime.Add(90*time.Second)))
	})

	t.Run("set changes time", func(t *testing.T) {
		clock := domaintest.NewFakeClock(fixedTime)
		newTime := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
		clock.Set(newTime)
		assert.True(t, clock.Now().Equal(newTime))
	})
}

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 9, 18, 42, 7, 500, loc)

	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), domain.StartOfDay(now))
	assert.Equal(t, time.Date(2026, 3, 9, 23, 59, 59, int(999*time.Millisecond), loc), domain.EndOfDay(now))
}
