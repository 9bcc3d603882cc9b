package circuit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/your-org/fortress-bot/internal/config"
)

var morning = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func eq(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newBreaker(target float64) *Breaker {
	return NewBreaker(config.BreakerConfig{
		DrawdownPct:          -1,
		Cooldown:             config.Duration(24 * time.Hour),
		DailyProfitTargetPct: target,
	})
}

func TestBreaker_TripsOnDrawdown(t *testing.T) {
	b := newBreaker(0)
	var trips []string
	b.OnTrip(func(reason string) { trips = append(trips, reason) })

	snap := b.Evaluate(eq(1000), morning)
	assert.Equal(t, StateClosed, snap.State)
	ok, _ := b.CanTrade(morning)
	assert.True(t, ok)

	snap = b.Evaluate(eq(995), morning.Add(time.Minute))
	assert.Equal(t, StateClosed, snap.State, "-0.5% is within the threshold")

	snap = b.Evaluate(eq(990), morning.Add(2*time.Minute))
	assert.Equal(t, StateOpen, snap.State)
	assert.InDelta(t, -1.0, snap.ChangePct, 1e-9)
	require.Len(t, trips, 1)

	ok, reason := b.CanTrade(morning.Add(3 * time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "daily drawdown")
}

func TestBreaker_IdempotentWithinCooldown(t *testing.T) {
	b := newBreaker(0)
	trips := 0
	b.OnTrip(func(string) { trips++ })

	b.Evaluate(eq(1000), morning)
	first := b.Evaluate(eq(980), morning.Add(time.Hour))
	require.Equal(t, StateOpen, first.State)

	for i := 2; i < 20; i++ {
		snap := b.Evaluate(eq(900), morning.Add(time.Duration(i)*time.Hour))
		assert.Equal(t, StateOpen, snap.State)
		assert.Equal(t, first.ResumeAt, snap.ResumeAt, "timer must not be reset")
	}
	assert.Equal(t, 1, trips)
}

func TestBreaker_ResetsAfterCooldown(t *testing.T) {
	b := newBreaker(0)
	resets := 0
	b.OnReset(func() { resets++ })

	b.Evaluate(eq(1000), morning)
	b.Evaluate(eq(980), morning.Add(time.Hour))

	ok, _ := b.CanTrade(morning.Add(25 * time.Hour))
	assert.True(t, ok, "entries resume once the window has passed")

	snap := b.Evaluate(eq(970), morning.Add(25*time.Hour))
	assert.Equal(t, StateClosed, snap.State)
	assert.True(t, snap.DailyStart.Equal(eq(970)), "daily start resets to current equity")
	assert.Zero(t, snap.ChangePct)
	assert.Equal(t, 1, resets)
}

func TestBreaker_DayRollResetsStart(t *testing.T) {
	b := newBreaker(0)
	b.Evaluate(eq(1000), morning)
	b.Evaluate(eq(995), morning.Add(10*time.Hour))

	snap := b.Evaluate(eq(992), morning.Add(17*time.Hour))
	assert.Equal(t, StateClosed, snap.State, "new UTC day starts from 995")
	assert.True(t, snap.DailyStart.Equal(eq(992)))
}

func TestBreaker_DailyProfitTarget(t *testing.T) {
	b := newBreaker(2)
	var reasons []string
	b.OnTrip(func(r string) { reasons = append(reasons, r) })

	b.Evaluate(eq(1000), morning)
	snap := b.Evaluate(eq(1025), morning.Add(time.Hour))
	assert.Equal(t, StateTargetLocked, snap.State)
	assert.Equal(t, morning.Truncate(24*time.Hour).Add(24*time.Hour), snap.ResumeAt)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "profit target")

	b.Evaluate(eq(1030), morning.Add(2*time.Hour))
	assert.Len(t, reasons, 1, "locked state does not re-trigger")

	ok, _ := b.CanTrade(morning.Add(3 * time.Hour))
	assert.False(t, ok)

	snap = b.Evaluate(eq(1030), morning.Add(17*time.Hour))
	assert.Equal(t, StateClosed, snap.State)
	ok, _ = b.CanTrade(morning.Add(17 * time.Hour))
	assert.True(t, ok)
}
