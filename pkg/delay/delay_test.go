package delay_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/warden/pkg/delay"
)

const minSetback = 5 * 24 * time.Hour

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDelay_ZeroValue(t *testing.T) {
	var d delay.Delay
	assert.Equal(t, time.Duration(0), d.Get(t0))

	value, pending, effect := d.GetFull(t0)
	assert.Equal(t, time.Duration(0), value)
	assert.Equal(t, time.Duration(0), pending)
	assert.True(t, effect.IsZero())
}

func TestDelay_IncreaseIsImmediate(t *testing.T) {
	d := delay.For(time.Hour)

	d, effect := d.WithUpdate(t0, 3*time.Hour, minSetback)
	assert.Equal(t, t0, effect, "increase must take effect immediately")
	assert.Equal(t, 3*time.Hour, d.Get(t0))

	// No pending change should remain after an immediate transition.
	_, pending, eff := d.GetFull(t0)
	assert.Equal(t, time.Duration(0), pending)
	assert.True(t, eff.IsZero())
}

func TestDelay_EqualValueIsImmediate(t *testing.T) {
	d := delay.For(2 * time.Hour)
	d, effect := d.WithUpdate(t0, 2*time.Hour, minSetback)
	assert.Equal(t, t0, effect)
	assert.Equal(t, 2*time.Hour, d.Get(t0))
}

func TestDelay_DecreaseHonorsMinSetback(t *testing.T) {
	// Decrease of 1h is below the 5 day floor: the floor governs.
	d := delay.For(2 * time.Hour)
	d, effect := d.WithUpdate(t0, time.Hour, minSetback)
	require.Equal(t, t0.Add(minSetback), effect)

	// Old value still in force until the effect time.
	assert.Equal(t, 2*time.Hour, d.Get(t0))
	assert.Equal(t, 2*time.Hour, d.Get(effect.Add(-time.Second)))
	assert.Equal(t, time.Hour, d.Get(effect))
	assert.Equal(t, time.Hour, d.Get(effect.Add(time.Hour)))
}

func TestDelay_LargeDecreaseWaitsForTheDifference(t *testing.T) {
	// Decrease of 20 days exceeds the floor: the difference governs.
	d := delay.For(30 * 24 * time.Hour)
	d, effect := d.WithUpdate(t0, 10*24*time.Hour, minSetback)
	require.Equal(t, t0.Add(20*24*time.Hour), effect)
	assert.Equal(t, 30*24*time.Hour, d.Get(effect.Add(-time.Minute)))
	assert.Equal(t, 10*24*time.Hour, d.Get(effect))
}

func TestDelay_GetFullReportsPendingChange(t *testing.T) {
	d := delay.For(4 * time.Hour)
	d, effect := d.WithUpdate(t0, time.Hour, minSetback)

	value, pending, eff := d.GetFull(t0)
	assert.Equal(t, 4*time.Hour, value)
	assert.Equal(t, time.Hour, pending)
	assert.Equal(t, effect, eff)

	// After the transition the pending fields read as resolved.
	value, pending, eff = d.GetFull(effect)
	assert.Equal(t, time.Hour, value)
	assert.Equal(t, time.Duration(0), pending)
	assert.True(t, eff.IsZero())
}

func TestDelay_OverlappingUpdatesKeepOnePendingChange(t *testing.T) {
	d := delay.For(10 * time.Hour)

	// First decrease: 10h -> 1h, effect at t0 + max(5d, 9h) = t0 + 5d.
	d, first := d.WithUpdate(t0, time.Hour, minSetback)
	require.Equal(t, t0.Add(minSetback), first)

	// Second update before the first resolves overwrites it entirely.
	// 10h -> 8h is a 2h decrease, floored at minSetback.
	t1 := t0.Add(time.Hour)
	d, second := d.WithUpdate(t1, 8*time.Hour, minSetback)
	require.Equal(t, t1.Add(minSetback), second)

	// The 1h target from the first update must never surface.
	assert.Equal(t, 10*time.Hour, d.Get(first))
	assert.Equal(t, 8*time.Hour, d.Get(second))
}

func TestDelay_UpdateAfterPendingResolvesUsesNewBase(t *testing.T) {
	d := delay.For(6 * time.Hour)
	d, effect := d.WithUpdate(t0, 2*time.Hour, minSetback)

	// Once the decrease is in force, an increase from 2h applies at once.
	later := effect.Add(time.Hour)
	d, eff2 := d.WithUpdate(later, 3*time.Hour, minSetback)
	assert.Equal(t, later, eff2)
	assert.Equal(t, 3*time.Hour, d.Get(later))
}
