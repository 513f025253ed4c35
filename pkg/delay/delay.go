// Package delay implements the time-shifted delay values used by the
// access authority for grant delays, execution delays and target admin
// delays.
//
// A Delay carries the value currently in force plus at most one pending
// change with its effect time. Reducing a delay is never instantaneous:
// the reduction cannot take effect before max(minSetback, old-new) has
// elapsed, so an operator cannot collapse a safety delay to zero and
// immediately push a call through it. Increases take effect immediately.
package delay

import "time"

// Delay is a duration that can change over time with a guaranteed
// minimum transition setback. The zero value is a zero delay with no
// pending change.
type Delay struct {
	current time.Duration
	pending time.Duration
	effect  time.Time // zero means no pending change
}

// For returns a Delay whose value is d, effective immediately.
func For(d time.Duration) Delay {
	return Delay{current: d}
}

// Get returns the value in force at instant now. A pending change whose
// effect time has been reached governs; otherwise the current value does.
func (d Delay) Get(now time.Time) time.Duration {
	value, _, _ := d.GetFull(now)
	return value
}

// GetFull returns the value in force at now, together with the pending
// value and its effect time. Once the effect time has passed the pending
// change is folded into the reported current value and the returned
// pending/effect are zero.
func (d Delay) GetFull(now time.Time) (value, pending time.Duration, effect time.Time) {
	if d.effect.IsZero() || now.Before(d.effect) {
		return d.current, d.pending, d.effect
	}
	return d.pending, 0, time.Time{}
}

// WithUpdate schedules a change of the delay to newValue as of now.
// It returns the updated Delay and the instant at which newValue takes
// effect. An increase (or no change) applies immediately. A decrease is
// deferred by max(minSetback, old-new). Any unresolved pending change is
// overwritten; at most one pending change exists at a time.
func (d Delay) WithUpdate(now time.Time, newValue, minSetback time.Duration) (Delay, time.Time) {
	value := d.Get(now)

	var setback time.Duration
	if newValue < value {
		setback = value - newValue
		if setback < minSetback {
			setback = minSetback
		}
	}

	if setback == 0 {
		return Delay{current: newValue}, now
	}

	effect := now.Add(setback)
	return Delay{current: value, pending: newValue, effect: effect}, effect
}
