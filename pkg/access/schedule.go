package access

import (
	"context"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/Mindburn-Labs/warden/pkg/canonical"
)

// HashOperation returns the deterministic operation id for caller
// invoking call: the SHA3-256 digest of the canonical JSON encoding of
// the (caller, target, method, args) tuple. Identical tuples always
// hash identically, so the triple never needs separate storage.
func (m *Manager) HashOperation(caller string, call Call) (string, error) {
	return hashOperation(caller, call)
}

func hashOperation(caller string, call Call) (string, error) {
	payload := struct {
		Caller string `json:"caller"`
		Call   Call   `json:"call"`
	}{caller, call}
	b, err := canonical.JCS(payload)
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Schedule registers call for future execution by caller. The call must
// be one that canCall answers with a delay: immediate calls and denied
// calls cannot be scheduled. A zero when picks the earliest permitted
// time (now + delay); an explicit when must not be before it. Fails
// with AlreadyScheduledError while an unexpired schedule for the same
// operation exists. Returns the operation id and the new nonce.
func (m *Manager) Schedule(ctx context.Context, caller string, call Call, when time.Time) (string, uint64, error) {
	operationID, err := hashOperation(caller, call)
	if err != nil {
		return "", 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	immediate, setback := m.canCallExtendedLocked(now, caller, call)
	if setback == 0 {
		reason := DenialNotDelayed
		if !immediate {
			reason = m.denialReasonLocked(call)
		}
		return "", 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: reason}
	}

	minWhen := now.Add(setback)
	if when.IsZero() {
		when = minWhen
	} else if when.Before(minWhen) {
		return "", 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: DenialTooEarly}
	}

	rec := m.schedules[operationID]
	if rec != nil && !rec.timepoint.IsZero() && !m.isExpired(now, rec.timepoint) {
		return "", 0, &AlreadyScheduledError{OperationID: operationID}
	}
	if rec == nil {
		rec = &scheduleRecord{}
		m.schedules[operationID] = rec
	}
	rec.timepoint = when
	rec.nonce++

	m.emit(ctx, ActionOperationScheduled, operationResource(operationID), map[string]any{
		"nonce":    rec.nonce,
		"schedule": when,
		"caller":   caller,
		"target":   call.Target,
		"method":   call.Method,
	})
	return operationID, rec.nonce, nil
}

// Cancel voids a scheduled operation without executing it. Allowed for
// the account that scheduled it, for holders of the required role's
// guardian role, and for holders of the required role's admin role.
// Returns the nonce of the cancelled schedule.
func (m *Manager) Cancel(ctx context.Context, canceller, caller string, call Call) (uint64, error) {
	operationID, err := hashOperation(caller, call)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	rec := m.schedules[operationID]
	if rec == nil || rec.timepoint.IsZero() {
		return 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: DenialNotScheduled}
	}

	if canceller != caller {
		role := m.targetFunctionRoleLocked(call.Target, call.Method)
		isGuardian, _ := m.hasRoleLocked(now, m.roleGuardianLocked(role), canceller)
		isAdmin, _ := m.hasRoleLocked(now, m.roleAdminLocked(role), canceller)
		if !isGuardian && !isAdmin {
			return 0, &UnauthorizedCancelError{Canceller: canceller, Caller: caller, Target: call.Target, Method: call.Method}
		}
	}

	rec.timepoint = time.Time{}
	m.emit(ctx, ActionOperationCanceled, operationResource(operationID), map[string]any{
		"nonce":     rec.nonce,
		"canceller": canceller,
	})
	return rec.nonce, nil
}

// ConsumeScheduledOp consumes a scheduled operation on behalf of a
// target that executes the underlying call itself. The invoker must be
// the operation's target, and an in-process registered target must
// report that it is mid-consumption.
func (m *Manager) ConsumeScheduledOp(ctx context.Context, invoker, caller string, call Call) (uint64, error) {
	operationID, err := hashOperation(caller, call)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if invoker != call.Target {
		return 0, &UnauthorizedConsumeError{Target: invoker}
	}
	if t, ok := m.registry[call.Target]; ok && !t.IsConsumingScheduledOp() {
		return 0, &UnauthorizedConsumeError{Target: call.Target}
	}
	return m.consumeLocked(ctx, m.clock.Now(), caller, call, operationID)
}

// consumeLocked validates that the operation is scheduled, due and
// unexpired, then zeroes its timepoint. The nonce is left unchanged:
// only Schedule increments it.
func (m *Manager) consumeLocked(ctx context.Context, now time.Time, caller string, call Call, operationID string) (uint64, error) {
	rec := m.schedules[operationID]
	if rec == nil || rec.timepoint.IsZero() {
		return 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: DenialNotScheduled}
	}
	if now.Before(rec.timepoint) {
		return 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: DenialNotReady}
	}
	if m.isExpired(now, rec.timepoint) {
		return 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: DenialExpired}
	}

	rec.timepoint = time.Time{}
	m.emit(ctx, ActionOperationExecuted, operationResource(operationID), map[string]any{
		"nonce":  rec.nonce,
		"caller": caller,
		"target": call.Target,
		"method": call.Method,
	})
	return rec.nonce, nil
}

// GetSchedule returns the timepoint at which the operation becomes
// executable, or the zero time if it was never scheduled, was consumed
// or cancelled, or has expired. Expiration is evaluated lazily against
// the current time.
func (m *Manager) GetSchedule(operationID string) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveScheduleLocked(m.clock.Now(), operationID)
}

func (m *Manager) effectiveScheduleLocked(now time.Time, operationID string) time.Time {
	rec := m.schedules[operationID]
	if rec == nil || rec.timepoint.IsZero() || m.isExpired(now, rec.timepoint) {
		return time.Time{}
	}
	return rec.timepoint
}

// GetNonce returns the nonce assigned by the latest Schedule of the
// operation, or 0 if it was never scheduled. Nonces persist across
// cancellation and expiry for replay-safe off-chain correlation.
func (m *Manager) GetNonce(operationID string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec := m.schedules[operationID]; rec != nil {
		return rec.nonce
	}
	return 0
}

// isExpired reports whether a schedule timepoint has passed its
// expiration window: strictly more than Expiration after it.
func (m *Manager) isExpired(now, timepoint time.Time) bool {
	return now.After(timepoint.Add(Expiration))
}
