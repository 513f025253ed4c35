package access

import (
	"context"
	"time"
)

// SetTargetClosed closes or reopens a target. A closed target denies
// every call regardless of roles. The manager can never close itself
// off from its own admin operations.
func (m *Manager) SetTargetClosed(ctx context.Context, caller string, target string, closed bool) error {
	call, err := SelfCall(MethodSetTargetClosed, SetTargetClosedArgs{Target: target, Closed: closed})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	if target == SelfTarget {
		return &LockedAccountError{Account: target}
	}
	m.targetMut(target).closed = closed
	m.emit(ctx, ActionTargetClosedChanged, targetResource(target), map[string]any{"closed": closed})
	return nil
}

// SetTargetFunctionRole sets the role required to call each of the
// given methods on target.
func (m *Manager) SetTargetFunctionRole(ctx context.Context, caller string, target string, methods []string, role RoleID) error {
	call, err := SelfCall(MethodSetTargetFunctionRole, SetTargetFunctionRoleArgs{Target: target, Methods: methods, Role: role})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	rec := m.targetMut(target)
	for _, method := range methods {
		rec.functionRoles[method] = role
		m.emit(ctx, ActionTargetFunctionRoleChanged, targetResource(target), map[string]any{
			"method": method,
			"role":   role,
		})
	}
	return nil
}

// SetTargetAdminDelay changes the target's admin delay: the floor on
// the effective execution delay of delayed administrative operations
// concerning it. Decreases are deferred by the setback algebra.
func (m *Manager) SetTargetAdminDelay(ctx context.Context, caller string, target string, newDelay time.Duration) error {
	call, err := SelfCall(MethodSetTargetAdminDelay, SetTargetAdminDelayArgs{Target: target, Delay: newDelay})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}

	rec := m.targetMut(target)
	var effect time.Time
	rec.adminDelay, effect = rec.adminDelay.WithUpdate(now, newDelay, MinSetback)
	m.emit(ctx, ActionTargetAdminDelayChanged, targetResource(target), map[string]any{
		"delay":  newDelay,
		"effect": effect,
	})
	return nil
}

// IsTargetClosed reports whether target currently denies all calls.
func (m *Manager) IsTargetClosed(target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isTargetClosedLocked(target)
}

func (m *Manager) isTargetClosedLocked(target string) bool {
	rec := m.targets[target]
	return rec != nil && rec.closed
}

// GetTargetFunctionRole returns the role required to call method on
// target. Defaults to AdminRole when never set.
func (m *Manager) GetTargetFunctionRole(target, method string) RoleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetFunctionRoleLocked(target, method)
}

func (m *Manager) targetFunctionRoleLocked(target, method string) RoleID {
	if rec := m.targets[target]; rec != nil {
		if role, ok := rec.functionRoles[method]; ok {
			return role
		}
	}
	return AdminRole
}

// GetTargetAdminDelay returns the target's admin delay currently in
// force.
func (m *Manager) GetTargetAdminDelay(target string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targetAdminDelayLocked(m.clock.Now(), target)
}

func (m *Manager) targetAdminDelayLocked(now time.Time, target string) time.Duration {
	if rec := m.targets[target]; rec != nil {
		return rec.adminDelay.Get(now)
	}
	return 0
}
