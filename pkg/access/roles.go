package access

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/delay"
)

// LabelRole attaches a human-readable label to role. Idempotent,
// overwrites. AdminRole and PublicRole cannot be relabeled.
func (m *Manager) LabelRole(ctx context.Context, caller string, role RoleID, label string) error {
	call, err := SelfCall(MethodLabelRole, LabelRoleArgs{Role: role, Label: label})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	if role == AdminRole || role == PublicRole {
		return &LockedRoleError{Role: role}
	}
	m.roleMut(role).label = label
	m.emit(ctx, ActionRoleLabeled, roleResource(role), map[string]any{"label": label})
	return nil
}

// SetRoleAdmin changes the role allowed to grant and revoke membership
// in role.
func (m *Manager) SetRoleAdmin(ctx context.Context, caller string, role, admin RoleID) error {
	call, err := SelfCall(MethodSetRoleAdmin, SetRoleAdminArgs{Role: role, Admin: admin})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	if role == AdminRole || role == PublicRole {
		return &LockedRoleError{Role: role}
	}
	m.roleMut(role).admin = admin
	m.emit(ctx, ActionRoleAdminChanged, roleResource(role), map[string]any{"admin": admin})
	return nil
}

// SetRoleGuardian changes the role allowed to cancel scheduled
// operations that require role.
func (m *Manager) SetRoleGuardian(ctx context.Context, caller string, role, guardian RoleID) error {
	call, err := SelfCall(MethodSetRoleGuardian, SetRoleGuardianArgs{Role: role, Guardian: guardian})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	if role == AdminRole || role == PublicRole {
		return &LockedRoleError{Role: role}
	}
	m.roleMut(role).guardian = guardian
	m.emit(ctx, ActionRoleGuardianChanged, roleResource(role), map[string]any{"guardian": guardian})
	return nil
}

// SetGrantDelay changes the wait between granting role and the
// membership taking effect. Decreases are deferred by the setback
// algebra; the grant delay of AdminRole is fixed and PublicRole cannot
// have one.
func (m *Manager) SetGrantDelay(ctx context.Context, caller string, role RoleID, newDelay time.Duration) error {
	call, err := SelfCall(MethodSetGrantDelay, SetGrantDelayArgs{Role: role, Delay: newDelay})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	if role == AdminRole || role == PublicRole {
		return &LockedRoleError{Role: role}
	}

	rec := m.roleMut(role)
	var effect time.Time
	rec.grant, effect = rec.grant.WithUpdate(now, newDelay, MinSetback)
	m.emit(ctx, ActionGrantDelayChanged, roleResource(role), map[string]any{
		"delay":  newDelay,
		"effect": effect,
	})
	return nil
}

// GrantRole grants role to account with the given execution delay, and
// reports whether this created a new membership. Requires the caller to
// hold the role's admin role.
//
// New members become effective after the role's grant delay; their
// execution delay applies immediately. Re-granting an existing member
// only updates the execution delay: increases apply immediately,
// decreases are deferred by the setback algebra. The stored membership
// timestamp, once set, is never moved by later grant-delay changes.
func (m *Manager) GrantRole(ctx context.Context, caller string, role RoleID, account string, executionDelay time.Duration) (bool, error) {
	call, err := SelfCall(MethodGrantRole, GrantRoleArgs{Role: role, Account: account, ExecutionDelay: executionDelay})
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return false, err
	}
	grantDelay := m.roleGrantDelayLocked(now, role)
	return m.grantRoleLocked(ctx, now, role, account, grantDelay, executionDelay)
}

func (m *Manager) grantRoleLocked(ctx context.Context, now time.Time, role RoleID, account string, grantDelay, executionDelay time.Duration) (bool, error) {
	if role == PublicRole {
		return false, &LockedRoleError{Role: role}
	}

	rec := m.roleMut(role)
	entry := rec.members[account]
	newMember := entry == nil || entry.since.IsZero()

	var since time.Time
	if newMember {
		since = now.Add(grantDelay)
		rec.members[account] = &accessRecord{since: since, delay: delay.For(executionDelay)}
	} else {
		since = entry.since
		entry.delay, _ = entry.delay.WithUpdate(now, executionDelay, MinSetback)
	}

	m.emit(ctx, ActionRoleGranted, roleResource(role), map[string]any{
		"account":    account,
		"since":      since,
		"delay":      executionDelay,
		"new_member": newMember,
	})
	return newMember, nil
}

// RevokeRole removes role from account, zeroing its access entry.
// Requires the caller to hold the role's admin role. Revoking a role
// the account does not have is a no-op.
func (m *Manager) RevokeRole(ctx context.Context, caller string, role RoleID, account string) error {
	call, err := SelfCall(MethodRevokeRole, RevokeRoleArgs{Role: role, Account: account})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		return err
	}
	_, err = m.revokeRoleLocked(ctx, role, account)
	return err
}

// RenounceRole lets an account give up a role it holds. The
// confirmation must repeat the caller's own identity to guard against
// calls meant for another signature.
func (m *Manager) RenounceRole(ctx context.Context, caller string, role RoleID, callerConfirmation string) error {
	if callerConfirmation != caller {
		return &BadConfirmationError{Caller: caller, Confirmation: callerConfirmation}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.revokeRoleLocked(ctx, role, caller)
	return err
}

func (m *Manager) revokeRoleLocked(ctx context.Context, role RoleID, account string) (bool, error) {
	if role == PublicRole {
		return false, &LockedRoleError{Role: role}
	}
	rec := m.roles[role]
	if rec == nil {
		return false, nil
	}
	entry := rec.members[account]
	if entry == nil || entry.since.IsZero() {
		return false, nil
	}
	delete(rec.members, account)
	m.emit(ctx, ActionRoleRevoked, roleResource(role), map[string]any{"account": account})
	return true, nil
}
