package access

import (
	"context"
	"encoding/json"
	"fmt"
)

// RegisterTarget binds a target implementation to a name so Execute can
// dispatch calls to it. Re-registering a name replaces the previous
// binding; the manager's own name is reserved.
func (m *Manager) RegisterTarget(name string, target Target) error {
	if name == SelfTarget {
		return &LockedAccountError{Account: name}
	}
	if target == nil {
		return fmt.Errorf("access: nil target %q", name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry[name] = target
	return nil
}

// Execute runs call as caller through the authority. Immediate callers
// proceed directly; delayed callers must have scheduled this exact
// operation and its timepoint must be due and unexpired. Any due
// schedule for the operation is consumed before dispatch, so a failing
// target does not leave a replayable schedule behind. Returns the
// schedule nonce that was consumed, or 0 for a purely immediate call.
func (m *Manager) Execute(ctx context.Context, caller string, call Call) (uint64, error) {
	operationID, err := hashOperation(caller, call)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	now := m.clock.Now()

	immediate, setback := m.canCallExtendedLocked(now, caller, call)
	if !immediate && setback == 0 {
		reason := m.denialReasonLocked(call)
		m.mu.Unlock()
		return 0, &UnauthorizedCallError{Caller: caller, Target: call.Target, Method: call.Method, Reason: reason}
	}

	target, ok := m.registry[call.Target]
	if !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: %q", ErrTargetNotRegistered, call.Target)
	}

	var nonce uint64
	if setback > 0 || !m.effectiveScheduleLocked(now, operationID).IsZero() {
		nonce, err = m.consumeLocked(ctx, now, caller, call, operationID)
		if err != nil {
			m.mu.Unlock()
			return 0, err
		}
	}

	// The frame authorizes exactly one relayed (SelfTarget, method)
	// invocation while the lock is released for dispatch; targets may
	// reenter the manager from Execute. The frame is removed by
	// identity in a defer: a panicking target must not leave the
	// relayer trusted, and a concurrent Execute returning out of
	// order must not strip another dispatch's frame.
	frame := &execFrame{target: call.Target, method: call.Method}
	m.execStack = append(m.execStack, frame)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.dropFrameLocked(frame)
		m.mu.Unlock()
	}()

	execErr := target.Execute(ctx, call.Method, call.Args)
	return nonce, execErr
}

func (m *Manager) dropFrameLocked(frame *execFrame) {
	for i := len(m.execStack) - 1; i >= 0; i-- {
		if m.execStack[i] == frame {
			m.execStack = append(m.execStack[:i], m.execStack[i+1:]...)
			return
		}
	}
}

// isExecutingLocked reports whether the innermost in-flight dispatch is
// for exactly (target, method). Only that frame is trusted for relayed
// self-calls.
func (m *Manager) isExecutingLocked(target, method string) bool {
	if len(m.execStack) == 0 {
		return false
	}
	top := m.execStack[len(m.execStack)-1]
	return top.target == target && top.method == method
}

// UpdateAuthority points a managed target at a new authority. The
// target drops out of this manager's enforcement from its own side;
// the manager's records about it are left untouched.
func (m *Manager) UpdateAuthority(ctx context.Context, caller, target, newAuthority string) error {
	call, err := SelfCall(MethodUpdateAuthority, UpdateAuthorityArgs{Target: target, Authority: newAuthority})
	if err != nil {
		return err
	}

	m.mu.Lock()
	now := m.clock.Now()
	if err := m.checkAuthorizedLocked(ctx, now, caller, call); err != nil {
		m.mu.Unlock()
		return err
	}
	if target == SelfTarget {
		m.mu.Unlock()
		return &LockedAccountError{Account: target}
	}
	t, ok := m.registry[target]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTargetNotRegistered, target)
	}
	m.emit(ctx, ActionAuthorityUpdated, targetResource(target), map[string]any{"authority": newAuthority})
	m.mu.Unlock()

	return t.SetAuthority(ctx, newAuthority)
}

// selfTarget is the manager's own administrative surface, registered
// under SelfTarget. Execute dispatches relayed admin calls back into
// the manager with the relayer identity as caller; the per-method
// authorization check then trusts the matching execution frame.
type selfTarget struct {
	m *Manager
}

func (s *selfTarget) Execute(ctx context.Context, method string, args json.RawMessage) error {
	switch method {
	case MethodLabelRole:
		var a LabelRoleArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.LabelRole(ctx, SelfTarget, a.Role, a.Label)
	case MethodSetRoleAdmin:
		var a SetRoleAdminArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.SetRoleAdmin(ctx, SelfTarget, a.Role, a.Admin)
	case MethodSetRoleGuardian:
		var a SetRoleGuardianArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.SetRoleGuardian(ctx, SelfTarget, a.Role, a.Guardian)
	case MethodSetGrantDelay:
		var a SetGrantDelayArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.SetGrantDelay(ctx, SelfTarget, a.Role, a.Delay)
	case MethodGrantRole:
		var a GrantRoleArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		_, err := s.m.GrantRole(ctx, SelfTarget, a.Role, a.Account, a.ExecutionDelay)
		return err
	case MethodRevokeRole:
		var a RevokeRoleArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.RevokeRole(ctx, SelfTarget, a.Role, a.Account)
	case MethodSetTargetClosed:
		var a SetTargetClosedArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.SetTargetClosed(ctx, SelfTarget, a.Target, a.Closed)
	case MethodSetTargetFunctionRole:
		var a SetTargetFunctionRoleArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.SetTargetFunctionRole(ctx, SelfTarget, a.Target, a.Methods, a.Role)
	case MethodSetTargetAdminDelay:
		var a SetTargetAdminDelayArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.SetTargetAdminDelay(ctx, SelfTarget, a.Target, a.Delay)
	case MethodUpdateAuthority:
		var a UpdateAuthorityArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return err
		}
		return s.m.UpdateAuthority(ctx, SelfTarget, a.Target, a.Authority)
	default:
		return &UnauthorizedCallError{Caller: SelfTarget, Target: SelfTarget, Method: method, Reason: DenialMissingRole}
	}
}

func (s *selfTarget) SetAuthority(ctx context.Context, authority string) error {
	return &LockedAccountError{Account: SelfTarget}
}

func (s *selfTarget) IsConsumingScheduledOp() bool { return false }
