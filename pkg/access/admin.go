package access

import (
	"context"
	"encoding/json"
	"time"
)

// Methods of the manager's own administrative surface. Self-calls built
// with SelfCall use these names, and the classifier below decides how
// each is gated.
const (
	MethodLabelRole             = "labelRole"
	MethodSetRoleAdmin          = "setRoleAdmin"
	MethodSetRoleGuardian       = "setRoleGuardian"
	MethodSetGrantDelay         = "setGrantDelay"
	MethodGrantRole             = "grantRole"
	MethodRevokeRole            = "revokeRole"
	MethodSetTargetClosed       = "setTargetClosed"
	MethodSetTargetFunctionRole = "setTargetFunctionRole"
	MethodSetTargetAdminDelay   = "setTargetAdminDelay"
	MethodUpdateAuthority       = "updateAuthority"
)

// Argument payloads for self-calls. Callers scheduling or executing an
// administrative operation marshal these into Call.Args.
type (
	LabelRoleArgs struct {
		Role  RoleID `json:"role"`
		Label string `json:"label"`
	}
	SetRoleAdminArgs struct {
		Role  RoleID `json:"role"`
		Admin RoleID `json:"admin"`
	}
	SetRoleGuardianArgs struct {
		Role     RoleID `json:"role"`
		Guardian RoleID `json:"guardian"`
	}
	SetGrantDelayArgs struct {
		Role  RoleID        `json:"role"`
		Delay time.Duration `json:"delay"`
	}
	GrantRoleArgs struct {
		Role           RoleID        `json:"role"`
		Account        string        `json:"account"`
		ExecutionDelay time.Duration `json:"execution_delay"`
	}
	RevokeRoleArgs struct {
		Role    RoleID `json:"role"`
		Account string `json:"account"`
	}
	SetTargetClosedArgs struct {
		Target string `json:"target"`
		Closed bool   `json:"closed"`
	}
	SetTargetFunctionRoleArgs struct {
		Target  string   `json:"target"`
		Methods []string `json:"methods"`
		Role    RoleID   `json:"role"`
	}
	SetTargetAdminDelayArgs struct {
		Target string        `json:"target"`
		Delay  time.Duration `json:"delay"`
	}
	UpdateAuthorityArgs struct {
		Target    string `json:"target"`
		Authority string `json:"authority"`
	}
)

// SelfCall builds a Call against the manager's own administrative
// surface. Use it to schedule, execute or cancel delayed admin
// operations.
func SelfCall(method string, args any) (Call, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Call{}, err
	}
	return Call{Target: SelfTarget, Method: method, Args: raw}, nil
}

// AdminOpKind classifies a call on the manager's own surface. The
// classification happens once at the call boundary instead of being
// re-derived from the method name at every check.
type AdminOpKind int

const (
	// OpNotAdministrative: not a recognized admin method; self-calls
	// to it are always denied.
	OpNotAdministrative AdminOpKind = iota

	// OpAdminDirect: gated only on the required role (the subject
	// role's admin for grant/revoke, AdminRole otherwise), with no
	// delay floor beyond the caller's own execution delay.
	OpAdminDirect

	// OpAdminDelayed: requires AdminRole and additionally respects the
	// relevant target's admin delay as a floor on the effective
	// execution delay.
	OpAdminDelayed
)

// ClassifyAdminOp returns the kind of an administrative method.
func ClassifyAdminOp(method string) AdminOpKind {
	switch method {
	case MethodUpdateAuthority, MethodSetTargetClosed, MethodSetTargetFunctionRole,
		MethodGrantRole, MethodRevokeRole:
		return OpAdminDirect
	case MethodLabelRole, MethodSetRoleAdmin, MethodSetRoleGuardian,
		MethodSetGrantDelay, MethodSetTargetAdminDelay:
		return OpAdminDelayed
	default:
		return OpNotAdministrative
	}
}

type adminRestriction struct {
	restricted bool
	role       RoleID
	delay      time.Duration // admin-delay floor for delayed ops
}

// adminRestrictionsLocked resolves the role and delay floor governing
// an admin self-call. For role-scoped delayed operations the relevant
// admin delay is the manager's own; setTargetAdminDelay uses the delay
// of the target it mutates.
func (m *Manager) adminRestrictionsLocked(now time.Time, call Call) adminRestriction {
	switch ClassifyAdminOp(call.Method) {
	case OpAdminDirect:
		switch call.Method {
		case MethodGrantRole:
			var a GrantRoleArgs
			if err := json.Unmarshal(call.Args, &a); err != nil {
				return adminRestriction{}
			}
			return adminRestriction{restricted: true, role: m.roleAdminLocked(a.Role)}
		case MethodRevokeRole:
			var a RevokeRoleArgs
			if err := json.Unmarshal(call.Args, &a); err != nil {
				return adminRestriction{}
			}
			return adminRestriction{restricted: true, role: m.roleAdminLocked(a.Role)}
		default:
			return adminRestriction{restricted: true, role: AdminRole}
		}
	case OpAdminDelayed:
		adminTarget := SelfTarget
		if call.Method == MethodSetTargetAdminDelay {
			var a SetTargetAdminDelayArgs
			if err := json.Unmarshal(call.Args, &a); err != nil {
				return adminRestriction{}
			}
			adminTarget = a.Target
		}
		return adminRestriction{
			restricted: true,
			role:       AdminRole,
			delay:      m.targetAdminDelayLocked(now, adminTarget),
		}
	default:
		return adminRestriction{}
	}
}

// canCallSelfLocked is the canCall variant for calls on the manager's
// own surface. The effective delay is the greater of the caller's
// execution delay and the operation's admin-delay floor.
func (m *Manager) canCallSelfLocked(now time.Time, caller string, call Call) (bool, time.Duration) {
	if caller == SelfTarget {
		return m.isExecutingLocked(call.Target, call.Method), 0
	}
	restriction := m.adminRestrictionsLocked(now, call)
	if !restriction.restricted {
		return false, 0
	}
	member, executionDelay := m.hasRoleLocked(now, restriction.role, caller)
	if !member {
		return false, 0
	}
	effective := executionDelay
	if restriction.delay > effective {
		effective = restriction.delay
	}
	return effective == 0, effective
}

// canCallExtendedLocked routes to the self variant for calls targeting
// the manager itself.
func (m *Manager) canCallExtendedLocked(now time.Time, caller string, call Call) (bool, time.Duration) {
	if call.Target == SelfTarget {
		return m.canCallSelfLocked(now, caller, call)
	}
	return m.canCallLocked(now, caller, call.Target, call.Method)
}

// checkAuthorizedLocked gates the manager's own setters. An immediate
// caller proceeds; a delayed caller must have a due schedule for this
// exact call, which is consumed here; anyone else is rejected with the
// required role.
func (m *Manager) checkAuthorizedLocked(ctx context.Context, now time.Time, caller string, call Call) error {
	immediate, setback := m.canCallSelfLocked(now, caller, call)
	if immediate {
		return nil
	}
	if setback == 0 {
		restriction := m.adminRestrictionsLocked(now, call)
		return &UnauthorizedAccountError{Account: caller, Role: restriction.role}
	}
	operationID, err := hashOperation(caller, call)
	if err != nil {
		return err
	}
	_, err = m.consumeLocked(ctx, now, caller, call, operationID)
	return err
}
