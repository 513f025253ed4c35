package access

import (
	"errors"
	"fmt"
)

// DenialReason categorizes why a call was refused, so callers and
// off-chain tooling can distinguish causes programmatically.
type DenialReason string

const (
	DenialTargetClosed DenialReason = "TARGET_CLOSED"
	DenialMissingRole  DenialReason = "MISSING_ROLE"
	DenialNotDelayed   DenialReason = "NOT_DELAYED"
	DenialTooEarly     DenialReason = "SCHEDULE_TOO_EARLY"
	DenialNotScheduled DenialReason = "NOT_SCHEDULED"
	DenialNotReady     DenialReason = "NOT_READY"
	DenialExpired      DenialReason = "EXPIRED"
)

// ErrTargetNotRegistered is returned when a call is dispatched to a
// target name with no registered implementation.
var ErrTargetNotRegistered = errors.New("access: target not registered")

// UnauthorizedCallError reports that canCall denied a call outright, or
// that a delayed path was attempted without a valid, due schedule.
type UnauthorizedCallError struct {
	Caller string
	Target string
	Method string
	Reason DenialReason
}

func (e *UnauthorizedCallError) Error() string {
	return fmt.Sprintf("access: caller %q may not call %s.%s: %s", e.Caller, e.Target, e.Method, e.Reason)
}

// UnauthorizedAccountError reports that an account attempted an
// administrative operation without holding the required role.
type UnauthorizedAccountError struct {
	Account string
	Role    RoleID
}

func (e *UnauthorizedAccountError) Error() string {
	return fmt.Sprintf("access: account %q does not hold required role %d", e.Account, e.Role)
}

// UnauthorizedCancelError reports a cancel attempt by an account that is
// neither the original scheduler nor a guardian or admin of the
// required role.
type UnauthorizedCancelError struct {
	Canceller string
	Caller    string
	Target    string
	Method    string
}

func (e *UnauthorizedCancelError) Error() string {
	return fmt.Sprintf("access: %q may not cancel operation by %q on %s.%s", e.Canceller, e.Caller, e.Target, e.Method)
}

// UnauthorizedConsumeError reports a consumeScheduledOp invocation by
// something other than the target of the operation.
type UnauthorizedConsumeError struct {
	Target string
}

func (e *UnauthorizedConsumeError) Error() string {
	return fmt.Sprintf("access: target %q may not consume this scheduled operation", e.Target)
}

// LockedRoleError reports an attempted mutation of a protected role.
type LockedRoleError struct {
	Role RoleID
}

func (e *LockedRoleError) Error() string {
	return fmt.Sprintf("access: role %d is locked", e.Role)
}

// LockedAccountError reports an attempted mutation of a protected
// account, such as closing the manager itself.
type LockedAccountError struct {
	Account string
}

func (e *LockedAccountError) Error() string {
	return fmt.Sprintf("access: account %q is locked", e.Account)
}

// BadConfirmationError reports a renounce call whose confirmation does
// not match the calling account.
type BadConfirmationError struct {
	Caller       string
	Confirmation string
}

func (e *BadConfirmationError) Error() string {
	return fmt.Sprintf("access: confirmation %q does not match caller %q", e.Confirmation, e.Caller)
}

// InvalidInitialAdminError reports construction with an empty initial
// admin account.
type InvalidInitialAdminError struct{}

func (e *InvalidInitialAdminError) Error() string {
	return "access: initial admin must not be empty"
}

// AlreadyScheduledError reports an attempt to schedule an operation that
// already has an unexpired schedule. Cancel it or let it expire first.
type AlreadyScheduledError struct {
	OperationID string
}

func (e *AlreadyScheduledError) Error() string {
	return fmt.Sprintf("access: operation %s is already scheduled", e.OperationID)
}
