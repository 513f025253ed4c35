package access

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/warden/pkg/audit"
)

// Audit actions emitted by the manager. Each mutation produces exactly
// one event per affected record; operation events carry the nonce as the
// correlation id.
const (
	ActionRoleGranted               = "role.granted"
	ActionRoleRevoked               = "role.revoked"
	ActionRoleLabeled               = "role.labeled"
	ActionRoleAdminChanged          = "role.admin_changed"
	ActionRoleGuardianChanged       = "role.guardian_changed"
	ActionGrantDelayChanged         = "role.grant_delay_changed"
	ActionTargetClosedChanged       = "target.closed_changed"
	ActionTargetFunctionRoleChanged = "target.function_role_changed"
	ActionTargetAdminDelayChanged   = "target.admin_delay_changed"
	ActionAuthorityUpdated          = "target.authority_updated"
	ActionOperationScheduled        = "operation.scheduled"
	ActionOperationExecuted         = "operation.executed"
	ActionOperationCanceled         = "operation.canceled"
)

func (m *Manager) emit(ctx context.Context, action, resource string, metadata map[string]any) {
	if m.audit == nil {
		return
	}
	_ = m.audit.Record(ctx, audit.EventMutation, action, resource, metadata)
}

func roleResource(role RoleID) string {
	return fmt.Sprintf("role/%d", role)
}

func targetResource(target string) string {
	return "target/" + target
}

func operationResource(operationID string) string {
	return "operation/" + operationID
}
