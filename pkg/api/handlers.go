package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/warden/pkg/access"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInfo publishes the authority's public contract constants so
// clients can interpret schedules without hardcoding them.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"admin_role":  access.AdminRole,
		"public_role": access.PublicRole,
		"min_setback": access.MinSetback.String(),
		"expiration":  access.Expiration.String(),
		"self_target": access.SelfTarget,
	})
}

func (s *Server) handleCanCall(w http.ResponseWriter, r *http.Request) {
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		var err error
		caller, err = CallerFrom(r.Context())
		if err != nil {
			WriteBadRequest(w, "caller query parameter or authenticated identity required")
			return
		}
	}
	target := r.URL.Query().Get("target")
	method := r.URL.Query().Get("method")
	if target == "" || method == "" {
		WriteBadRequest(w, "target and method query parameters are required")
		return
	}

	start := time.Now()
	immediate, delay := s.manager.CanCall(r.Context(), caller, target, method)
	if s.obs != nil {
		s.obs.RecordDecision(r.Context(), target, method, immediate, time.Since(start))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"caller":    caller,
		"target":    target,
		"method":    method,
		"immediate": immediate,
		"delay":     delay.String(),
	})
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roles": s.manager.Roles()})
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"label":       s.manager.RoleLabel(role),
		"admin":       s.manager.GetRoleAdmin(role),
		"guardian":    s.manager.GetRoleGuardian(role),
		"grant_delay": s.manager.GetRoleGrantDelay(role).String(),
		"members":     s.manager.Members(role),
	})
}

func (s *Server) handleGetAccess(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	account := r.PathValue("account")
	acc := s.manager.GetAccess(role, account)
	member, delay := s.manager.HasRole(role, account)
	writeJSON(w, http.StatusOK, map[string]any{
		"role":            role,
		"account":         account,
		"member":          member,
		"since":           acc.Since,
		"current_delay":   acc.CurrentDelay.String(),
		"pending_delay":   acc.PendingDelay.String(),
		"pending_effect":  acc.PendingEffect,
		"effective_delay": delay.String(),
	})
}

func (s *Server) handleLabelRole(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Label string `json:"label"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.LabelRole(r.Context(), caller, role, body.Label); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "label": body.Label})
}

func (s *Server) handleSetRoleAdmin(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Admin access.RoleID `json:"admin"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.SetRoleAdmin(r.Context(), caller, role, body.Admin); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "admin": body.Admin})
}

func (s *Server) handleSetRoleGuardian(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Guardian access.RoleID `json:"guardian"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.SetRoleGuardian(r.Context(), caller, role, body.Guardian); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "guardian": body.Guardian})
}

func (s *Server) handleSetGrantDelay(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Delay string `json:"delay"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	delay, err := time.ParseDuration(body.Delay)
	if err != nil {
		WriteBadRequest(w, "invalid delay: "+err.Error())
		return
	}
	if err := s.manager.SetGrantDelay(r.Context(), caller, role, delay); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "grant_delay": delay.String()})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Account        string `json:"account"`
		ExecutionDelay string `json:"execution_delay"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	var execDelay time.Duration
	if body.ExecutionDelay != "" {
		var err error
		execDelay, err = time.ParseDuration(body.ExecutionDelay)
		if err != nil {
			WriteBadRequest(w, "invalid execution_delay: "+err.Error())
			return
		}
	}
	newMember, err := s.manager.GrantRole(r.Context(), caller, role, body.Account, execDelay)
	if err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":       role,
		"account":    body.Account,
		"new_member": newMember,
	})
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Account string `json:"account"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.RevokeRole(r.Context(), caller, role, body.Account); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "account": body.Account})
}

func (s *Server) handleRenounceRole(w http.ResponseWriter, r *http.Request) {
	role, ok := rolePathValue(w, r)
	if !ok {
		return
	}
	var body struct {
		Confirmation string `json:"confirmation"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.RenounceRole(r.Context(), caller, role, body.Confirmation); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"role": role, "account": caller})
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	writeJSON(w, http.StatusOK, map[string]any{
		"target":      target,
		"closed":      s.manager.IsTargetClosed(target),
		"admin_delay": s.manager.GetTargetAdminDelay(target).String(),
	})
}

func (s *Server) handleGetFunctionRole(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	method := r.PathValue("method")
	writeJSON(w, http.StatusOK, map[string]any{
		"target": target,
		"method": method,
		"role":   s.manager.GetTargetFunctionRole(target, method),
	})
}

func (s *Server) handleSetTargetClosed(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	var body struct {
		Closed bool `json:"closed"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.SetTargetClosed(r.Context(), caller, target, body.Closed); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "closed": body.Closed})
}

func (s *Server) handleSetFunctionRole(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	var body struct {
		Methods []string      `json:"methods"`
		Role    access.RoleID `json:"role"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if len(body.Methods) == 0 {
		WriteBadRequest(w, "methods must not be empty")
		return
	}
	if err := s.manager.SetTargetFunctionRole(r.Context(), caller, target, body.Methods, body.Role); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "methods": body.Methods, "role": body.Role})
}

func (s *Server) handleSetTargetAdminDelay(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	var body struct {
		Delay string `json:"delay"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	delay, err := time.ParseDuration(body.Delay)
	if err != nil {
		WriteBadRequest(w, "invalid delay: "+err.Error())
		return
	}
	if err := s.manager.SetTargetAdminDelay(r.Context(), caller, target, delay); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "admin_delay": delay.String()})
}

func (s *Server) handleUpdateAuthority(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	var body struct {
		Authority string `json:"authority"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if err := s.manager.UpdateAuthority(r.Context(), caller, target, body.Authority); err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "authority": body.Authority})
}

func (s *Server) handleHashOperation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string      `json:"caller"`
		Call   access.Call `json:"call"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	if body.Caller != "" {
		caller = body.Caller
	}
	operationID, err := s.manager.HashOperation(caller, body.Call)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation_id": operationID})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Call access.Call `json:"call"`
		When time.Time   `json:"when"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	operationID, nonce, err := s.manager.Schedule(r.Context(), caller, body.Call, body.When)
	if err != nil {
		s.recordDenial(r.Context(), err)
		WriteAuthorityError(w, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordScheduled(r.Context(), body.Call.Target, body.Call.Method)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operation_id": operationID,
		"nonce":        nonce,
		"schedule":     s.manager.GetSchedule(operationID),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Call access.Call `json:"call"`
	}
	caller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	start := time.Now()
	nonce, err := s.manager.Execute(r.Context(), caller, body.Call)
	if err != nil {
		s.recordDenial(r.Context(), err)
		WriteAuthorityError(w, err)
		return
	}
	if s.obs != nil {
		s.obs.RecordDecision(r.Context(), body.Call.Target, body.Call.Method, true, time.Since(start))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nonce": nonce})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string      `json:"caller"`
		Call   access.Call `json:"call"`
	}
	canceller, ok := decodeMutation(w, r, &body)
	if !ok {
		return
	}
	scheduler := body.Caller
	if scheduler == "" {
		scheduler = canceller
	}
	nonce, err := s.manager.Cancel(r.Context(), canceller, scheduler, body.Call)
	if err != nil {
		WriteAuthorityError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nonce": nonce})
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	operationID := r.PathValue("id")
	schedule := s.manager.GetSchedule(operationID)
	nonce := s.manager.GetNonce(operationID)
	if schedule.IsZero() && nonce == 0 {
		WriteNotFound(w, "operation was never scheduled")
		return
	}
	resp := map[string]any{"operation_id": operationID, "nonce": nonce, "scheduled": !schedule.IsZero()}
	if !schedule.IsZero() {
		resp["schedule"] = schedule
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		WriteNotFound(w, "audit trail persistence is not enabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.events.List(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) recordDenial(ctx context.Context, err error) {
	if s.obs == nil {
		return
	}
	var denied *access.UnauthorizedCallError
	if errors.As(err, &denied) {
		s.obs.RecordDenial(ctx, denied.Target, denied.Method, string(denied.Reason))
	}
}

// decodeMutation resolves the authenticated caller and decodes the
// request body in one step; every mutating handler starts with it.
func decodeMutation(w http.ResponseWriter, r *http.Request, body any) (string, bool) {
	caller, err := CallerFrom(r.Context())
	if err != nil {
		WriteUnauthorized(w, "")
		return "", false
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(body); err != nil {
			WriteBadRequest(w, "invalid JSON body: "+err.Error())
			return "", false
		}
	}
	return caller, true
}

func rolePathValue(w http.ResponseWriter, r *http.Request) (access.RoleID, bool) {
	role, err := strconv.ParseUint(r.PathValue("role"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "role must be an unsigned integer")
		return 0, false
	}
	return access.RoleID(role), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
