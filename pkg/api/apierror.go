// Package api exposes the access authority over HTTP. Error responses
// use RFC 7807 Problem Details.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/warden/pkg/access"
	"github.com/Mindburn-Labs/warden/pkg/managed"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// Reason carries the machine-readable denial reason when the
	// authority refused a call.
	Reason string `json:"reason,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://warden.mindburn.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, problem *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but NEVER exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteAuthorityError maps an authority error to a Problem Detail.
// Authorization failures become 403, scheduling conflicts 409, input
// mistakes 400, unknown targets 404; anything unrecognized is a 500.
func WriteAuthorityError(w http.ResponseWriter, err error) {
	var (
		unauthorizedCall    *access.UnauthorizedCallError
		unauthorizedAccount *access.UnauthorizedAccountError
		unauthorizedCancel  *access.UnauthorizedCancelError
		unauthorizedConsume *access.UnauthorizedConsumeError
		managedUnauthorized *managed.UnauthorizedError
		lockedRole          *access.LockedRoleError
		lockedAccount       *access.LockedAccountError
		badConfirmation     *access.BadConfirmationError
		alreadyScheduled    *access.AlreadyScheduledError
	)

	problem := &ProblemDetail{Detail: err.Error()}
	switch {
	case errors.As(err, &unauthorizedCall):
		problem.Status = http.StatusForbidden
		problem.Title = "Forbidden"
		problem.Reason = string(unauthorizedCall.Reason)
	case errors.As(err, &unauthorizedAccount),
		errors.As(err, &unauthorizedCancel),
		errors.As(err, &unauthorizedConsume),
		errors.As(err, &managedUnauthorized):
		problem.Status = http.StatusForbidden
		problem.Title = "Forbidden"
	case errors.As(err, &lockedRole), errors.As(err, &lockedAccount):
		problem.Status = http.StatusForbidden
		problem.Title = "Locked"
	case errors.As(err, &badConfirmation):
		problem.Status = http.StatusBadRequest
		problem.Title = "Bad Request"
	case errors.As(err, &alreadyScheduled):
		problem.Status = http.StatusConflict
		problem.Title = "Conflict"
	case errors.Is(err, access.ErrTargetNotRegistered):
		problem.Status = http.StatusNotFound
		problem.Title = "Not Found"
	default:
		WriteInternal(w, err)
		return
	}
	problem.Type = fmt.Sprintf("https://warden.mindburn.dev/errors/%d", problem.Status)
	writeProblem(w, problem)
}
