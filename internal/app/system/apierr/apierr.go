// Package apierr defines the error taxonomy returned by the JSON API.
//
// Every failure that reaches a client carries a stable machine-readable code
// and an HTTP status. Handlers and middleware return or render *Error values;
// anything else is reported as a generic internal error so no internal detail
// leaks to the caller.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

// Kind groups codes that map to the same class of failure.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindAuthorizationDenied  Kind = "authorization_denied"
	KindReplayDetected       Kind = "replay_detected"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal"
)

// Stable error codes.
const (
	CodeInvalidInput       = "invalid_input"
	CodeTenantRequired     = "tenant_required"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidToken       = "invalid_token"
	CodeTenantMismatch     = "tenant_mismatch"
	CodeTenantMissing      = "tenant_missing"
	CodeUserNotFound       = "user_not_found"
	CodeUserInactive       = "user_inactive"
	CodeNoTenantMembership = "no_tenant_membership"
	CodeTenantNotFound     = "tenant_not_found"
	CodeTenantInactive     = "tenant_inactive"
	CodeInvalidSignature   = "invalid_signature"
	CodeExpiredTimestamp   = "expired_timestamp"
	CodeReplayDetected     = "replay_detected"
	CodeRateLimited        = "rate_limited"
	CodeNotAuthenticated   = "not_authenticated"
	CodeInternal           = "internal_error"
)

// Error is an API-facing failure.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string

	// RetryAfter is sent as a Retry-After header (seconds) when non-zero.
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// Is matches another *Error with the same code so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e carrying a different client message.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

func newErr(kind Kind, status int, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: msg}
}

// Sentinels. Compare with errors.Is; never mutate.
var (
	ErrInvalidInput       = newErr(KindInvalidInput, http.StatusBadRequest, CodeInvalidInput, "Invalid request.")
	ErrTenantRequired     = newErr(KindInvalidInput, http.StatusBadRequest, CodeTenantRequired, "This endpoint must be called on a tenant domain.")
	ErrInvalidCredentials = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid credentials.")
	ErrInvalidToken       = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeInvalidToken, "Invalid or expired token.")
	ErrTenantMismatch     = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeTenantMismatch, "Token was issued for a different tenant.")
	ErrTenantMissing      = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeTenantMissing, "Token carries no tenant.")
	ErrUserNotFound       = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeUserNotFound, "User not found.")
	ErrUserInactive       = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeUserInactive, "User is inactive.")
	ErrNotAuthenticated   = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeNotAuthenticated, "Authentication required.")
	ErrInvalidSignature   = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeInvalidSignature, "Invalid signature.")
	ErrExpiredTimestamp   = newErr(KindAuthenticationFailed, http.StatusUnauthorized, CodeExpiredTimestamp, "Request timestamp outside the allowed window.")
	ErrNoTenantMembership = newErr(KindAuthorizationDenied, http.StatusForbidden, CodeNoTenantMembership, "No active membership for this tenant.")
	ErrTenantInactive     = newErr(KindAuthorizationDenied, http.StatusForbidden, CodeTenantInactive, "Tenant unavailable.")
	ErrTenantNotFound     = newErr(KindAuthorizationDenied, http.StatusNotFound, CodeTenantNotFound, "Tenant not found.")
	ErrReplayDetected     = newErr(KindReplayDetected, http.StatusConflict, CodeReplayDetected, "Request already processed.")
	ErrRateLimited        = newErr(KindRateLimited, http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Please wait and try again.")
	ErrInternal           = newErr(KindInternal, http.StatusInternalServerError, CodeInternal, "Internal server error.")
)

// InvalidInput returns an invalid_input error with a field-specific message.
func InvalidInput(msg string) *Error {
	return ErrInvalidInput.WithMessage(msg)
}

// RateLimited returns a rate_limited error carrying a Retry-After hint.
func RateLimited(retryAfterSeconds int) *Error {
	e := *ErrRateLimited
	e.RetryAfter = retryAfterSeconds
	return &e
}

// From returns the *Error in err's chain, or ErrInternal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

// CodeOf returns the stable code for err ("" for nil).
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Code
}

type body struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write renders err as {"error":{"code","message"}} with its status.
func Write(w http.ResponseWriter, err error) {
	e := From(err)
	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	var b body
	b.Error.Code = e.Code
	b.Error.Message = e.Message
	WriteJSON(w, e.Status, b)
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
