// Package handlers defines the HTTP-layer error codes shared by all
// endpoints. Codes are lowercase snake_case; generic ones mirror HTTP status
// semantics, the rest name a failed operation.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeListFailed       = "list_failed"
	ErrCodeReloadFailed     = "reload_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
