// Package apperr defines the error taxonomy shared by the messaging core.
//
// Components wrap one of the sentinels with context using fmt.Errorf and %w.
// The gateway maps any wrapped error back to a stable client code with Code.
package apperr

import "errors"

var (
	// ErrNotFound indicates an identity, message, notification or community is absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates a blocked sender or an unauthorized read/update.
	ErrForbidden = errors.New("forbidden")
	// ErrIntegrity indicates an authentication tag mismatch or a malformed envelope.
	ErrIntegrity = errors.New("integrity check failed")
	// ErrPreconditionFailed indicates a required identity is missing before a stateful operation.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInvalidArgument indicates a malformed or incomplete request payload.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthorized indicates a connection failed authentication.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited indicates the caller exceeded its event budget.
	ErrRateLimited = errors.New("rate limited")
)

// Client-facing failure codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeIntegrity          = "INTEGRITY_ERROR"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrIntegrity, CodeIntegrity},
	{ErrPreconditionFailed, CodePreconditionFailed},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrRateLimited, CodeRateLimited},
}

// Code returns the client-facing code for err. Unknown errors map to INTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// PublicMessage returns text that is safe to send to a client.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if Code(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
