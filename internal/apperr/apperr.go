// Package apperr defines the reason codes shared by every domain package.
//
// Domain packages declare their sentinel errors with New, and typed errors
// unwrap to one of those sentinels, so CodeOf can classify any error chain
// produced by the core without importing the domain packages.
package apperr

import "github.com/go-faster/errors"

// Code is a machine-readable failure reason surfaced to callers.
type Code string

const (
	NotFound           Code = "NOT_FOUND"
	BadStatus          Code = "BAD_STATUS"
	BadState           Code = "BAD_STATE"
	Validation         Code = "VALIDATION_ERROR"
	GatewayUnavailable Code = "GATEWAY_UNAVAILABLE"
	BadSignature       Code = "BAD_SIGNATURE"
	BadPayload         Code = "BAD_PAYLOAD"
	Conflict           Code = "CONFLICT"
	// Internal is returned by CodeOf for errors that carry no code.
	Internal Code = "INTERNAL"
)

// Error is a coded error. Values are compared by identity, so declare them
// once as package-level sentinels.
type Error struct {
	Code Code
	Msg  string
}

// New returns a coded sentinel error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func (e *Error) Error() string {
	return e.Msg
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
