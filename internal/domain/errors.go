package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable, enumerable code surfaced to the originating
// connection. Wording never reveals which credential factor failed.
type ErrorCode string

const (
	CodeInvalidCredentials ErrorCode = "invalid-credentials"
	CodeEmailInUse         ErrorCode = "email-in-use"
	CodeAccessDenied       ErrorCode = "access-denied"
	CodeForbidden          ErrorCode = "forbidden"
	CodeNotFound           ErrorCode = "not-found"
	CodeBadPayload         ErrorCode = "bad-payload"
	CodeUnavailable        ErrorCode = "unavailable"
)

// AuthError covers bad credentials, duplicate email and banned accounts.
type AuthError struct {
	Code ErrorCode
}

func (e *AuthError) Error() string { return "auth: " + string(e.Code) }

// AuthorizationError marks a role-hierarchy violation. The guarded action
// is never partially applied.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return "authorization: " + e.Reason }

// NotFoundError marks a missing connection, identity, message or channel.
// Most call sites treat it as a silent no-op.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Kind, e.Key) }

// ValidationError marks a malformed room key or payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

// CollaboratorError wraps a failed call to an external collaborator
// (store, auth provider). Read paths degrade to empty results; write
// paths surface it to the sender.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string { return "collaborator: " + e.Op + ": " + e.Err.Error() }
func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a NotFoundError anywhere in its chain.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// WireCode maps an error to the code sent to the client.
func WireCode(err error) ErrorCode {
	var (
		ae *AuthError
		ze *AuthorizationError
		nf *NotFoundError
		ve *ValidationError
		ce *CollaboratorError
	)
	switch {
	case errors.As(err, &ae):
		return ae.Code
	case errors.As(err, &ze):
		return CodeForbidden
	case errors.As(err, &nf):
		return CodeNotFound
	case errors.As(err, &ve):
		return CodeBadPayload
	case errors.As(err, &ce):
		return CodeUnavailable
	default:
		return CodeUnavailable
	}
}
