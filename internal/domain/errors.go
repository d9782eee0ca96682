package domain

import (
	"errors"
	"fmt"
)

// The hub's error taxonomy. Handlers map these onto scoped error events;
// only AuthenticationError refuses the handshake itself.

type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

type AuthorizationError struct {
	Resource string
	Reason   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed on %s: %s", e.Resource, e.Reason)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientInfraError wraps a persistence or timeout failure. It is retried
// with bounded backoff and then logged, never surfaced to clients.
type TransientInfraError struct {
	Op  string
	Err error
}

func (e *TransientInfraError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientInfraError) Unwrap() error { return e.Err }

// ErrorCode maps a taxonomy error onto the machine code carried by the
// outbound error event.
func ErrorCode(err error) string {
	var (
		authn *AuthenticationError
		authz *AuthorizationError
		nf    *NotFoundError
		val   *ValidationError
	)
	switch {
	case errors.As(err, &authn):
		return "unauthenticated"
	case errors.As(err, &authz):
		return "forbidden"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &val):
		return "invalid_payload"
	}
	return "internal"
}
