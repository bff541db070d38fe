package gateway

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the client can surface. The workflow layer
// branches on the kind only, never on transport details.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthExpired
	KindNetwork
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthExpired:
		return "auth_expired"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// One fallback message per kind, used when the server gives no detail.
func fallbackMessage(k Kind) string {
	switch k {
	case KindValidation:
		return "The request was rejected by the server."
	case KindAuthExpired:
		return "Your session has expired. Please log in again."
	case KindNetwork:
		return "Could not reach the grading service. Check the connection and try again."
	default:
		return "The grading service returned an unexpected error. Try again later."
	}
}

// Error is a classified gateway failure. Message is safe to show to the user:
// for validation errors it is the server detail verbatim, otherwise the
// per-kind fallback.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, status int, detail string, cause error) *Error {
	msg := detail
	if msg == "" {
		msg = fallbackMessage(kind)
	}
	return &Error{Kind: kind, Status: status, Message: msg, cause: cause}
}

// KindOf reports the classification of err, or 0 for non-gateway errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}

// UserMessage returns the user-facing text for err.
func UserMessage(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	return fallbackMessage(KindServer)
}
