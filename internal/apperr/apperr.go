// Package apperr defines the error categories that can surface to a connected
// client and the user-facing text each category maps to.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Client-facing messages. Internal error text is never sent verbatim.
const (
	MsgUnauthenticated = "session expired, please re-authenticate"
	MsgForbidden       = "not authorized for this resource"
	MsgNotFound        = "resource missing or deleted"
	MsgInvalidArgument = "incomplete request"
	MsgGeneric         = "request failed, please try again later"
)

// UnknownTypeError reports an inbound message type with no registered handler.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return "Unknown message type: " + e.Type
}

// Invalid wraps ErrInvalidArgument with a description of what was wrong.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidArgument)
}

// FriendlyMessage maps err onto the fixed set of client-facing messages.
// The whole wrap chain is inspected, so a category wrapped deep inside
// another error still wins.
func FriendlyMessage(err error) string {
	var unknown *UnknownTypeError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unknown):
		return unknown.Error()
	case errors.Is(err, ErrUnauthenticated):
		return MsgUnauthenticated
	case errors.Is(err, ErrForbidden):
		return MsgForbidden
	case errors.Is(err, ErrNotFound):
		return MsgNotFound
	case errors.Is(err, ErrInvalidArgument):
		return MsgInvalidArgument
	default:
		return MsgGeneric
	}
}
