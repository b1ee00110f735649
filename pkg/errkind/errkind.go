// Package errkind models the mailer's error taxonomy as a typed,
// inspectable Kind plus a wrapping Error, so callers (mostly mailer and
// session) can branch on error *kind* rather than string-matching: fatal
// vs skip-this-link vs benign-timeout is a policy decision made at the
// call site, not in the error message.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is one of the mailer's error categories.
type Kind int

const (
	Unknown Kind = iota
	InvalidFrame
	FrameTooLarge
	BufferTooSmall
	InvalidCommand
	ProtocolError
	Network
	Timeout
	AuthFailed
	Busy
	FileIO
	NotFound
	Permission
)

func (k Kind) String() string {
	switch k {
	case InvalidFrame:
		return "InvalidFrame"
	case FrameTooLarge:
		return "FrameTooLarge"
	case BufferTooSmall:
		return "BufferTooSmall"
	case InvalidCommand:
		return "InvalidCommand"
	case ProtocolError:
		return "ProtocolError"
	case Network:
		return "Network"
	case Timeout:
		return "Timeout"
	case AuthFailed:
		return "AuthFailed"
	case Busy:
		return "Busy"
	case FileIO:
		return "FileIO"
	case NotFound:
		return "NotFound"
	case Permission:
		return "Permission"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with the operation that produced it and
// its Kind, for kind-based propagation decisions in mailer and session.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for the given kind, operation label, and cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or anything it wraps) is an *Error of the given
// Kind, so call sites can write `errkind.Is(err, errkind.Busy)`.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether a kind always aborts the current session outright:
// frame/command/protocol/network errors do; Busy/FileIO/NotFound/Permission
// only skip the affected link; Timeout and AuthFailed are handled by their
// own call sites.
func (k Kind) Fatal() bool {
	switch k {
	case InvalidFrame, FrameTooLarge, BufferTooSmall, InvalidCommand, ProtocolError, Network:
		return true
	default:
		return false
	}
}

// SkipsLink reports whether a kind means "abort this link, keep polling
// others" rather than a session-fatal or benign condition.
func (k Kind) SkipsLink() bool {
	switch k {
	case Busy, FileIO, NotFound, Permission:
		return true
	default:
		return false
	}
}
