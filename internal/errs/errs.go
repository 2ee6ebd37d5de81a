// Package errs defines the typed error taxonomy shared by the shell, resolver
// and control layers. Every error carries a stable code and a retriable flag so
// callers (and the federation layer above this process) can decide whether the
// same request may succeed later or on another host.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	// CodeSessionNotFound means no session matched the (kind, project) pair.
	// Retriable: the session may exist on another host or appear later.
	CodeSessionNotFound Code = "session_not_found"

	// CodeSessionNotAuthoritative means the session is configured as ignored
	// (or has no configured mode), so this host declines to answer for it.
	// Distinct from CodeSessionNotFound so a fallback layer can try elsewhere.
	CodeSessionNotAuthoritative Code = "session_not_authoritative"

	// CodeSessionBusy means the session exists but is not ready for the
	// requested interaction (e.g. no menu on screen).
	CodeSessionBusy Code = "session_busy"

	// CodeSessionReadOnly means the configured mode forbids writes.
	CodeSessionReadOnly Code = "session_read_only"

	// CodeSessionTypingBusy means a human draft was detected at the prompt.
	CodeSessionTypingBusy Code = "session_typing_busy"

	// CodeUnknownPromptState means the prompt state could not be determined,
	// so sending would risk overwriting unseen user input.
	CodeUnknownPromptState Code = "unknown_prompt_state"

	// CodeTargetMissing means tmux reported the pane target does not exist.
	CodeTargetMissing Code = "tmux_target_missing"

	// CodeForbiddenKey means the key is on the fixed safety denylist.
	CodeForbiddenKey Code = "forbidden_key"

	// CodeCommandFailed means a tmux invocation exited non-zero.
	CodeCommandFailed Code = "tmux_command_failed"
)

// retriable lists which codes may succeed on a later attempt.
var retriable = map[Code]bool{
	CodeSessionNotFound:         true,
	CodeSessionNotAuthoritative: true,
	CodeSessionBusy:             true,
	CodeSessionReadOnly:         false,
	CodeSessionTypingBusy:       true,
	CodeUnknownPromptState:      true,
	CodeTargetMissing:           true,
	CodeForbiddenKey:            false,
	CodeCommandFailed:           true,
}

// Error is the concrete error type for all typed failures in muxbridge.
type Error struct {
	Code    Code
	Message string

	// Stderr holds captured standard-error text for command failures.
	Stderr string

	cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches two typed errors by code, so errors.Is(err, errs.New(code, ""))
// works without identity comparison.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Code == e.Code
	}
	return false
}

// Retriable reports whether the error's class may succeed on retry.
func (e *Error) Retriable() bool {
	return retriable[e.Code]
}

// New creates a typed error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a typed error wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CommandFailed creates a tmux_command_failed error carrying stderr text.
func CommandFailed(message, stderr string, cause error) *Error {
	return &Error{Code: CodeCommandFailed, Message: message, Stderr: stderr, cause: cause}
}

// CodeOf extracts the code from an error chain, or "" for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetriable reports whether err is a typed, retriable failure.
// Untyped errors are treated as not retriable.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable()
	}
	return false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
