package pipeline

import "fmt"

// Kind is the error taxonomy every stage and collaborator client reports
// through. Call sites branch on kind, not on ad hoc string matching or
// concrete error types, the way the job store's retry policy branches on
// net.Error.Timeout() today.
type Kind string

const (
	KindConfigError        Kind = "ConfigError"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindUpstreamRejected    Kind = "UpstreamRejected"
	KindRateLimited         Kind = "RateLimited"
	KindInvalidData         Kind = "InvalidData"
	KindCircuitOpen         Kind = "CircuitOpen"
	KindResourceExhausted   Kind = "ResourceExhausted"
	KindCancelled           Kind = "Cancelled"
	KindInternalError       Kind = "InternalError"
)

// Error wraps an underlying cause with the taxonomy kind that governs how
// callers propagate it (§7).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a taxonomy error around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given taxonomy kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
