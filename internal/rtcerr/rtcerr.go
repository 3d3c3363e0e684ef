// Package rtcerr defines the error taxonomy shared across the core: a
// closed set of kinds plus contextual fields, so callers can dispatch on
// errors.As instead of parsing messages.
package rtcerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the core's propagation policy.
type Kind int

const (
	// KindParse marks a malformed message: dropped, logged, no state change.
	KindParse Kind = iota
	// KindTransactionTimeout marks a transaction that exhausted its absolute timer.
	KindTransactionTimeout
	// KindTransportFailure marks a permanent send failure or dropped connection.
	KindTransportFailure
	// KindProtocolViolation marks an out-of-order or otherwise invalid in-dialog request.
	KindProtocolViolation
	// KindNegotiationFailure marks an SDP offer/answer that produced no common codec.
	KindNegotiationFailure
	// KindSecurityFailure marks a DTLS handshake or SRTP authentication failure.
	KindSecurityFailure
	// KindReplayDetected marks an SRTP packet index already seen or outside the replay window.
	KindReplayDetected
	// KindBufferOverrun marks a jitter buffer or event queue at capacity.
	KindBufferOverrun
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindTransactionTimeout:
		return "TransactionTimeout"
	case KindTransportFailure:
		return "TransportFailure"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindNegotiationFailure:
		return "NegotiationFailure"
	case KindSecurityFailure:
		return "SecurityFailure"
	case KindReplayDetected:
		return "ReplayDetected"
	case KindBufferOverrun:
		return "BufferOverrun"
	default:
		return "Unknown"
	}
}

// Error is the wrapped error type returned by core components. Fields is a
// small free-form bag of context (transaction key, dialog id, session id)
// useful for logging; it is not part of error identity.
type Error struct {
	Kind   Kind
	Op     string
	Fields map[string]any
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no cause.
func New(kind Kind, op string, fields map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Fields: fields}
}

// Wrap builds an *Error around cause.
func Wrap(kind Kind, op string, cause error, fields map[string]any) *Error {
	return &Error{Kind: kind, Op: op, Fields: fields, Cause: cause}
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
