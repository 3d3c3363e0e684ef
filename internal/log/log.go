// Package log wraps zerolog with the component/call-id/dialog-id scoped
// child-logger pattern the core's managers use throughout.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	baseOnce sync.Once
	base     zerolog.Logger
)

// Base returns the process-wide root logger, console-formatted to stderr
// whether or not stderr is a terminal. Built lazily so tests that never
// touch logging don't pay for it.
func Base() zerolog.Logger {
	baseOnce.Do(func() {
		var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		base = zerolog.New(w).With().Timestamp().Logger()
	})
	return base
}

// Component returns a child logger tagged with the owning component's name,
// e.g. "transaction", "dialog", "session", "rtp".
func Component(name string) zerolog.Logger {
	return Base().With().Str("component", name).Logger()
}

// WithCallID returns a child logger tagged with a SIP Call-ID.
func WithCallID(l zerolog.Logger, callID string) zerolog.Logger {
	return l.With().Str("call_id", callID).Logger()
}

// WithDialogID returns a child logger tagged with a dialog identity.
func WithDialogID(l zerolog.Logger, dialogID string) zerolog.Logger {
	return l.With().Str("dialog_id", dialogID).Logger()
}

// WithSessionID returns a child logger tagged with a session identity.
func WithSessionID(l zerolog.Logger, sessionID string) zerolog.Logger {
	return l.With().Str("session_id", sessionID).Logger()
}
