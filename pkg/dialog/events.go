package dialog

import "github.com/arzzra/rtccore/pkg/sipmsg"

// EventKind enumerates dialog-level occurrences the Session Coordinator
// translates into session events.
type EventKind int

const (
	// EventIncomingInvite is a new UAS dialog created by an inbound INVITE.
	EventIncomingInvite EventKind = iota
	// EventEarly is a new or updated early (1xx-with-tag) UAC dialog.
	EventEarly
	// EventConfirmed is a dialog reaching Confirmed (2xx received/ACK sent, or ACK received).
	EventConfirmed
	// EventInDialogRequest is a non-BYE in-dialog request (e.g. re-INVITE, INFO).
	EventInDialogRequest
	// EventTerminated is a dialog reaching Terminated.
	EventTerminated
	// EventForkLost marks an early dialog that lost the first-2xx-wins race;
	// the caller is expected to ACK+BYE it (RFC 3261 §13.2.2.4).
	EventForkLost
	// EventProtocolViolation is a rejected in-dialog request (stale CSeq, etc).
	EventProtocolViolation
)

func (k EventKind) String() string {
	switch k {
	case EventIncomingInvite:
		return "IncomingInvite"
	case EventEarly:
		return "Early"
	case EventConfirmed:
		return "Confirmed"
	case EventInDialogRequest:
		return "InDialogRequest"
	case EventTerminated:
		return "Terminated"
	case EventForkLost:
		return "ForkLost"
	case EventProtocolViolation:
		return "ProtocolViolation"
	default:
		return "Unknown"
	}
}

// Event is delivered to every Handler registered with Manager.OnEvent.
type Event struct {
	Kind     EventKind
	Dialog   *Dialog
	Request  *sipmsg.Request
	Response *sipmsg.Response
	Reason   string
}

// Handler receives dialog events.
type Handler func(Event)
