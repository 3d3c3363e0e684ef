package transaction

import "github.com/arzzra/rtccore/pkg/sipmsg"

// EventKind enumerates the transaction-level occurrences the Dialog
// Manager translates into dialog events.
type EventKind int

const (
	// EventProvisional is a 1xx response received/sent.
	EventProvisional EventKind = iota
	// EventFinal2xx is a 2xx response received/sent.
	EventFinal2xx
	// EventFinalNon2xx is a 3xx-6xx response received/sent.
	EventFinalNon2xx
	// EventRequest is an inbound request delivered to a server transaction,
	// once per transaction; retransmissions of it are absorbed there.
	EventRequest
	// EventAck is the ACK that moved an INVITE server transaction from
	// Completed to Confirmed.
	EventAck
	// EventTimeout is TransactionTimeout: the transaction's absolute timer fired.
	EventTimeout
	// EventTransportFailure is a permanent send failure or dropped connection.
	EventTransportFailure
	// EventTerminated is emitted once, when the transaction reaches Terminated
	// and is about to be removed from the store.
	EventTerminated
	// EventCancel is emitted on an INVITE server transaction when a CANCEL
	// with a matching branch arrives while it is still Proceeding (RFC 3261
	// §9.2). Handle is the INVITE transaction, not the CANCEL's own.
	EventCancel
)

func (k EventKind) String() string {
	switch k {
	case EventProvisional:
		return "Provisional"
	case EventFinal2xx:
		return "Final2xx"
	case EventFinalNon2xx:
		return "FinalNon2xx"
	case EventRequest:
		return "Request"
	case EventAck:
		return "Ack"
	case EventTimeout:
		return "Timeout"
	case EventTransportFailure:
		return "TransportFailure"
	case EventTerminated:
		return "Terminated"
	case EventCancel:
		return "Cancel"
	default:
		return "Unknown"
	}
}

// Event is delivered to the Manager's registered handler(s). Exactly one of
// Request/Response is set, depending on Kind.
type Event struct {
	Key      Key
	Kind     EventKind
	Request  *sipmsg.Request
	Response *sipmsg.Response
	// Handle is set for server transactions so the application/dialog layer
	// can send responses back through SendResponse.
	Handle *Transaction
}

// Handler receives transaction events. Handlers run on the transaction's
// own goroutine for that invocation; they must not block indefinitely.
type Handler func(Event)
