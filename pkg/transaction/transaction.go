package transaction

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/arzzra/rtccore/internal/clock"
	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Type distinguishes the four transaction state machines from RFC 3261
// §17.1/§17.2.
type Type int

const (
	ClientInvite Type = iota
	ServerInvite
	ClientNonInvite
	ServerNonInvite
)

func (t Type) String() string {
	switch t {
	case ClientInvite:
		return "ClientInvite"
	case ServerInvite:
		return "ServerInvite"
	case ClientNonInvite:
		return "ClientNonInvite"
	case ServerNonInvite:
		return "ServerNonInvite"
	default:
		return "Unknown"
	}
}

// State is a transaction's current RFC 3261 §17 state.
type State int

const (
	Calling State = iota
	Trying
	Proceeding
	Completed
	Confirmed
	Terminated
)

func (s State) String() string {
	switch s {
	case Calling:
		return "Calling"
	case Trying:
		return "Trying"
	case Proceeding:
		return "Proceeding"
	case Completed:
		return "Completed"
	case Confirmed:
		return "Confirmed"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Transaction is one request plus all its responses, including
// retransmissions. One Transaction processes events
// strictly in arrival order; that serialization is provided
// by fsmMu.
type Transaction struct {
	key      Key
	typ      Type
	reliable bool
	peer     net.Addr

	transport Transport
	timers    timers
	sched     *clock.Scheduler
	metrics   *metrics.Collectors
	log       zerolog.Logger

	fsmMu sync.Mutex
	fsm   *fsm.FSM

	mu           sync.RWMutex
	request      *sipmsg.Request
	lastResponse *sipmsg.Response
	retransmit   time.Duration // current backoff for Timer A/E/G
	ackReq       *sipmsg.Request
	delivered    bool // the request has been handed up as EventRequest

	onEvent Handler
}

// Key returns the transaction's identity tuple.
func (t *Transaction) Key() Key { return t.key }

// Type returns which of the four RFC 3261 state machines this is.
func (t *Transaction) Type() Type { return t.typ }

// State returns the current RFC 3261 state.
func (t *Transaction) State() State {
	t.fsmMu.Lock()
	defer t.fsmMu.Unlock()
	return stateFromString(t.fsm.Current())
}

// Request returns the transaction's originating/matched request.
func (t *Transaction) Request() *sipmsg.Request {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.request
}

// LastResponse returns the most recent response sent/received on this transaction.
func (t *Transaction) LastResponse() *sipmsg.Response {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastResponse
}

func (t *Transaction) setLastResponse(r *sipmsg.Response) {
	t.mu.Lock()
	t.lastResponse = r
	t.mu.Unlock()
}

func stateFromString(s string) State {
	switch s {
	case "Calling":
		return Calling
	case "Trying":
		return Trying
	case "Proceeding":
		return Proceeding
	case "Completed":
		return Completed
	case "Confirmed":
		return Confirmed
	default:
		return Terminated
	}
}

func keyToTimerID(k Key) string { return k.String() }

// send transmits raw bytes to the transaction's peer.
func (t *Transaction) send(ctx context.Context, data []byte) error {
	return t.transport.Send(ctx, data, t.peer)
}

func statusClass(code int) int { return code / 100 }

// newTransaction builds a Transaction in its initial state; it neither
// arms timers nor sends anything. Callers send the initiating
// request/response themselves and arm the timers that apply afterwards.
func newTransaction(
	key Key,
	typ Type,
	req *sipmsg.Request,
	peer net.Addr,
	transport Transport,
	cfg config.Transaction,
	sched *clock.Scheduler,
	mx *metrics.Collectors,
	logger zerolog.Logger,
	onEvent Handler,
) *Transaction {
	t := &Transaction{
		key:       key,
		typ:       typ,
		reliable:  transport.Reliable(),
		peer:      peer,
		transport: transport,
		timers:    newTimers(cfg),
		sched:     sched,
		metrics:   mx,
		log:       logger.With().Str("component", "transaction").Str("key", key.String()).Str("type", typ.String()).Logger(),
		fsm:       newFSM(typ),
		request:   req,
		onEvent:   onEvent,
	}
	return t
}

// timerID namespaces this transaction's scheduler entries so two
// transactions never collide on timer name alone.
func (t *Transaction) timerID() string { return keyToTimerID(t.key) }

// armAbsoluteTimeout schedules a client transaction's absolute timer
// (Timer B or F); it is cancelled on any terminal transition.
func (t *Transaction) armAbsoluteTimeout() {
	// Only client transactions carry an absolute timer while awaiting a
	// final response (Timer B/F, RFC 3261 §17.1.1/§17.1.2). Server
	// transactions arm their own timers (G/H/I/J) once a response is sent,
	// from SendResponse.
	var d time.Duration
	switch t.typ {
	case ClientInvite:
		d = t.timers.timerB()
	case ClientNonInvite:
		d = t.timers.timerF()
	default:
		return
	}
	t.sched.Schedule(t.timerID(), "absolute", d, func() { t.onTimeout(context.Background()) })
}

// armRetransmit schedules the next retransmission of the request (client
// transactions) under Timer A/E, doubling the interval, inert on reliable
// transports.
func (t *Transaction) armRetransmit(ctx context.Context) {
	if t.reliable {
		return
	}
	t.mu.Lock()
	t.retransmit = t.timers.nextRetransmit(t.retransmit)
	interval := t.retransmit
	t.mu.Unlock()
	t.sched.Schedule(t.timerID(), "retransmit", interval, func() { t.onRetransmitFire(ctx) })
}

func (t *Transaction) onRetransmitFire(ctx context.Context) {
	state := t.State()
	if state != Calling && state != Trying {
		return
	}
	req := t.Request()
	if req == nil {
		return
	}
	if err := t.send(ctx, []byte(req.String())); err != nil {
		t.onTransportError(ctx, err)
		return
	}
	t.metrics.Retransmissions.Inc()
	t.armRetransmit(ctx)
}

func (t *Transaction) onTimeout(ctx context.Context) {
	if !t.transition(evTimeout) {
		return
	}
	t.cancelTimers()
	t.metrics.TransactionTimeouts.Inc()
	t.log.Warn().Msg("transaction timed out")
	t.emit(Event{Key: t.key, Kind: EventTimeout, Handle: t})
	t.emit(Event{Key: t.key, Kind: EventTerminated, Handle: t})
}

func (t *Transaction) onTransportError(ctx context.Context, err error) {
	if !t.transition(evTransport) {
		return
	}
	t.cancelTimers()
	t.log.Warn().Err(err).Msg("transaction transport failure")
	t.emit(Event{Key: t.key, Kind: EventTransportFailure, Handle: t})
	t.emit(Event{Key: t.key, Kind: EventTerminated, Handle: t})
}

// transition attempts the named fsm event and reports whether it was legal
// from the current state; illegal transitions (e.g. a timer firing after
// the transaction already moved on) are logged and ignored, never panicked.
func (t *Transaction) transition(event string) bool {
	t.fsmMu.Lock()
	defer t.fsmMu.Unlock()
	if err := t.fsm.Event(context.Background(), event); err != nil {
		if _, ok := err.(fsm.NoTransitionError); ok {
			return false
		}
		if _, ok := err.(fsm.InvalidEventError); ok {
			return false
		}
		return false
	}
	return true
}

func (t *Transaction) cancelTimers() { t.sched.CancelAll(t.timerID()) }

// Cancel notifies this INVITE server transaction's handler that a CANCEL
// with a matching branch arrived (RFC 3261 §9.2), so the dialog layer can
// send the 487 and tear the dialog down. A no-op once a final response has
// already been sent, since the CANCEL then has no effect on the INVITE.
func (t *Transaction) Cancel(ctx context.Context) {
	if t.State() != Proceeding {
		return
	}
	t.emit(Event{Key: t.key, Kind: EventCancel, Request: t.Request(), Handle: t})
}

func (t *Transaction) emit(e Event) {
	if t.onEvent != nil {
		t.onEvent(e)
	}
}

func (t *Transaction) finalizeCompleted(ctx context.Context) {
	if !t.transition(evDone) {
		return
	}
	t.cancelTimers()
	t.emit(Event{Key: t.key, Kind: EventTerminated, Handle: t})
}

// HandleResponse processes an inbound response on a client transaction
// (RFC 3261 §17.1.1/§17.1.2).
func (t *Transaction) HandleResponse(ctx context.Context, resp *sipmsg.Response) {
	t.setLastResponse(resp)
	class := statusClass(resp.StatusCode())

	switch {
	case class == 1:
		if t.transition(evProvisional) {
			if t.typ == ClientInvite {
				t.sched.Cancel(t.timerID(), "retransmit")
			}
			t.emit(Event{Key: t.key, Kind: EventProvisional, Response: resp, Handle: t})
		}

	case class == 2:
		if t.transition(evFinal2xx) {
			t.cancelTimers()
			t.emit(Event{Key: t.key, Kind: EventFinal2xx, Response: resp, Handle: t})
			t.emit(Event{Key: t.key, Kind: EventTerminated, Handle: t})
		}

	default:
		if t.transition(evFinalOther) {
			t.sched.Cancel(t.timerID(), "retransmit")
			if t.typ == ClientInvite {
				ack := sipmsg.BuildAckNon2xx(t.Request(), resp)
				t.mu.Lock()
				t.ackReq = ack
				t.mu.Unlock()
				if err := t.send(ctx, []byte(ack.String())); err != nil {
					t.log.Warn().Err(err).Msg("send ACK for non-2xx failed")
				}
				t.armCompletedTimeout(ctx, t.timers.timerD(t.reliable))
			} else {
				t.armCompletedTimeout(ctx, t.timers.timerK(t.reliable))
			}
			t.emit(Event{Key: t.key, Kind: EventFinalNon2xx, Response: resp, Handle: t})
		} else if t.typ == ClientInvite && t.State() == Completed {
			t.mu.RLock()
			ack := t.ackReq
			t.mu.RUnlock()
			if ack != nil {
				_ = t.send(ctx, []byte(ack.String()))
			}
		}
	}
}

func (t *Transaction) armCompletedTimeout(ctx context.Context, d time.Duration) {
	if d <= 0 {
		t.finalizeCompleted(ctx)
		return
	}
	t.sched.Schedule(t.timerID(), "completed", d, func() { t.finalizeCompleted(ctx) })
}

// HandleRequest processes an inbound request (the original, or a
// retransmission of it) on a server transaction (RFC 3261 §17.2).
// Retransmissions are absorbed by resending the last response, never
// re-delivered to the application as a new EventRequest.
func (t *Transaction) HandleRequest(ctx context.Context, req *sipmsg.Request) {
	t.mu.Lock()
	if t.request == nil {
		t.request = req
	}
	first := !t.delivered
	t.delivered = true
	t.mu.Unlock()

	switch {
	case req.Method() == "ACK" && t.typ == ServerInvite:
		if t.transition(evAck) {
			t.sched.Cancel(t.timerID(), "retransmit")
			t.armCompletedTimeout(ctx, t.timers.timerI(t.reliable))
			t.emit(Event{Key: t.key, Kind: EventAck, Request: req, Handle: t})
		}
		return
	case first:
		t.emit(Event{Key: t.key, Kind: EventRequest, Request: req, Handle: t})
	default:
		// Retransmission of the request while a response is already pending
		// or sent: resend the last response, RFC 3261 §17.2.1.
		if last := t.LastResponse(); last != nil {
			_ = t.send(ctx, []byte(last.String()))
		}
	}
}

// SendResponse transmits a response on a server transaction, driving its
// state machine and arming whatever absorption timer applies.
func (t *Transaction) SendResponse(ctx context.Context, resp *sipmsg.Response) error {
	t.setLastResponse(resp)
	class := statusClass(resp.StatusCode())

	if err := t.send(ctx, []byte(resp.String())); err != nil {
		t.onTransportError(ctx, err)
		return err
	}

	switch {
	case class == 1:
		t.transition(evProvisional)
	case class == 2:
		if t.transition(evFinal2xx) {
			t.cancelTimers()
			t.emit(Event{Key: t.key, Kind: EventTerminated, Handle: t})
		}
	default:
		if t.transition(evFinalOther) {
			if t.typ == ServerInvite {
				t.armRetransmitResponse(ctx, resp)
				t.armCompletedTimeout(ctx, t.timers.timerH())
			} else {
				t.armCompletedTimeout(ctx, t.timers.timerJ(t.reliable))
			}
		}
	}
	return nil
}

// armRetransmitResponse keeps resending a non-2xx final response to an
// INVITE until ACK arrives or Timer H expires (RFC 3261 §17.2.1 Timer G).
func (t *Transaction) armRetransmitResponse(ctx context.Context, resp *sipmsg.Response) {
	if t.reliable {
		return
	}
	t.mu.Lock()
	t.retransmit = t.timers.nextRetransmit(t.retransmit)
	interval := t.retransmit
	t.mu.Unlock()
	t.sched.Schedule(t.timerID(), "retransmit", interval, func() {
		if t.State() != Completed {
			return
		}
		if err := t.send(ctx, []byte(resp.String())); err != nil {
			t.onTransportError(ctx, err)
			return
		}
		t.metrics.Retransmissions.Inc()
		t.armRetransmitResponse(ctx, resp)
	})
}
