// Package transaction implements the RFC 3261 §17 Transaction Layer: the
// four client/server, INVITE/non-INVITE state machines, their timers, and
// the store that matches inbound messages to the transaction that owns
// them.
package transaction

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/arzzra/rtccore/internal/clock"
	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns every live transaction on this node, matching inbound
// messages to their transaction and creating new client transactions on
// demand. One Manager is shared by every dialog.
type Manager struct {
	cfg       config.Transaction
	transport Transport
	sched     *clock.Scheduler
	metrics   *metrics.Collectors
	log       zerolog.Logger

	mu    sync.RWMutex
	store map[string]*Transaction

	handlersMu sync.RWMutex
	handlers   []Handler
}

// NewManager builds a Manager bound to one Transport. Pass internal/clock's
// default scheduler in production; tests may substitute a fake clock.
func NewManager(transport Transport, cfg config.Transaction, sched *clock.Scheduler, mx *metrics.Collectors, logger zerolog.Logger) *Manager {
	if mx == nil {
		mx = metrics.Noop()
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		sched:     sched,
		metrics:   mx,
		log:       logger.With().Str("component", "transaction.manager").Logger(),
		store:     make(map[string]*Transaction),
	}
}

// OnEvent registers a handler invoked for every transaction event across
// every transaction this Manager owns (the Dialog Manager registers here).
func (m *Manager) OnEvent(h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) dispatch(e Event) {
	if e.Kind == EventTerminated {
		m.remove(e.Key)
	}
	m.handlersMu.RLock()
	handlers := append([]Handler(nil), m.handlers...)
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (m *Manager) put(t *Transaction) {
	m.mu.Lock()
	m.store[t.key.String()] = t
	m.mu.Unlock()
	m.metrics.TransactionsActive.Inc()
	m.metrics.TransactionsTotal.WithLabelValues(t.typ.String()).Inc()
}

func (m *Manager) remove(key Key) {
	m.mu.Lock()
	_, existed := m.store[key.String()]
	delete(m.store, key.String())
	m.mu.Unlock()
	if existed {
		m.metrics.TransactionsActive.Dec()
	}
}

// Lookup finds a transaction by key, if one exists.
func (m *Manager) Lookup(key Key) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[key.String()]
	return t, ok
}

// NewBranch generates a new RFC 3261 §8.1.1.7 magic-cookie branch
// parameter, unique per transaction, for callers building a new request's
// top Via header before handing it to CreateClientInvite/CreateClientNonInvite.
func NewBranch() string {
	return "z9hG4bK" + uuid.NewString()
}

// CreateClientInvite starts a new INVITE client transaction, sends the
// request immediately, and arms its retransmit/absolute timers.
func (m *Manager) CreateClientInvite(ctx context.Context, req *sipmsg.Request, peer net.Addr) (*Transaction, error) {
	return m.createClient(ctx, req, peer, ClientInvite)
}

// CreateClientNonInvite starts a new non-INVITE client transaction (any
// method other than INVITE/ACK).
func (m *Manager) CreateClientNonInvite(ctx context.Context, req *sipmsg.Request, peer net.Addr) (*Transaction, error) {
	if req.Method() == "ACK" {
		return nil, rtcerr.New(rtcerr.KindProtocolViolation, "transaction.CreateClientNonInvite", map[string]any{"reason": "ACK has no transaction of its own"})
	}
	return m.createClient(ctx, req, peer, ClientNonInvite)
}

func (m *Manager) createClient(ctx context.Context, req *sipmsg.Request, peer net.Addr, typ Type) (*Transaction, error) {
	branch, _, _, ok := req.Via()
	if !ok || branch == "" {
		return nil, rtcerr.New(rtcerr.KindProtocolViolation, "transaction.createClient", map[string]any{"reason": "request has no top Via branch"})
	}
	key := Key{Branch: branch, SentByHost: "", SentByPort: 0, Method: req.Method()}
	t := newTransaction(key, typ, req, peer, m.transport, m.cfg, m.sched, m.metrics, m.log, m.dispatch)
	m.put(t)

	if err := t.send(ctx, []byte(req.String())); err != nil {
		m.remove(key)
		return nil, rtcerr.Wrap(rtcerr.KindTransportFailure, "transaction.createClient", err, nil)
	}
	t.armAbsoluteTimeout()
	t.armRetransmit(ctx)
	return t, nil
}

// CreateServer matches an inbound request to an existing server transaction
// or creates a new one, delivering it the request either way. The caller
// (the transport's read loop) does not need to know which happened.
func (m *Manager) CreateServer(ctx context.Context, req *sipmsg.Request, peer net.Addr) (*Transaction, error) {
	branch, _, _, ok := req.Via()
	if !ok || branch == "" {
		return nil, rtcerr.New(rtcerr.KindProtocolViolation, "transaction.CreateServer", map[string]any{"reason": "request has no top Via branch"})
	}
	method := req.Method()
	if method == "CANCEL" {
		return m.createCancelTransaction(ctx, req, peer, branch)
	}
	lookupMethod := method
	if method == "ACK" {
		lookupMethod = "INVITE"
	}
	key := Key{Branch: branch, Method: lookupMethod}

	if t, ok := m.Lookup(key); ok {
		t.HandleRequest(ctx, req)
		return t, nil
	}

	if method == "ACK" {
		// End-to-end ACK to a 2xx (RFC 3261 §13.2.2.4): the INVITE
		// transaction already terminated when the 2xx was sent, so this ACK
		// matches nothing in the store. Log the key it would have carried
		// for dialog-level correlation, then fall through and create a
		// short-lived transaction to absorb the retransmitted ACK.
		m.log.Debug().Str("ack_key", ackKeyForInvite(key).String()).Msg("end-to-end ACK to 2xx, no transaction to match")
	}

	typ := ServerNonInvite
	if method == "INVITE" {
		typ = ServerInvite
	}
	t := newTransaction(key, typ, req, peer, m.transport, m.cfg, m.sched, m.metrics, m.log, m.dispatch)
	m.put(t)
	t.HandleRequest(ctx, req)
	return t, nil
}

// createCancelTransaction handles an inbound CANCEL (RFC 3261 §9.2). A
// CANCEL is matched to the INVITE server transaction sharing its branch,
// never given its own lookup alias the way ACK is: it always gets its own
// transaction (for retransmission and the 200 it owns), but its effect on
// the INVITE is driven through Transaction.Cancel. If no matching INVITE
// transaction is Proceeding, the CANCEL itself is answered 481.
func (m *Manager) createCancelTransaction(ctx context.Context, req *sipmsg.Request, peer net.Addr, branch string) (*Transaction, error) {
	cancelKey := Key{Branch: branch, Method: "CANCEL"}
	if t, ok := m.Lookup(cancelKey); ok {
		t.HandleRequest(ctx, req)
		return t, nil
	}

	ct := newTransaction(cancelKey, ServerNonInvite, req, peer, m.transport, m.cfg, m.sched, m.metrics, m.log, m.dispatch)
	m.put(ct)

	invite, ok := m.Lookup(Key{Branch: branch, Method: "INVITE"})
	if !ok || invite.State() != Proceeding {
		if err := ct.SendResponse(ctx, sipmsg.BuildResponse(req, 481, "Call/Transaction Does Not Exist")); err != nil {
			return ct, err
		}
		return ct, nil
	}

	if err := ct.SendResponse(ctx, sipmsg.BuildResponse(req, 200, "OK")); err != nil {
		return ct, err
	}
	invite.Cancel(ctx)
	return ct, nil
}

// HandleInbound routes a parsed inbound message to the transaction layer:
// responses go to the client transaction matching their top Via branch and
// CSeq method; requests go through CreateServer.
func (m *Manager) HandleInbound(ctx context.Context, msg sipmsg.Message, peer net.Addr) error {
	switch v := msg.(type) {
	case *sipmsg.Response:
		branch, _, _, ok := v.Via()
		if !ok || branch == "" {
			return rtcerr.New(rtcerr.KindProtocolViolation, "transaction.HandleInbound", map[string]any{"reason": "response has no top Via branch"})
		}
		key := Key{Branch: branch, Method: v.CSeqMethod()}
		t, found := m.Lookup(key)
		if !found {
			m.log.Debug().Str("branch", branch).Str("cseq_method", v.CSeqMethod()).Msg("response matches no transaction, discarding")
			return nil
		}
		t.HandleResponse(ctx, v)
		return nil
	case *sipmsg.Request:
		_, err := m.CreateServer(ctx, v, peer)
		return err
	default:
		return rtcerr.New(rtcerr.KindProtocolViolation, "transaction.HandleInbound", map[string]any{"reason": fmt.Sprintf("unknown message type %T", msg)})
	}
}

// SendResponse sends a response on an existing server transaction.
func (m *Manager) SendResponse(ctx context.Context, t *Transaction, resp *sipmsg.Response) error {
	return t.SendResponse(ctx, resp)
}

// SendRaw sends req directly over the transport with no transaction behind
// it: RFC 3261 §17 treats ACK to a 2xx as end-to-end, not part of the
// INVITE transaction, so it is never retransmitted or timed at this layer.
// The dialog layer uses this to send that ACK.
func (m *Manager) SendRaw(ctx context.Context, req *sipmsg.Request, peer net.Addr) error {
	if err := m.transport.Send(ctx, []byte(req.String()), peer); err != nil {
		return rtcerr.Wrap(rtcerr.KindTransportFailure, "transaction.SendRaw", err, map[string]any{"method": req.Method()})
	}
	return nil
}

// Active returns the number of transactions currently tracked, for tests
// and diagnostics.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
