package dialog

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/arzzra/rtccore/pkg/transaction"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager owns every dialog on this node and bridges Transaction Manager
// events into dialog-level ones.
type Manager struct {
	txm      *transaction.Manager
	metrics  *metrics.Collectors
	log      zerolog.Logger
	contact  sip.Uri
	viaHost  string
	viaPort  int

	mu    sync.RWMutex
	store map[string]*Dialog

	forkMu      sync.Mutex
	forkWinner  map[string]string   // invite tx key -> winning dialog id
	forkMembers map[string][]string // invite tx key -> every early dialog id created for it

	txOwnerMu sync.Mutex
	txOwner   map[string]string // client transaction key -> dialog id, for UAC-issued in-dialog requests

	handlersMu sync.RWMutex
	handlers   []Handler
}

// NewManager builds a Manager bound to one Transaction Manager. contact is
// this node's own Contact URI, used on every request/response this layer
// builds; viaHost/viaPort seed the Via header of new in-dialog requests.
func NewManager(txm *transaction.Manager, contact sip.Uri, viaHost string, viaPort int, mx *metrics.Collectors, logger zerolog.Logger) *Manager {
	if mx == nil {
		mx = metrics.Noop()
	}
	m := &Manager{
		txm:         txm,
		metrics:     mx,
		log:         logger.With().Str("component", "dialog.manager").Logger(),
		contact:     contact,
		viaHost:     viaHost,
		viaPort:     viaPort,
		store:       make(map[string]*Dialog),
		forkWinner:  make(map[string]string),
		forkMembers: make(map[string][]string),
		txOwner:     make(map[string]string),
	}
	txm.OnEvent(m.onTransactionEvent)
	return m
}

// OnEvent registers a handler invoked for every dialog event (the Session
// Coordinator registers here).
func (m *Manager) OnEvent(h Handler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) dispatch(e Event) {
	if e.Kind == EventTerminated && e.Dialog != nil {
		m.remove(e.Dialog.ID())
	}
	m.handlersMu.RLock()
	handlers := append([]Handler(nil), m.handlers...)
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (m *Manager) put(d *Dialog) {
	m.mu.Lock()
	m.store[d.id.String()] = d
	m.mu.Unlock()
	m.metrics.DialogsActive.Inc()
	m.metrics.DialogsTotal.Inc()
}

func (m *Manager) remove(id ID) {
	m.mu.Lock()
	_, existed := m.store[id.String()]
	delete(m.store, id.String())
	m.mu.Unlock()
	if existed {
		m.metrics.DialogsActive.Dec()
	}
}

// Lookup finds a dialog by id.
func (m *Manager) Lookup(id ID) (*Dialog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.store[id.String()]
	return d, ok
}

// match_inbound: match an inbound message to its dialog.
// asUAC selects which side of the tag pair is "local" for this node: for a
// UAS matching a request, local = To.tag; for a UAC matching a response or
// in-dialog request, local = From.tag.
func (m *Manager) matchInbound(msg sip.Message, asUAC bool) (*Dialog, bool) {
	callID := headerCallID(msg)
	var localTag, remoteTag string
	if asUAC {
		localTag, _ = sipmsg.FromTag(msg)
		remoteTag, _ = sipmsg.ToTag(msg)
	} else {
		localTag, _ = sipmsg.ToTag(msg)
		remoteTag, _ = sipmsg.FromTag(msg)
	}
	return m.Lookup(ID{CallID: callID, LocalTag: localTag, RemoteTag: remoteTag})
}

func headerCallID(msg sip.Message) string {
	if h, ok := msg.GetHeader("Call-ID").(*sip.CallID); ok && h != nil {
		return h.Value()
	}
	return ""
}

func newLocalTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// StartInvite issues a new outgoing INVITE, creating the transaction but no
// dialog yet — UAC dialogs are created lazily on the first response that
// carries a To tag.
func (m *Manager) StartInvite(ctx context.Context, ruri sip.Uri, from sip.Uri, body []byte, peer net.Addr) (*transaction.Transaction, error) {
	branch := transaction.NewBranch()
	req := sipmsg.BuildDialogRequest(ruri, sipmsg.DialogRequestParams{
		Method:  "INVITE",
		CallID:  uuid.NewString(),
		FromURI: from,
		FromTag: newLocalTag(),
		ToURI:   ruri,
		CSeq:    1,
		Contact: m.contact,
		ViaHost: m.viaHost,
		ViaPort: m.viaPort,
		Branch:  branch,
	})
	if len(body) > 0 {
		req.Raw().SetBody(body)
	}
	return m.txm.CreateClientInvite(ctx, req, peer)
}

// createOrUpdateUACDialog creates a dialog from the first response that
// carries a To tag; later responses with the same tag only refresh its
// route set and remote target.
func (m *Manager) createOrUpdateUACDialog(inviteKey transaction.Key, invite *sipmsg.Request, resp *sipmsg.Response) *Dialog {
	remoteTag, _ := sipmsg.ToTag(resp.Raw())
	localTag, _ := sipmsg.FromTag(invite.Raw())
	id := ID{CallID: invite.CallID(), LocalTag: localTag, RemoteTag: remoteTag}

	if d, ok := m.Lookup(id); ok {
		d.setRouteAndTarget(sipmsg.Reversed(sipmsg.RecordRouteSet(resp.Raw())), firstContact(resp.Raw()))
		return d
	}

	d := newDialog(id, true, inviteKey, Early, m.log)
	fromURI, _ := sipmsg.FromURI(invite.Raw())
	toURI, _ := sipmsg.ToURI(resp.Raw())
	d.localURI = fromURI
	d.remoteURI = toURI
	d.localSeq = invite.CSeqNum()
	d.remoteSeq = 0
	d.setRouteAndTarget(sipmsg.Reversed(sipmsg.RecordRouteSet(resp.Raw())), firstContact(resp.Raw()))
	m.put(d)

	m.forkMu.Lock()
	key := inviteKey.String()
	m.forkMembers[key] = append(m.forkMembers[key], id.String())
	m.forkMu.Unlock()

	return d
}

func firstContact(msg sip.Message) sip.Uri {
	if u, ok := sipmsg.ContactURI(msg); ok {
		return u
	}
	return sip.Uri{}
}

// createUASDialog builds a dialog from an incoming INVITE, tagging the
// local side and recording the remote party's route set and target.
func (m *Manager) createUASDialog(inviteKey transaction.Key, req *sipmsg.Request) *Dialog {
	remoteTag, _ := sipmsg.FromTag(req.Raw())
	id := ID{CallID: req.CallID(), LocalTag: newLocalTag(), RemoteTag: remoteTag}

	d := newDialog(id, false, inviteKey, Early, m.log)
	fromURI, _ := sipmsg.FromURI(req.Raw())
	toURI, _ := sipmsg.ToURI(req.Raw())
	d.remoteURI = fromURI
	d.localURI = toURI
	d.remoteSeq = req.CSeqNum()
	d.localSeq = 0
	d.setRouteAndTarget(sipmsg.RecordRouteSet(req.Raw()), firstContact(req.Raw()))
	m.put(d)
	return d
}

// resolveFork implements the first-2xx-wins rule.
func (m *Manager) resolveFork(inviteKey transaction.Key, winner *Dialog) bool {
	m.forkMu.Lock()
	key := inviteKey.String()
	existing, decided := m.forkWinner[key]
	if !decided {
		m.forkWinner[key] = winner.id.String()
	}
	m.forkMu.Unlock()
	return !decided || existing == winner.id.String()
}

func (m *Manager) terminateFamily(inviteKey transaction.Key, reason string) {
	m.forkMu.Lock()
	members := append([]string(nil), m.forkMembers[inviteKey.String()]...)
	delete(m.forkMembers, inviteKey.String())
	delete(m.forkWinner, inviteKey.String())
	m.forkMu.Unlock()

	for _, idStr := range members {
		m.mu.RLock()
		d, ok := m.store[idStr]
		m.mu.RUnlock()
		if !ok || d.State() == Terminated {
			continue
		}
		d.terminate()
		m.dispatch(Event{Kind: EventTerminated, Dialog: d, Reason: reason})
	}
}

func (m *Manager) onTransactionEvent(e transaction.Event) {
	switch e.Handle.Type() {
	case transaction.ClientInvite:
		m.onClientInvite(e)
	case transaction.ServerInvite:
		m.onServerInvite(e)
	case transaction.ClientNonInvite:
		m.onClientNonInvite(e)
	case transaction.ServerNonInvite:
		m.onServerNonInvite(e)
	}
}

func (m *Manager) onClientInvite(e transaction.Event) {
	key := e.Handle.Key()
	switch e.Kind {
	case transaction.EventProvisional:
		if tag, ok := sipmsg.ToTag(e.Response.Raw()); ok && tag != "" {
			d := m.createOrUpdateUACDialog(key, e.Handle.Request(), e.Response)
			m.dispatch(Event{Kind: EventEarly, Dialog: d, Response: e.Response})
		}
	case transaction.EventFinal2xx:
		d := m.createOrUpdateUACDialog(key, e.Handle.Request(), e.Response)
		if m.resolveFork(key, d) {
			d.confirm()
			m.dispatch(Event{Kind: EventConfirmed, Dialog: d, Response: e.Response})
		} else {
			d.terminate()
			m.dispatch(Event{Kind: EventForkLost, Dialog: d, Response: e.Response, Reason: "lost first-2xx-wins race"})
		}
	case transaction.EventFinalNon2xx:
		m.terminateFamily(key, "final non-2xx: "+e.Response.Reason())
	case transaction.EventTimeout:
		m.terminateFamily(key, rtcerr.KindTransactionTimeout.String())
	case transaction.EventTransportFailure:
		m.terminateFamily(key, rtcerr.KindTransportFailure.String())
	}
}

func (m *Manager) onServerInvite(e transaction.Event) {
	switch e.Kind {
	case transaction.EventRequest:
		if d, ok := m.matchInbound(e.Request.Raw(), false); ok {
			// re-INVITE on an established dialog.
			if !d.admitRemoteSeq(e.Request.CSeqNum()) {
				m.dispatch(Event{Kind: EventProtocolViolation, Dialog: d, Request: e.Request, Reason: "stale CSeq"})
				return
			}
			m.dispatch(Event{Kind: EventInDialogRequest, Dialog: d, Request: e.Request})
			return
		}
		d := m.createUASDialog(e.Handle.Key(), e.Request)
		m.dispatch(Event{Kind: EventIncomingInvite, Dialog: d, Request: e.Request})
	case transaction.EventAck:
		if d, ok := m.matchInbound(e.Request.Raw(), false); ok {
			d.confirm()
			m.dispatch(Event{Kind: EventConfirmed, Dialog: d})
		}
	case transaction.EventTimeout, transaction.EventTransportFailure:
		if d, ok := m.dialogByInviteKey(e.Handle.Key()); ok {
			d.terminate()
			m.dispatch(Event{Kind: EventTerminated, Dialog: d, Reason: e.Kind.String()})
		}
	case transaction.EventCancel:
		resp := sipmsg.BuildResponse(e.Handle.Request(), 487, "Request Terminated")
		if err := e.Handle.SendResponse(context.Background(), resp); err != nil {
			m.log.Warn().Err(err).Msg("failed to send 487 for cancelled INVITE")
		}
		if d, ok := m.dialogByInviteKey(e.Handle.Key()); ok {
			d.terminate()
			m.dispatch(Event{Kind: EventTerminated, Dialog: d, Request: e.Request, Reason: "cancelled"})
		}
	}
}

func (m *Manager) onClientNonInvite(e transaction.Event) {
	m.txOwnerMu.Lock()
	dialogID, ok := m.txOwner[e.Handle.Key().String()]
	m.txOwnerMu.Unlock()
	if !ok {
		return
	}
	d, found := m.Lookup(idFromString(dialogID))
	if !found {
		return
	}
	switch e.Kind {
	case transaction.EventFinal2xx, transaction.EventFinalNon2xx:
		if e.Handle.Request().Method() == "BYE" {
			d.terminate()
			m.dispatch(Event{Kind: EventTerminated, Dialog: d, Reason: "BYE completed"})
		}
	case transaction.EventTimeout, transaction.EventTransportFailure:
		d.terminate()
		m.dispatch(Event{Kind: EventTerminated, Dialog: d, Reason: e.Kind.String()})
	case transaction.EventTerminated:
		m.txOwnerMu.Lock()
		delete(m.txOwner, e.Handle.Key().String())
		m.txOwnerMu.Unlock()
	}
}

func (m *Manager) onServerNonInvite(e transaction.Event) {
	if e.Kind != transaction.EventRequest {
		return
	}
	d, ok := m.matchInbound(e.Request.Raw(), false)
	if !ok {
		resp := sipmsg.BuildResponse(e.Request, 481, "Call/Transaction Does Not Exist")
		if err := e.Handle.SendResponse(context.Background(), resp); err != nil {
			m.log.Warn().Err(err).Msg("failed to send 481 for unmatched in-dialog request")
		}
		return
	}
	if !d.admitRemoteSeq(e.Request.CSeqNum()) {
		m.dispatch(Event{Kind: EventProtocolViolation, Dialog: d, Request: e.Request, Reason: "stale CSeq"})
		return
	}
	if e.Request.Method() == "BYE" {
		d.terminate()
		m.dispatch(Event{Kind: EventTerminated, Dialog: d, Request: e.Request, Reason: "BYE received"})
		return
	}
	m.dispatch(Event{Kind: EventInDialogRequest, Dialog: d, Request: e.Request})
}

func (m *Manager) dialogByInviteKey(key transaction.Key) (*Dialog, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.store {
		if d.InviteKey() == key {
			return d, true
		}
	}
	return nil, false
}

func idFromString(s string) ID {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return ID{}
	}
	return ID{CallID: parts[0], LocalTag: parts[1], RemoteTag: parts[2]}
}

// SendInDialogRequest increments the dialog's local CSeq, builds the
// request from its route set and remote target, and hands it to the
// Transaction Manager.
func (m *Manager) SendInDialogRequest(ctx context.Context, d *Dialog, method string, body []byte, peer net.Addr) (*transaction.Transaction, error) {
	d.nextLocalSeq()
	branch := transaction.NewBranch()
	req := d.buildRequest(method, branch, m.viaHost, m.viaPort, m.contact)
	if len(body) > 0 {
		req.Raw().SetBody(body)
	}

	var (
		tx  *transaction.Transaction
		err error
	)
	if method == "INVITE" {
		tx, err = m.txm.CreateClientInvite(ctx, req, peer)
	} else {
		tx, err = m.txm.CreateClientNonInvite(ctx, req, peer)
	}
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindTransportFailure, "dialog.SendInDialogRequest", err, map[string]any{"dialog_id": d.id.String()})
	}

	m.txOwnerMu.Lock()
	m.txOwner[tx.Key().String()] = d.id.String()
	m.txOwnerMu.Unlock()
	return tx, nil
}

// Accept sends a 200 OK for an incoming INVITE, with the given SDP body as
// the answer.
func (m *Manager) Accept(ctx context.Context, inviteTx *transaction.Transaction, body []byte) error {
	resp := sipmsg.BuildResponse(inviteTx.Request(), 200, "OK")
	if len(body) > 0 {
		resp.Raw().SetBody(body)
	}
	resp.Raw().AppendHeader(&sip.ContactHeader{Address: m.contact})
	return inviteTx.SendResponse(ctx, resp)
}

// Reject sends a final non-2xx response for an incoming INVITE.
func (m *Manager) Reject(ctx context.Context, inviteTx *transaction.Transaction, code int, reason string) error {
	resp := sipmsg.BuildResponse(inviteTx.Request(), code, reason)
	return inviteTx.SendResponse(ctx, resp)
}

// Ring sends a 180 Ringing for an incoming INVITE.
func (m *Manager) Ring(ctx context.Context, inviteTx *transaction.Transaction) error {
	resp := sipmsg.BuildResponse(inviteTx.Request(), 180, "Ringing")
	resp.Raw().AppendHeader(&sip.ContactHeader{Address: m.contact})
	return inviteTx.SendResponse(ctx, resp)
}

// SendAck sends the end-to-end ACK for a 2xx response to INVITE (RFC 3261
// §13.2.2.4): it reuses the INVITE's CSeq number, not an incremented one,
// and goes straight to the transport since ACK-to-2xx has no transaction
// of its own.
func (m *Manager) SendAck(ctx context.Context, d *Dialog, peer net.Addr) error {
	branch := transaction.NewBranch()
	req := d.buildRequest("ACK", branch, m.viaHost, m.viaPort, m.contact)
	return m.txm.SendRaw(ctx, req, peer)
}

// Active returns the number of dialogs currently tracked.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
