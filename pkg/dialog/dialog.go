// Package dialog implements the RFC 3261 §12 Dialog Layer: dialog
// identification, state, sequence numbers, route sets, and in-dialog
// request routing.
package dialog

import (
	"context"
	"sync"

	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/arzzra/rtccore/pkg/transaction"
	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// State is a dialog's current lifecycle state.
type State int

const (
	Early State = iota
	Confirmed
	Terminated
)

func (s State) String() string {
	switch s {
	case Early:
		return "Early"
	case Confirmed:
		return "Confirmed"
	default:
		return "Terminated"
	}
}

func stateFromString(s string) State {
	switch s {
	case "Early":
		return Early
	case "Confirmed":
		return Confirmed
	default:
		return Terminated
	}
}

// Dialog is one peer-to-peer SIP relationship, identified by Call-ID and
// the local/remote tags.
type Dialog struct {
	id       ID
	isUAC    bool
	secure   bool
	inviteTx transaction.Key // the INVITE transaction this dialog was created from, for CANCEL/forking correlation

	mu sync.RWMutex

	localURI, remoteURI     sip.Uri
	localTarget, remoteTarget sip.Uri
	localSeq, remoteSeq     uint32
	routeSet                []sip.Uri
	sessionID               string

	fsmMu sync.Mutex
	fsm   *fsm.FSM

	log zerolog.Logger
}

func newDialog(id ID, isUAC bool, inviteTx transaction.Key, initial State, logger zerolog.Logger) *Dialog {
	return &Dialog{
		id:       id,
		isUAC:    isUAC,
		inviteTx: inviteTx,
		fsm:      newFSM(initial),
		log:      logger.With().Str("component", "dialog").Str("dialog_id", id.String()).Logger(),
	}
}

func (d *Dialog) ID() ID           { return d.id }
func (d *Dialog) IsUAC() bool      { return d.isUAC }
func (d *Dialog) IsUAS() bool      { return !d.isUAC }
func (d *Dialog) Secure() bool     { return d.secure }
func (d *Dialog) InviteKey() transaction.Key { return d.inviteTx }

func (d *Dialog) State() State {
	d.fsmMu.Lock()
	defer d.fsmMu.Unlock()
	return stateFromString(d.fsm.Current())
}

// SessionID returns the associated media session id, if the dialog has
// reached one.
func (d *Dialog) SessionID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sessionID
}

// SetSessionID associates a media session id with this dialog, once the
// Session Coordinator creates one.
func (d *Dialog) SetSessionID(id string) {
	d.mu.Lock()
	d.sessionID = id
	d.mu.Unlock()
}

func (d *Dialog) RouteSet() []sip.Uri {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]sip.Uri, len(d.routeSet))
	copy(out, d.routeSet)
	return out
}

func (d *Dialog) RemoteTarget() sip.Uri {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteTarget
}

func (d *Dialog) LocalSeq() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localSeq
}

func (d *Dialog) RemoteSeq() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.remoteSeq
}

// nextLocalSeq increments and returns the new local CSeq, for building the
// next in-dialog request.
func (d *Dialog) nextLocalSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localSeq++
	return d.localSeq
}

// admitRemoteSeq enforces RFC 3261 §12.2.2's CSeq monotonicity invariant:
// a confirmed dialog's remote_seq is monotone non-decreasing. Returns false
// if seq is stale and the request must be rejected with 500.
func (d *Dialog) admitRemoteSeq(seq uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remoteSeq != 0 && seq < d.remoteSeq {
		return false
	}
	d.remoteSeq = seq
	return true
}

func (d *Dialog) setRouteAndTarget(routeSet []sip.Uri, target sip.Uri) {
	d.mu.Lock()
	d.routeSet = routeSet
	d.remoteTarget = target
	d.mu.Unlock()
}

func (d *Dialog) confirm() bool {
	d.fsmMu.Lock()
	defer d.fsmMu.Unlock()
	return d.fsm.Event(context.Background(), evConfirm) == nil
}

func (d *Dialog) terminate() bool {
	d.fsmMu.Lock()
	defer d.fsmMu.Unlock()
	return d.fsm.Event(context.Background(), evTerminate) == nil
}

// buildRequest assembles an in-dialog request using the dialog's current
// route set, remote target, and tags; the caller hands the result to the
// Transaction Manager.
func (d *Dialog) buildRequest(method string, branch string, viaHost string, viaPort int, contact sip.Uri) *sipmsg.Request {
	d.mu.RLock()
	params := sipmsg.DialogRequestParams{
		Method:   method,
		CallID:   d.id.CallID,
		FromURI:  d.localURI,
		FromTag:  d.id.LocalTag,
		ToURI:    d.remoteURI,
		ToTag:    d.id.RemoteTag,
		CSeq:     d.localSeq,
		RouteSet: append([]sip.Uri(nil), d.routeSet...),
		Contact:  contact,
		ViaHost:  viaHost,
		ViaPort:  viaPort,
		Branch:   branch,
	}
	ruri := d.remoteTarget
	d.mu.RUnlock()
	return sipmsg.BuildDialogRequest(ruri, params)
}
