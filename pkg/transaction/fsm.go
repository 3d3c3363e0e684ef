package transaction

import "github.com/looplab/fsm"

// Event names used to drive the four RFC 3261 state machines. Side effects
// (sending ACK, scheduling timers, notifying the Dialog Manager) live in
// Manager's dispatch methods, run after the fsm.Event call succeeds; the
// fsm itself only enforces which transitions are legal, the way
// pkg/dialog/tx.go's event tables do.
const (
	evProvisional = "provisional"
	evFinal2xx    = "final2xx"
	evFinalOther  = "final_non_2xx"
	evAck         = "ack"
	evTimeout     = "timeout"
	evTransport   = "transport_error"
	evDone        = "done"
)

func newClientInviteFSM() *fsm.FSM {
	return fsm.NewFSM(
		Calling.String(),
		fsm.Events{
			{Name: evProvisional, Src: []string{Calling.String(), Proceeding.String()}, Dst: Proceeding.String()},
			{Name: evFinal2xx, Src: []string{Calling.String(), Proceeding.String()}, Dst: Terminated.String()},
			{Name: evFinalOther, Src: []string{Calling.String(), Proceeding.String()}, Dst: Completed.String()},
			{Name: evDone, Src: []string{Completed.String()}, Dst: Terminated.String()},
			{Name: evTimeout, Src: []string{Calling.String(), Proceeding.String(), Completed.String()}, Dst: Terminated.String()},
			{Name: evTransport, Src: []string{Calling.String(), Proceeding.String(), Completed.String()}, Dst: Terminated.String()},
		},
		fsm.Callbacks{},
	)
}

func newClientNonInviteFSM() *fsm.FSM {
	return fsm.NewFSM(
		Trying.String(),
		fsm.Events{
			{Name: evProvisional, Src: []string{Trying.String(), Proceeding.String()}, Dst: Proceeding.String()},
			{Name: evFinal2xx, Src: []string{Trying.String(), Proceeding.String()}, Dst: Completed.String()},
			{Name: evFinalOther, Src: []string{Trying.String(), Proceeding.String()}, Dst: Completed.String()},
			{Name: evDone, Src: []string{Completed.String()}, Dst: Terminated.String()},
			{Name: evTimeout, Src: []string{Trying.String(), Proceeding.String(), Completed.String()}, Dst: Terminated.String()},
			{Name: evTransport, Src: []string{Trying.String(), Proceeding.String(), Completed.String()}, Dst: Terminated.String()},
		},
		fsm.Callbacks{},
	)
}

func newServerInviteFSM() *fsm.FSM {
	return fsm.NewFSM(
		Proceeding.String(),
		fsm.Events{
			{Name: evProvisional, Src: []string{Proceeding.String()}, Dst: Proceeding.String()},
			{Name: evFinal2xx, Src: []string{Proceeding.String()}, Dst: Terminated.String()},
			{Name: evFinalOther, Src: []string{Proceeding.String()}, Dst: Completed.String()},
			{Name: evAck, Src: []string{Completed.String()}, Dst: Confirmed.String()},
			{Name: evDone, Src: []string{Confirmed.String()}, Dst: Terminated.String()},
			{Name: evTimeout, Src: []string{Proceeding.String(), Completed.String(), Confirmed.String()}, Dst: Terminated.String()},
			{Name: evTransport, Src: []string{Proceeding.String(), Completed.String(), Confirmed.String()}, Dst: Terminated.String()},
		},
		fsm.Callbacks{},
	)
}

func newServerNonInviteFSM() *fsm.FSM {
	return fsm.NewFSM(
		Trying.String(),
		fsm.Events{
			{Name: evProvisional, Src: []string{Trying.String(), Proceeding.String()}, Dst: Proceeding.String()},
			{Name: evFinal2xx, Src: []string{Trying.String(), Proceeding.String()}, Dst: Completed.String()},
			{Name: evFinalOther, Src: []string{Trying.String(), Proceeding.String()}, Dst: Completed.String()},
			{Name: evDone, Src: []string{Completed.String()}, Dst: Terminated.String()},
			{Name: evTimeout, Src: []string{Trying.String(), Proceeding.String(), Completed.String()}, Dst: Terminated.String()},
			{Name: evTransport, Src: []string{Trying.String(), Proceeding.String(), Completed.String()}, Dst: Terminated.String()},
		},
		fsm.Callbacks{},
	)
}

func newFSM(typ Type) *fsm.FSM {
	switch typ {
	case ClientInvite:
		return newClientInviteFSM()
	case ClientNonInvite:
		return newClientNonInviteFSM()
	case ServerInvite:
		return newServerInviteFSM()
	default:
		return newServerNonInviteFSM()
	}
}
