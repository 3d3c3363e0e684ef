package dialog

import "github.com/looplab/fsm"

const (
	evConfirm   = "confirm"
	evTerminate = "terminate"
)

// newFSM builds the three-state dialog machine (Early, Confirmed,
// Terminated), in the same fsm.Events-table idiom as pkg/dialog/tx.go's
// per-transaction machines.
func newFSM(initial State) *fsm.FSM {
	return fsm.NewFSM(
		initial.String(),
		fsm.Events{
			{Name: evConfirm, Src: []string{Early.String(), Confirmed.String()}, Dst: Confirmed.String()},
			{Name: evTerminate, Src: []string{Early.String(), Confirmed.String()}, Dst: Terminated.String()},
		},
		fsm.Callbacks{},
	)
}
