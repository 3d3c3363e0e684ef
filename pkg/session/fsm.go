package session

import "github.com/looplab/fsm"

// State is a media session's lifecycle state.
type State int

const (
	Initializing State = iota
	Negotiating
	Active
	OnHold
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "Negotiating"
	case Active:
		return "Active"
	case OnHold:
		return "OnHold"
	case Terminating:
		return "Terminating"
	case Terminated:
		return "Terminated"
	default:
		return "Initializing"
	}
}

func stateFromString(s string) State {
	switch s {
	case "Negotiating":
		return Negotiating
	case "Active":
		return Active
	case "OnHold":
		return OnHold
	case "Terminating":
		return Terminating
	case "Terminated":
		return Terminated
	default:
		return Initializing
	}
}

const (
	evNegotiate = "negotiate"
	evBindMedia = "bind_media"
	evHold      = "hold"
	evResume    = "resume"
	evTerminate = "terminate"
	evTerminated = "terminated"
)

// newFSM builds the session lifecycle state machine.
func newFSM(initial State) *fsm.FSM {
	return fsm.NewFSM(initial.String(), fsm.Events{
		{Name: evNegotiate, Src: []string{Initializing.String()}, Dst: Negotiating.String()},
		{Name: evBindMedia, Src: []string{Negotiating.String()}, Dst: Active.String()},
		{Name: evHold, Src: []string{Active.String()}, Dst: OnHold.String()},
		{Name: evResume, Src: []string{OnHold.String()}, Dst: Active.String()},
		{Name: evTerminate, Src: []string{Initializing.String(), Negotiating.String(), Active.String(), OnHold.String()}, Dst: Terminating.String()},
		{Name: evTerminated, Src: []string{Terminating.String()}, Dst: Terminated.String()},
	}, fsm.Callbacks{})
}
