package sdpneg

import "github.com/looplab/fsm"

// State is the offer/answer role machine's current state.
type State int

const (
	NoOffer State = iota
	OfferSent
	OfferReceived
	Answered
	Established
	Renegotiating
)

func (s State) String() string {
	switch s {
	case OfferSent:
		return "OfferSent"
	case OfferReceived:
		return "OfferReceived"
	case Answered:
		return "Answered"
	case Established:
		return "Established"
	case Renegotiating:
		return "Renegotiating"
	default:
		return "NoOffer"
	}
}

func stateFromString(s string) State {
	switch s {
	case "OfferSent":
		return OfferSent
	case "OfferReceived":
		return OfferReceived
	case "Answered":
		return Answered
	case "Established":
		return Established
	case "Renegotiating":
		return Renegotiating
	default:
		return NoOffer
	}
}

const (
	evMakeOffer     = "make_offer"
	evReceiveOffer  = "receive_offer"
	evReceiveAnswer = "receive_answer"
	evBind          = "bind"
	evReoffer       = "reoffer"
)

// newFSM builds the offer/answer event table. Established is the steady
// state an active session sits in between renegotiations; a fresh
// make_offer/receive_offer from there begins a new round.
func newFSM() *fsm.FSM {
	return fsm.NewFSM(NoOffer.String(), fsm.Events{
		{Name: evMakeOffer, Src: []string{NoOffer.String()}, Dst: OfferSent.String()},
		{Name: evReceiveOffer, Src: []string{NoOffer.String()}, Dst: OfferReceived.String()},
		{Name: evReceiveAnswer, Src: []string{OfferSent.String()}, Dst: Answered.String()},
		{Name: evBind, Src: []string{Answered.String(), OfferReceived.String()}, Dst: Established.String()},
		{Name: evReoffer, Src: []string{Established.String()}, Dst: Renegotiating.String()},
		{Name: evMakeOffer, Src: []string{Established.String()}, Dst: Renegotiating.String()},
		{Name: evReceiveOffer, Src: []string{Established.String()}, Dst: Renegotiating.String()},
		{Name: evReceiveAnswer, Src: []string{Renegotiating.String()}, Dst: Answered.String()},
		{Name: evBind, Src: []string{Renegotiating.String()}, Dst: Established.String()},
	}, fsm.Callbacks{})
}
