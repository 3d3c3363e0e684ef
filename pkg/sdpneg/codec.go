// Package sdpneg implements the RFC 3264 offer/answer state machine and
// codec/direction negotiation.
package sdpneg

import "fmt"

// Codec describes one negotiable audio payload format.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint8
}

func (c Codec) rtpmap() string {
	if c.Channels > 1 {
		return fmt.Sprintf("%d %s/%d/%d", c.PayloadType, c.Name, c.ClockRate, c.Channels)
	}
	return fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
}

// Direction is a media stream's send/receive capability (RFC 3264 §6.1).
type Direction int

const (
	SendRecv Direction = iota
	SendOnly
	RecvOnly
	Inactive
)

func (d Direction) String() string {
	switch d {
	case SendOnly:
		return "sendonly"
	case RecvOnly:
		return "recvonly"
	case Inactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

// intersect computes the direction the local side should use given what it
// offered/answered and what the peer answered/offered (RFC 3264 §6.1): each
// side's capability is the AND of "may send" and "may receive" across the
// two descriptions, from the local point of view. local is this
// node's own attribute; remote is the peer's.
func intersectDirection(local, remote Direction) Direction {
	localSend, localRecv := capabilities(local)
	remoteSend, remoteRecv := capabilities(remote)
	// The peer's "send" capability gates what we may receive, and its
	// "recv" capability gates what we may send.
	canSend := localSend && remoteRecv
	canRecv := localRecv && remoteSend
	switch {
	case canSend && canRecv:
		return SendRecv
	case canSend:
		return SendOnly
	case canRecv:
		return RecvOnly
	default:
		return Inactive
	}
}

func capabilities(d Direction) (send, recv bool) {
	switch d {
	case SendOnly:
		return true, false
	case RecvOnly:
		return false, true
	case Inactive:
		return false, false
	default:
		return true, true
	}
}

// selectCodec iterates the local preferred order and takes the first codec
// also present in the peer's list (matched by name and clock rate, not
// payload type number, since
// dynamic payload types are negotiated per offer).
func selectCodec(preferred []Codec, peer []Codec) (Codec, bool) {
	for _, mine := range preferred {
		for _, theirs := range peer {
			if sameCodec(mine, theirs) {
				// Keep the peer's payload type number: for a received offer
				// the answer must echo back the offerer's chosen number.
				mine.PayloadType = theirs.PayloadType
				return mine, true
			}
		}
	}
	return Codec{}, false
}

func sameCodec(a, b Codec) bool {
	return a.Name == b.Name && a.ClockRate == b.ClockRate
}
