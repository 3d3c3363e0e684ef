package rtpsession

import (
	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/pion/rtp"
)

// DTMFDigit is a telephone-event digit per RFC 4733 §3.
type DTMFDigit uint8

const (
	DTMF0 DTMFDigit = iota
	DTMF1
	DTMF2
	DTMF3
	DTMF4
	DTMF5
	DTMF6
	DTMF7
	DTMF8
	DTMF9
	DTMFStar
	DTMFPound
	DTMFA
	DTMFB
	DTMFC
	DTMFD
)

func (d DTMFDigit) String() string {
	switch d {
	case DTMF0, DTMF1, DTMF2, DTMF3, DTMF4, DTMF5, DTMF6, DTMF7, DTMF8, DTMF9:
		return string(rune('0' + d))
	case DTMFStar:
		return "*"
	case DTMFPound:
		return "#"
	case DTMFA:
		return "A"
	case DTMFB:
		return "B"
	case DTMFC:
		return "C"
	case DTMFD:
		return "D"
	default:
		return "?"
	}
}

// DTMFEvent is one telephone-event occurrence delivered to the application.
type DTMFEvent struct {
	Digit    DTMFDigit
	Volume   uint8  // 0-63, absolute value in -dBm0
	Duration uint16 // elapsed duration in RTP clock units
	EndOfEvent bool
}

// encodeDTMFPayload packs a telephone-event payload per RFC 4733 §2.3:
// event (8 bits), E|R|volume (8 bits), duration (16 bits, big-endian).
func encodeDTMFPayload(ev DTMFEvent) []byte {
	data := make([]byte, 4)
	data[0] = byte(ev.Digit)
	if ev.EndOfEvent {
		data[1] |= 0x80
	}
	data[1] |= ev.Volume & 0x3F
	data[2] = byte(ev.Duration >> 8)
	data[3] = byte(ev.Duration)
	return data
}

// decodeDTMFPayload unpacks a telephone-event payload. Returns an error
// wrapped as rtcerr.KindParse for malformed (too short) payloads.
func decodeDTMFPayload(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, rtcerr.New(rtcerr.KindParse, "rtpsession.decodeDTMFPayload", map[string]any{
			"len": len(payload),
		})
	}
	return DTMFEvent{
		Digit:      DTMFDigit(payload[0]),
		EndOfEvent: payload[1]&0x80 != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   uint16(payload[2])<<8 | uint16(payload[3]),
	}, nil
}

// DTMFSender emits RFC 4733 telephone-event packets for one outbound
// digit press: three packets at the start (marker set on the first) and
// three redundant end packets carrying the end-of-event bit, all sharing
// the RTP timestamp sampled when the digit began.
type DTMFSender struct {
	payloadType uint8
}

// NewDTMFSender builds a sender that stamps packets with payloadType, the
// dynamic payload type negotiated for telephone-event in the SDP answer.
func NewDTMFSender(payloadType uint8) *DTMFSender {
	return &DTMFSender{payloadType: payloadType}
}

// BuildPackets returns the start and end packet sets for one digit press,
// leaving SequenceNumber/SSRC zero for the caller's Session to fill in on
// send.
func (s *DTMFSender) BuildPackets(digit DTMFDigit, volume uint8, durationUnits uint16, timestamp uint32, repeats int) (start, end []*rtp.Packet) {
	if repeats <= 0 {
		repeats = 3
	}
	startPayload := encodeDTMFPayload(DTMFEvent{Digit: digit, Volume: volume, Duration: durationUnits})
	endPayload := encodeDTMFPayload(DTMFEvent{Digit: digit, Volume: volume, Duration: durationUnits, EndOfEvent: true})

	for i := 0; i < repeats; i++ {
		start = append(start, &rtp.Packet{
			Header: rtp.Header{
				Version:     2,
				Marker:      i == 0,
				PayloadType: s.payloadType,
				Timestamp:   timestamp,
			},
			Payload: startPayload,
		})
	}
	for i := 0; i < repeats; i++ {
		end = append(end, &rtp.Packet{
			Header: rtp.Header{
				Version:     2,
				PayloadType: s.payloadType,
				Timestamp:   timestamp,
			},
			Payload: endPayload,
		})
	}
	return start, end
}

// DTMFReceiver demultiplexes telephone-event packets out of an RTP stream,
// de-duplicating the redundant end packets so the application sees each
// digit exactly once.
type DTMFReceiver struct {
	payloadType uint8
	lastEnded   bool
	lastDigit   DTMFDigit
}

// NewDTMFReceiver builds a receiver that recognizes payloadType packets.
func NewDTMFReceiver(payloadType uint8) *DTMFReceiver {
	return &DTMFReceiver{payloadType: payloadType, lastEnded: true}
}

// Process inspects pkt and returns (event, true) the first time it sees an
// end-of-event packet for a given digit; redundant retransmissions of the
// same end packet, and every non-final packet, return ok=false. Packets
// whose payload type does not match are ignored (ok=false, err=nil).
func (r *DTMFReceiver) Process(pkt *rtp.Packet) (event DTMFEvent, ok bool, err error) {
	if pkt.PayloadType != r.payloadType {
		return DTMFEvent{}, false, nil
	}
	ev, err := decodeDTMFPayload(pkt.Payload)
	if err != nil {
		return DTMFEvent{}, false, err
	}
	if !ev.EndOfEvent {
		r.lastEnded = false
		return DTMFEvent{}, false, nil
	}
	if r.lastEnded && ev.Digit == r.lastDigit {
		return DTMFEvent{}, false, nil
	}
	r.lastEnded = true
	r.lastDigit = ev.Digit
	return ev, true, nil
}
