package sipmsg

import "github.com/emiago/sipgo/sip"

// BuildAckNon2xx constructs the ACK for a non-2xx final response to an
// INVITE client transaction (RFC 3261 §17.1.1.3). This ACK belongs to the
// INVITE transaction itself — the transaction layer sends it directly, the
// Dialog Manager never sees it.
func BuildAckNon2xx(invite *Request, resp *Response) *Request {
	ruri := invite.msg.Recipient
	ack := sip.NewRequest(sip.ACK, *ruri.Clone())
	ack.SipVersion = invite.msg.SipVersion

	sip.CopyHeaders("Via", invite.msg, ack)
	if len(invite.msg.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", invite.msg, ack)
	} else {
		hdrs := resp.msg.GetHeaders("Record-Route")
		for i := len(hdrs) - 1; i >= 0; i-- {
			ack.AppendHeader(&sip.GenericHeader{HeaderName: "Route", Contents: hdrs[i].Value()})
		}
	}

	maxFwd := sip.MaxForwards(70)
	ack.AppendHeader(&maxFwd)
	if h, ok := fromHeader(invite.msg); ok {
		clone := *h
		clone.Params = h.Params.Clone()
		ack.AppendHeader(&clone)
	}
	if h, ok := toHeader(resp.msg); ok {
		clone := *h
		clone.Params = h.Params.Clone()
		ack.AppendHeader(&clone)
	}
	if h, ok := callIDHeader(invite.msg); ok {
		clone := *h
		ack.AppendHeader(&clone)
	}
	if h, ok := cseq(invite.msg); ok {
		clone := *h
		clone.MethodName = sip.ACK
		ack.AppendHeader(&clone)
	}
	return &Request{msg: ack}
}

func callIDHeader(msg sip.Message) (*sip.CallID, bool) {
	h, ok := msg.GetHeader("Call-ID").(*sip.CallID)
	return h, ok && h != nil
}
