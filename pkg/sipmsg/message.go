// Package sipmsg is a thin, immutable value layer over the wire-level SIP
// types of github.com/emiago/sipgo/sip. It adds the dialog/transaction
// relevant accessors (Via branch, CSeq, Call-ID, tags, Contact, Route set)
// the rest of the core needs, without re-implementing message parsing.
// Everything here reads headers through sip.Message's generic
// GetHeader/GetHeaders and type-asserts to the concrete header struct, so
// it only depends on the stable low-level header types rather than any
// per-header typed accessor surface.
package sipmsg

import (
	"fmt"
	"strconv"

	"github.com/emiago/sipgo/sip"
)

// Message is the discriminated union of a Request or a Response,
// immutable once built.
type Message interface {
	IsRequest() bool
	IsResponse() bool
	CallID() string
	CSeqNum() uint32
	CSeqMethod() string
	Via() (branch string, host string, port int, ok bool)
	Body() []byte
	String() string
}

// Request wraps a built *sip.Request. Construct via BuildRequest.
type Request struct {
	msg *sip.Request
}

// Response wraps a built *sip.Response. Construct via BuildResponse.
type Response struct {
	msg *sip.Response
}

func (r *Request) IsRequest() bool   { return true }
func (r *Request) IsResponse() bool  { return false }
func (r *Response) IsRequest() bool  { return false }
func (r *Response) IsResponse() bool { return true }

// Raw returns the underlying sipgo message, for code that needs to hand it
// to a transport for wire serialization.
func (r *Request) Raw() *sip.Request   { return r.msg }
func (r *Response) Raw() *sip.Response { return r.msg }

func (r *Request) Method() string      { return string(r.msg.Method) }
func (r *Request) RequestURI() sip.Uri { return r.msg.Recipient }

func (r *Response) StatusCode() int { return int(r.msg.StatusCode) }
func (r *Response) Reason() string  { return r.msg.Reason }

func (r *Request) CallID() string  { return callID(r.msg) }
func (r *Response) CallID() string { return callID(r.msg) }

func callID(msg sip.Message) string {
	h, ok := msg.GetHeader("Call-ID").(*sip.CallID)
	if !ok || h == nil {
		return ""
	}
	return h.Value()
}

func (r *Request) CSeqNum() uint32     { return cseqNum(r.msg) }
func (r *Response) CSeqNum() uint32    { return cseqNum(r.msg) }
func (r *Request) CSeqMethod() string  { return cseqMethod(r.msg) }
func (r *Response) CSeqMethod() string { return cseqMethod(r.msg) }

func cseq(msg sip.Message) (*sip.CSeq, bool) {
	h, ok := msg.GetHeader("CSeq").(*sip.CSeq)
	return h, ok && h != nil
}

func cseqNum(msg sip.Message) uint32 {
	if h, ok := cseq(msg); ok {
		return h.SeqNo
	}
	return 0
}

func cseqMethod(msg sip.Message) string {
	if h, ok := cseq(msg); ok {
		return string(h.MethodName)
	}
	return ""
}

func (r *Request) Via() (string, string, int, bool)  { return topVia(r.msg) }
func (r *Response) Via() (string, string, int, bool) { return topVia(r.msg) }

func topVia(msg sip.Message) (branch, host string, port int, ok bool) {
	via, isVia := msg.GetHeader("Via").(*sip.ViaHeader)
	if !isVia || via == nil {
		return "", "", 0, false
	}
	b, _ := via.Params.Get("branch")
	return b, via.Host, via.Port, true
}

func (r *Request) Body() []byte  { return r.msg.Body() }
func (r *Response) Body() []byte { return r.msg.Body() }

func toHeader(msg sip.Message) (*sip.ToHeader, bool) {
	h, ok := msg.GetHeader("To").(*sip.ToHeader)
	return h, ok && h != nil
}

func fromHeader(msg sip.Message) (*sip.FromHeader, bool) {
	h, ok := msg.GetHeader("From").(*sip.FromHeader)
	return h, ok && h != nil
}

// ToTag returns the tag parameter of the To header, if any.
func ToTag(msg sip.Message) (string, bool) {
	h, ok := toHeader(msg)
	if !ok {
		return "", false
	}
	return h.Params.Get("tag")
}

// ToURI returns the To header's address URI.
func ToURI(msg sip.Message) (sip.Uri, bool) {
	h, ok := toHeader(msg)
	if !ok {
		return sip.Uri{}, false
	}
	return h.Address, true
}

// FromTag returns the tag parameter of the From header, if any.
func FromTag(msg sip.Message) (string, bool) {
	h, ok := fromHeader(msg)
	if !ok {
		return "", false
	}
	return h.Params.Get("tag")
}

// FromURI returns the From header's address URI.
func FromURI(msg sip.Message) (sip.Uri, bool) {
	h, ok := fromHeader(msg)
	if !ok {
		return sip.Uri{}, false
	}
	return h.Address, true
}

// ContactURI returns the first Contact header's URI, if any.
func ContactURI(msg sip.Message) (sip.Uri, bool) {
	h, ok := msg.GetHeader("Contact").(*sip.ContactHeader)
	if !ok || h == nil {
		return sip.Uri{}, false
	}
	return h.Address, true
}

// RecordRouteSet returns every Record-Route header's URI, following the
// linked-list form sipgo uses when a single header line carries a
// comma-separated list, in wire order (top-to-bottom as received).
func RecordRouteSet(msg sip.Message) []sip.Uri {
	var out []sip.Uri
	for _, h := range msg.GetHeaders("Record-Route") {
		rr, ok := h.(*sip.RecordRouteHeader)
		if !ok {
			continue
		}
		for hop := rr; hop != nil; hop = hop.Next {
			out = append(out, hop.Address)
		}
	}
	return out
}

// RouteSet returns every Route header's URI in wire order.
func RouteSet(msg sip.Message) []sip.Uri {
	var out []sip.Uri
	for _, h := range msg.GetHeaders("Route") {
		rt, ok := h.(*sip.RouteHeader)
		if !ok {
			continue
		}
		for hop := rt; hop != nil; hop = hop.Next {
			out = append(out, hop.Address)
		}
	}
	return out
}

// Reversed returns a copy of uris in reverse order — used when a UAC turns
// the INVITE's Record-Route set into its own Route set (RFC 3261 §12.1.2).
func Reversed(uris []sip.Uri) []sip.Uri {
	out := make([]sip.Uri, len(uris))
	for i, u := range uris {
		out[len(uris)-1-i] = u
	}
	return out
}

// BuildRequest constructs a new Request from a method and request-URI,
// mirroring sip.NewRequest, then returns it wrapped.
func BuildRequest(method string, ruri sip.Uri) *Request {
	return &Request{msg: sip.NewRequest(sip.RequestMethod(method), ruri)}
}

// WrapRequest wraps an already-built sip.Request, e.g. one handed up from
// the transport layer after parsing.
func WrapRequest(msg *sip.Request) *Request { return &Request{msg: msg} }

// WrapResponse wraps an already-built sip.Response.
func WrapResponse(msg *sip.Response) *Response { return &Response{msg: msg} }

// BuildResponse constructs a new Response for a given request, status, and
// reason, copying Via/Record-Route/From/To/Call-ID/CSeq forward the way
// sip.NewResponseFromRequest does (RFC 3261 §8.2.6).
func BuildResponse(req *Request, statusCode int, reason string) *Response {
	resp := sip.NewResponseFromRequest(req.msg, statusCode, reason, nil)
	return &Response{msg: resp}
}

// FormatAddr renders a host:port pair the way Via/Contact headers expect.
func FormatAddr(host string, port int) string {
	if port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}

// String renders the wire form, useful for logging.
func (r *Request) String() string  { return r.msg.String() }
func (r *Response) String() string { return r.msg.String() }

var _ fmt.Stringer = (*Request)(nil)
var _ fmt.Stringer = (*Response)(nil)
var _ Message = (*Request)(nil)
var _ Message = (*Response)(nil)
