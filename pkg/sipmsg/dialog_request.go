package sipmsg

import "github.com/emiago/sipgo/sip"

// DialogRequestParams carries the fields the Dialog Manager knows about a
// dialog that a new in-dialog (or initial UAC) request needs.
type DialogRequestParams struct {
	Method    string
	CallID    string
	FromURI   sip.Uri
	FromTag   string
	ToURI     sip.Uri
	ToTag     string // empty for the initial INVITE of a new dialog
	CSeq      uint32
	RouteSet  []sip.Uri
	Contact   sip.Uri
	ViaHost   string
	ViaPort   int
	Branch    string
	MaxForwards uint32
}

// BuildDialogRequest constructs a request addressed to the dialog's remote
// target (or, for a new dialog, the original request-URI), with Route
// header built from the route set, the way pkg/dialog/requests.go in the
// teacher assembles in-dialog requests by hand.
func BuildDialogRequest(ruri sip.Uri, p DialogRequestParams) *Request {
	req := sip.NewRequest(sip.RequestMethod(p.Method), ruri)

	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            p.ViaHost,
		Port:            p.ViaPort,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", p.Branch)
	req.AppendHeader(via)

	maxFwd := sip.MaxForwards(p.MaxForwards)
	if maxFwd == 0 {
		maxFwd = 70
	}
	req.AppendHeader(&maxFwd)

	for _, hop := range p.RouteSet {
		req.AppendHeader(&sip.RouteHeader{Address: hop})
	}

	from := &sip.FromHeader{Address: p.FromURI, Params: sip.NewParams()}
	from.Params.Add("tag", p.FromTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: p.ToURI, Params: sip.NewParams()}
	if p.ToTag != "" {
		to.Params.Add("tag", p.ToTag)
	}
	req.AppendHeader(to)

	callID := sip.CallID(p.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeq{SeqNo: p.CSeq, MethodName: sip.RequestMethod(p.Method)})
	req.AppendHeader(&sip.ContactHeader{Address: p.Contact})

	return &Request{msg: req}
}
