package sipmsg

import "github.com/emiago/sipgo/sip"

// HeaderView is an ordered, case-insensitive multimap view over a
// message's headers. It doesn't copy storage — it's a
// read projection over the underlying sip.Message, which already
// maintains headers in wire order.
type HeaderView struct {
	msg sip.Message
}

// Headers returns a HeaderView over msg.
func Headers(msg sip.Message) HeaderView { return HeaderView{msg: msg} }

// Values returns every value for name (case-insensitive by construction,
// since sip.Message's own lookup is), in wire order.
func (v HeaderView) Values(name string) []string {
	hdrs := v.msg.GetHeaders(name)
	out := make([]string, 0, len(hdrs))
	for _, h := range hdrs {
		out = append(out, h.Value())
	}
	return out
}

// First returns the first value for name, if present.
func (v HeaderView) First(name string) (string, bool) {
	h := v.msg.GetHeader(name)
	if h == nil {
		return "", false
	}
	return h.Value(), true
}

// Names returns every distinct header name present, in first-seen order.
func (v HeaderView) Names() []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range v.msg.Headers() {
		n := h.Name()
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
