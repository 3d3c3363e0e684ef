package transaction

import "fmt"

// Key is the tuple (branch, sent-by host, sent-by port, method) from RFC
// 3261 §17.1.3 that uniquely identifies a transaction within a node.
type Key struct {
	Branch       string
	SentByHost   string
	SentByPort   int
	Method       string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%s", k.Branch, k.SentByHost, k.SentByPort, k.Method)
}

// ackKeyForInvite derives the key an end-to-end ACK to a 2xx would use for
// dialog-level correlation: same branch/host/port as the INVITE, method ACK.
// (ACK to a 2xx is not itself a transaction per RFC 3261 §17, so this is
// only used for logging/metrics correlation, never for store lookup.)
func ackKeyForInvite(k Key) Key {
	k.Method = "ACK"
	return k
}
