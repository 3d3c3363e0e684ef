package dialog

import "fmt"

// ID is the tuple (Call-ID, local tag, remote tag) from RFC 3261 §12 that
// identifies a dialog. An early dialog may carry a placeholder RemoteTag
// until the far end picks one.
type ID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func (id ID) String() string {
	return fmt.Sprintf("%s|%s|%s", id.CallID, id.LocalTag, id.RemoteTag)
}

// Confirmed reports whether every component required of a confirmed
// dialog is present.
func (id ID) Confirmed() bool {
	return id.CallID != "" && id.LocalTag != "" && id.RemoteTag != ""
}
