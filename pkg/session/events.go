package session

import (
	"github.com/arzzra/rtccore/pkg/rtcpengine"
	"github.com/arzzra/rtccore/pkg/rtpsession"
	"github.com/arzzra/rtccore/pkg/sdpneg"
	"github.com/rs/zerolog"
)

// AppEventKind is one of the named events a Session surfaces to its
// application.
type AppEventKind int

const (
	IncomingCall AppEventKind = iota
	CallAnswered
	CallEnded
	MediaEstablished
	MediaQuality
	DtmfReceived
	Warning
)

func (k AppEventKind) String() string {
	switch k {
	case IncomingCall:
		return "IncomingCall"
	case CallAnswered:
		return "CallAnswered"
	case CallEnded:
		return "CallEnded"
	case MediaEstablished:
		return "MediaEstablished"
	case MediaQuality:
		return "MediaQuality"
	case DtmfReceived:
		return "DtmfReceived"
	case Warning:
		return "Warning"
	default:
		return "Unknown"
	}
}

// AppEvent is one occurrence the Session Coordinator surfaces to the
// application. Only the field(s) relevant to Kind are set.
type AppEvent struct {
	Kind     AppEventKind
	SessionID string
	DialogID  string
	Reason    string

	Media   *sdpneg.NegotiatedMedia
	Quality *rtcpengine.Quality
	DTMF    *rtpsession.DTMFEvent
	Err     error
}

// Handler receives application events, e.g. for tests or a synchronous
// caller that does not want to read the Bus channel directly.
type Handler func(AppEvent)

// Bus is the bounded, fan-out event queue between the Session Coordinator
// and the application. MediaQuality samples are never waited for under
// back-pressure, since the next sample supersedes them: a full queue gives
// up its head event to make room. Publishing any other kind blocks until
// the application has made room.
type Bus struct {
	out chan AppEvent
	log zerolog.Logger
}

// NewBus builds a Bus with the given channel capacity (0 defaults to 64).
func NewBus(capacity int, logger zerolog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{
		out: make(chan AppEvent, capacity),
		log: logger.With().Str("component", "session.bus").Logger(),
	}
}

// Events returns the channel the application reads from.
func (b *Bus) Events() <-chan AppEvent { return b.out }

// publish delivers e under the back-pressure policy above. For
// MediaQuality, a full queue is drained by one (discarding whatever sample
// currently sits at its head, not necessarily another quality sample —
// the cost of expressing this over a plain buffered channel) before the
// fresh sample is enqueued; every other kind blocks until there is room.
func (b *Bus) publish(e AppEvent) {
	if e.Kind == MediaQuality {
		select {
		case b.out <- e:
		default:
			select {
			case <-b.out:
			default:
			}
			select {
			case b.out <- e:
			default:
			}
			b.log.Warn().Str("session_id", e.SessionID).Msg("dropped a stale event to make room for a media quality sample")
		}
		return
	}
	b.out <- e
}
