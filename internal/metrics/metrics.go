// Package metrics wires the core's Prometheus collectors, following the
// promauto registration idiom used throughout pkg/dialog/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors groups every metric the core exposes. Construct one with New
// and thread it through the managers that need it; a nil *Collectors is
// not valid, use Noop() in tests that don't care about metrics.
type Collectors struct {
	TransactionsActive   prometheus.Gauge
	TransactionsTotal    *prometheus.CounterVec // labeled by type: client_invite, server_invite, ...
	TransactionTimeouts  prometheus.Counter
	Retransmissions      prometheus.Counter

	DialogsActive prometheus.Gauge
	DialogsTotal  prometheus.Counter

	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter

	SRTPReplayDrops  prometheus.Counter
	SRTPAuthFailures prometheus.Counter

	JitterBufferDrops *prometheus.CounterVec // labeled by reason: late, duplicate
	MediaQualityMOS   *prometheus.GaugeVec   // labeled by session_id
}

// New registers every collector against reg (pass prometheus.NewRegistry()
// in tests to avoid polluting the default registry).
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		TransactionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtccore", Subsystem: "transaction", Name: "active",
			Help: "Number of transactions currently tracked.",
		}),
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "transaction", Name: "total",
			Help: "Transactions created, by kind.",
		}, []string{"kind"}),
		TransactionTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "transaction", Name: "timeouts_total",
			Help: "Transactions that reached a timeout terminal state.",
		}),
		Retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "transaction", Name: "retransmissions_total",
			Help: "Request/response retransmissions sent.",
		}),
		DialogsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtccore", Subsystem: "dialog", Name: "active",
			Help: "Number of dialogs currently tracked.",
		}),
		DialogsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "dialog", Name: "total",
			Help: "Dialogs created.",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtccore", Subsystem: "session", Name: "active",
			Help: "Number of media sessions currently tracked.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "session", Name: "total",
			Help: "Media sessions created.",
		}),
		SRTPReplayDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "srtp", Name: "replay_drops_total",
			Help: "Packets dropped by the SRTP replay window.",
		}),
		SRTPAuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "srtp", Name: "auth_failures_total",
			Help: "Packets dropped for failing SRTP authentication.",
		}),
		JitterBufferDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtccore", Subsystem: "rtp", Name: "jitter_buffer_drops_total",
			Help: "Packets dropped by the jitter buffer, by reason.",
		}, []string{"reason"}),
		MediaQualityMOS: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rtccore", Subsystem: "rtcp", Name: "media_quality_mos",
			Help: "Estimated MOS per session.",
		}, []string{"session_id"}),
	}
}

// Noop returns a Collectors registered against a private registry, for
// components/tests that need a valid, non-nil *Collectors but don't care
// about reading the values back.
func Noop() *Collectors {
	return New(prometheus.NewRegistry())
}
