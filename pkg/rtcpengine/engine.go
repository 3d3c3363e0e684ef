package rtcpengine

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/arzzra/rtccore/internal/clock"
	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/pkg/rtpsession"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
)

// QualityHandler is invoked whenever a fresh Quality sample has been
// computed from an inbound report.
type QualityHandler func(Quality)

// Config configures an Engine.
type Config struct {
	SessionKey     string // scheduler key, typically the owning session id
	LocalSSRC      uint32
	CNAME          string
	RTPSession     *rtpsession.Session
	Transport      transport.Transport
	RemoteAddr     net.Addr
	ReportInterval time.Duration
	BandwidthFraction float64
	Quality        config.Quality

	Clock   clock.Clock
	Metrics *metrics.Collectors
	Logger  zerolog.Logger
}

// Engine schedules outbound RTCP compound packets for one RTP session,
// builds them from the session's live Stats, and folds inbound SR/RR/BYE
// packets into RTT and MOS estimates.
type Engine struct {
	cfg config.RTCP
	key string

	localSSRC  uint32
	cname      string
	rtp        *rtpsession.Session
	tr         transport.Transport
	remoteAddr net.Addr

	quality config.Quality

	sched *clock.Scheduler

	mu         sync.Mutex
	onQuality  QualityHandler
	onBye      func(ssrc uint32, reason string)
	lastRTT    time.Duration
	stopped    bool

	mx  *metrics.Collectors
	log zerolog.Logger
}

// New builds an Engine. Call Start to begin scheduled sending.
func New(cfg Config) *Engine {
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Second
	}
	if cfg.BandwidthFraction <= 0 {
		cfg.BandwidthFraction = 0.05
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	mx := cfg.Metrics
	if mx == nil {
		mx = metrics.Noop()
	}
	return &Engine{
		cfg:        config.RTCP{ReportInterval: cfg.ReportInterval, BandwidthFraction: cfg.BandwidthFraction},
		key:        cfg.SessionKey,
		localSSRC:  cfg.LocalSSRC,
		cname:      cfg.CNAME,
		rtp:        cfg.RTPSession,
		tr:         cfg.Transport,
		remoteAddr: cfg.RemoteAddr,
		quality:    cfg.Quality,
		sched:      clock.NewScheduler(clk),
		mx:         mx,
		log:        cfg.Logger,
	}
}

// OnQuality registers the handler invoked after each inbound report
// yields a fresh Quality sample.
func (e *Engine) OnQuality(h QualityHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onQuality = h
}

// OnBye registers the handler invoked when a Goodbye is received for a
// peer SSRC.
func (e *Engine) OnBye(h func(ssrc uint32, reason string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onBye = h
}

// Start arms the first scheduled report send, jittered per RFC 3550
// §6.3.1 so that many sessions starting together don't synchronize their
// RTCP traffic.
func (e *Engine) Start() {
	e.scheduleNext()
}

// Stop cancels the scheduled report timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.sched.CancelAll(e.key)
}

func (e *Engine) scheduleNext() {
	e.mu.Lock()
	interval := e.cfg.ReportInterval
	e.mu.Unlock()
	// RFC 3550 §6.3.1: randomize the interval over [0.5, 1.5) x nominal to
	// avoid RTCP traffic synchronizing across a large session.
	jittered := time.Duration(float64(interval) * (0.5 + rand.Float64()))
	e.sched.Schedule(e.key, "rtcp-report", jittered, e.sendReport)
}

func (e *Engine) sendReport() {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped || e.tr == nil {
		return
	}

	now := time.Now()
	var reports []rtcp.ReceptionReport
	if e.rtp != nil {
		for _, ssrc := range e.rtp.PeerSSRCs() {
			if st := e.rtp.StatsFor(ssrc); st != nil {
				reports = append(reports, BuildReceptionReport(ssrc, st, now))
			}
		}
	}

	sr := BuildSenderReport(e.localSSRC, now, 0, 0, 0, reports)
	sdes := BuildSDES(e.localSSRC, e.cname)
	data, err := Marshal([]rtcp.Packet{sr, sdes})
	if err == nil {
		if sendErr := e.tr.Send(context.Background(), data, e.remoteAddr); sendErr != nil {
			e.log.Warn().Err(sendErr).Msg("failed to send RTCP report")
		}
	}

	e.scheduleNext()
}

// HandleIncoming processes one compound RTCP packet received from the
// peer: Sender Reports update the corresponding Stats' LSR bookkeeping,
// Reception Reports addressed to our SSRC feed an RTT/MOS Quality
// sample, and Goodbye triggers onBye.
func (e *Engine) HandleIncoming(data []byte) error {
	packets, err := Parse(data)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, p := range packets {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			if e.rtp != nil {
				if st := e.rtp.StatsFor(pkt.SSRC); st != nil {
					st.RecordSenderReport(middle32(pkt.NTPTime), now.UnixNano())
				}
			}
			e.processReceptionReports(pkt.Reports, now)
		case *rtcp.ReceiverReport:
			e.processReceptionReports(pkt.Reports, now)
		case *rtcp.Goodbye:
			e.handleBye(pkt)
		}
	}
	return nil
}

func (e *Engine) processReceptionReports(reports []rtcp.ReceptionReport, now time.Time) {
	for _, rr := range reports {
		if rr.SSRC != e.localSSRC {
			continue
		}
		rtt, ok := RTT(rr.LastSenderReport, rr.Delay, now)
		if !ok {
			continue
		}
		e.mu.Lock()
		e.lastRTT = rtt
		handler := e.onQuality
		e.mu.Unlock()

		lossFraction := float64(rr.FractionLost) / 256
		jitterDuration := time.Duration(rr.Jitter) * time.Second / 8000
		mos := MOS(lossFraction, rtt/2, jitterDuration)
		quality := Evaluate(mos, lossFraction, rtt, jitterDuration, e.quality)
		e.mx.MediaQualityMOS.WithLabelValues(e.key).Set(mos)
		if handler != nil {
			handler(quality)
		}
	}
}

func (e *Engine) handleBye(pkt *rtcp.Goodbye) {
	e.mu.Lock()
	handler := e.onBye
	e.mu.Unlock()
	if handler == nil {
		return
	}
	for _, ssrc := range pkt.Sources {
		handler(ssrc, pkt.Reason)
	}
}

// LastRTT returns the most recently computed round-trip time, or zero if
// no Reception Report addressed to our SSRC has arrived yet.
func (e *Engine) LastRTT() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRTT
}
