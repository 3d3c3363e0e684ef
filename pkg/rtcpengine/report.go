// Package rtcpengine builds and parses RFC 3550 RTCP compound packets
// (Sender/Receiver Report, Source Description, Goodbye), schedules
// outbound reports at a jittered interval per RFC 3550 §6.3.1, and
// derives RTT and MOS quality signals from them, built on top of
// github.com/pion/rtcp rather than a hand-rolled bit layout.
package rtcpengine

import (
	"time"

	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/arzzra/rtccore/pkg/rtpsession"
	"github.com/pion/rtcp"
)

// BuildSenderReport assembles an RFC 3550 §6.4.1 Sender Report for a
// local source that has been sending RTP: ssrc identifies that source,
// rtpTimestamp is the RTP timestamp corresponding to ntpNow, and
// reports carries one Reception Report block per peer SSRC this node is
// also receiving from.
func BuildSenderReport(ssrc uint32, ntpNow time.Time, rtpTimestamp, packetCount, octetCount uint32, reports []rtcp.ReceptionReport) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     toNTP(ntpNow),
		RTPTime:     rtpTimestamp,
		PacketCount: packetCount,
		OctetCount:  octetCount,
		Reports:     reports,
	}
}

// BuildReceiverReport assembles an RFC 3550 §6.4.2 Receiver Report for a
// node with no outbound RTP of its own to report on ssrc's behalf.
func BuildReceiverReport(ssrc uint32, reports []rtcp.ReceptionReport) *rtcp.ReceiverReport {
	return &rtcp.ReceiverReport{SSRC: ssrc, Reports: reports}
}

// BuildReceptionReport turns one peer SSRC's running Stats into the
// Reception Report block RFC 3550 §6.4.1 describes, consuming (and
// resetting) the interval fraction-lost counter.
func BuildReceptionReport(peerSSRC uint32, stats *rtpsession.Stats, now time.Time) rtcp.ReceptionReport {
	fraction := stats.FractionLost()
	lsr, dlsr, _ := stats.LSRDLSR(now.UnixNano())
	return rtcp.ReceptionReport{
		SSRC:               peerSSRC,
		FractionLost:       uint8(fraction * 256),
		TotalLost:          uint32(stats.CumulativeLost()),
		LastSequenceNumber: stats.ExtendedHighestSeq(),
		Jitter:             uint32(stats.Jitter()),
		LastSenderReport:   lsr,
		Delay:              dlsr,
	}
}

// BuildSDES assembles a Source Description packet carrying a single
// CNAME item for ssrc (RFC 3550 §6.5.1), the minimum every compound
// RTCP packet must include.
func BuildSDES(ssrc uint32, cname string) *rtcp.SourceDescription {
	return &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{
			{
				Source: ssrc,
				Items: []rtcp.SourceDescriptionItem{
					{Type: rtcp.SDESCNAME, Text: cname},
				},
			},
		},
	}
}

// BuildBYE assembles a Goodbye packet for one or more sources leaving
// the session (RFC 3550 §6.6).
func BuildBYE(ssrcs []uint32, reason string) *rtcp.Goodbye {
	return &rtcp.Goodbye{Sources: ssrcs, Reason: reason}
}

// Marshal serializes a compound RTCP packet (any ordered slice of
// rtcp.Packet) to the wire, as RFC 3550 §6.1 requires: at minimum an
// SR-or-RR followed by an SDES.
func Marshal(packets []rtcp.Packet) ([]byte, error) {
	data, err := rtcp.Marshal(packets)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindParse, "rtcpengine.Marshal", err, nil)
	}
	return data, nil
}

// Parse decodes a compound RTCP packet received off the wire.
func Parse(data []byte) ([]rtcp.Packet, error) {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindParse, "rtcpengine.Parse", err, nil)
	}
	return packets, nil
}
