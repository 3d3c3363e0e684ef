package sdpneg

import (
	"net"
	"strconv"
	"strings"

	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/pion/sdp/v3"
)

// audioMediaDescription finds the first audio media description, the only
// kind this negotiator handles: other media lines (e.g. video) are ignored
// and do not appear in the answer.
func audioMediaDescription(sd *sdp.SessionDescription) (*sdp.MediaDescription, error) {
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return md, nil
		}
	}
	return nil, rtcerr.New(rtcerr.KindParse, "sdpneg.audioMediaDescription", map[string]any{"reason": "no audio media description"})
}

// parseCodecs reads the rtpmap attributes for every payload type format
// listed in the media description, skipping the dynamic telephone-event
// entry (handled separately as DTMF, not a negotiable codec).
func parseCodecs(md *sdp.MediaDescription) ([]Codec, error) {
	rtpmaps := make(map[string]string, len(md.Attributes))
	for _, attr := range md.Attributes {
		if attr.Key == "rtpmap" {
			parts := strings.SplitN(attr.Value, " ", 2)
			if len(parts) == 2 {
				rtpmaps[parts[0]] = parts[1]
			}
		}
	}

	var codecs []Codec
	for _, format := range md.MediaName.Formats {
		rtpmap, ok := rtpmaps[format]
		if !ok {
			continue
		}
		if strings.Contains(rtpmap, "telephone-event") {
			continue
		}
		pt, err := strconv.Atoi(format)
		if err != nil {
			continue
		}
		name, clockRate, channels := parseRtpmap(rtpmap)
		if name == "" {
			continue
		}
		codecs = append(codecs, Codec{PayloadType: uint8(pt), Name: name, ClockRate: clockRate, Channels: channels})
	}
	if len(codecs) == 0 {
		return nil, rtcerr.New(rtcerr.KindParse, "sdpneg.parseCodecs", map[string]any{"reason": "no rtpmap-described codecs"})
	}
	return codecs, nil
}

// parseRtpmap splits "PCMU/8000" or "L16/8000/2" into name/clockRate/channels.
func parseRtpmap(rtpmap string) (name string, clockRate uint32, channels uint8) {
	parts := strings.Split(rtpmap, "/")
	if len(parts) < 2 {
		return "", 0, 1
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 1
	}
	channels = 1
	if len(parts) == 3 {
		if c, err := strconv.Atoi(parts[2]); err == nil {
			channels = uint8(c)
		}
	}
	return strings.ToUpper(parts[0]), uint32(rate), channels
}

// parseDirection reads the peer's sendonly/recvonly/sendrecv/inactive
// attribute, defaulting to sendrecv per RFC 4566 §6.
func parseDirection(md *sdp.MediaDescription) Direction {
	for _, attr := range md.Attributes {
		switch attr.Key {
		case "sendonly":
			return SendOnly
		case "recvonly":
			return RecvOnly
		case "inactive":
			return Inactive
		case "sendrecv":
			return SendRecv
		}
	}
	return SendRecv
}

// mediaAddress resolves the peer's RTP endpoint, preferring a media-level
// connection line over the session-level one (RFC 4566 §5.7).
func mediaAddress(sd *sdp.SessionDescription, md *sdp.MediaDescription) (*net.UDPAddr, error) {
	conn := md.ConnectionInformation
	if conn == nil {
		conn = sd.ConnectionInformation
	}
	if conn == nil || conn.Address == nil {
		return nil, rtcerr.New(rtcerr.KindParse, "sdpneg.mediaAddress", map[string]any{"reason": "no connection information"})
	}
	ip := net.ParseIP(conn.Address.Address)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", conn.Address.Address)
		if err != nil {
			return nil, rtcerr.Wrap(rtcerr.KindParse, "sdpneg.mediaAddress", err, map[string]any{"host": conn.Address.Address})
		}
		ip = resolved.IP
	}
	return &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}, nil
}
