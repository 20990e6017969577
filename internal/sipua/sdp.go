package sipua

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

// Static RTP payload types offered by the user agent.
const (
	payloadPCMU           = 0
	payloadPCMA           = 8
	payloadTelephoneEvent = 101
)

// SDP media directions per RFC 3264.
const (
	dirSendRecv = "sendrecv"
	dirSendOnly = "sendonly"
	dirRecvOnly = "recvonly"
	dirInactive = "inactive"
)

// buildSDP creates the local session description for a single audio stream.
func buildSDP(host string, port int, sessionID, version uint64, direction string) ([]byte, error) {
	addrType := "IP4"
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}

	formats := []string{
		strconv.Itoa(payloadPCMU),
		strconv.Itoa(payloadPCMA),
		strconv.Itoa(payloadTelephoneEvent),
	}

	sd := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: host,
		},
		SessionName: "voipbridge",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					{Key: "rtpmap", Value: "8 PCMA/8000"},
					{Key: "rtpmap", Value: "101 telephone-event/8000"},
					{Key: "fmtp", Value: "101 0-15"},
					{Key: "ptime", Value: "20"},
					{Key: direction},
				},
			},
		},
	}

	b, err := sd.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling sdp: %w", err)
	}
	return b, nil
}

// remoteMedia is what the user agent needs from the peer's SDP.
type remoteMedia struct {
	addr           *net.UDPAddr
	direction      string
	payloadType    uint8
	telephoneEvent bool
}

// onHold reports whether the peer stopped sending to us.
func (m remoteMedia) onHold() bool {
	if m.direction == dirSendOnly || m.direction == dirInactive {
		return true
	}
	return m.addr != nil && m.addr.IP.IsUnspecified()
}

// parseRemoteSDP extracts the first audio stream from body.
func parseRemoteSDP(body []byte) (remoteMedia, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return remoteMedia{}, fmt.Errorf("parsing sdp: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			audio = md
			break
		}
	}
	if audio == nil {
		return remoteMedia{}, fmt.Errorf("sdp has no audio stream")
	}

	host := ""
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		host = audio.ConnectionInformation.Address.Address
	} else if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		host = sd.ConnectionInformation.Address.Address
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return remoteMedia{}, fmt.Errorf("sdp connection address %q is not an ip", host)
	}

	rm := remoteMedia{
		addr:        &net.UDPAddr{IP: ip, Port: audio.MediaName.Port.Value},
		direction:   dirSendRecv,
		payloadType: payloadPCMU,
	}

	chosen := false
	for _, f := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		if !chosen && (pt == payloadPCMU || pt == payloadPCMA) {
			rm.payloadType = uint8(pt)
			chosen = true
		}
	}
	if !chosen {
		return remoteMedia{}, fmt.Errorf("sdp offers no G.711 codec")
	}

	for _, a := range audio.Attributes {
		switch a.Key {
		case dirSendRecv, dirSendOnly, dirRecvOnly, dirInactive:
			rm.direction = a.Key
		case "rtpmap":
			if strings.Contains(strings.ToLower(a.Value), "telephone-event") {
				rm.telephoneEvent = true
			}
		}
	}
	return rm, nil
}

// answerDirection mirrors the peer's direction for an SDP answer.
func answerDirection(remote string) string {
	switch remote {
	case dirSendOnly:
		return dirRecvOnly
	case dirRecvOnly:
		return dirSendOnly
	case dirInactive:
		return dirInactive
	default:
		return dirSendRecv
	}
}
