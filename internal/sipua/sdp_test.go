package sipua

import (
	"strings"
	"testing"
)

func TestBuildAndParseSDP(t *testing.T) {
	body, err := buildSDP("192.168.1.20", 40000, 1, 1, dirSendRecv)
	if err != nil {
		t.Fatalf("buildSDP: %v", err)
	}
	text := string(body)
	for _, want := range []string{"m=audio 40000 RTP/AVP 0 8 101", "a=rtpmap:101 telephone-event/8000", "a=sendrecv"} {
		if !strings.Contains(text, want) {
			t.Errorf("sdp missing %q:\n%s", want, text)
		}
	}

	rm, err := parseRemoteSDP(body)
	if err != nil {
		t.Fatalf("parseRemoteSDP: %v", err)
	}
	if rm.addr.IP.String() != "192.168.1.20" || rm.addr.Port != 40000 {
		t.Errorf("addr = %s, want 192.168.1.20:40000", rm.addr)
	}
	if rm.payloadType != payloadPCMU {
		t.Errorf("payloadType = %d, want %d", rm.payloadType, payloadPCMU)
	}
	if !rm.telephoneEvent {
		t.Error("expected telephone-event to be detected")
	}
	if rm.onHold() {
		t.Error("sendrecv stream reported on hold")
	}
}

func TestParseRemoteSDPHold(t *testing.T) {
	body, err := buildSDP("10.0.0.1", 5004, 1, 2, dirSendOnly)
	if err != nil {
		t.Fatalf("buildSDP: %v", err)
	}
	rm, err := parseRemoteSDP(body)
	if err != nil {
		t.Fatalf("parseRemoteSDP: %v", err)
	}
	if rm.direction != dirSendOnly || !rm.onHold() {
		t.Errorf("direction = %q, onHold = %v; want sendonly hold", rm.direction, rm.onHold())
	}
}

func TestParseRemoteSDPPrefersFirstG711(t *testing.T) {
	body := "v=0\r\n" +
		"o=- 1 1 IN IP4 10.0.0.2\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.2\r\n" +
		"t=0 0\r\n" +
		"m=audio 6000 RTP/AVP 18 8 0\r\n" +
		"a=rtpmap:18 G729/8000\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n"
	rm, err := parseRemoteSDP([]byte(body))
	if err != nil {
		t.Fatalf("parseRemoteSDP: %v", err)
	}
	if rm.payloadType != payloadPCMA {
		t.Errorf("payloadType = %d, want PCMA", rm.payloadType)
	}
	if rm.telephoneEvent {
		t.Error("telephone-event not offered but detected")
	}
}

func TestParseRemoteSDPErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"garbage", "not sdp"},
		{"no audio", "v=0\r\no=- 1 1 IN IP4 10.0.0.2\r\ns=-\r\nc=IN IP4 10.0.0.2\r\nt=0 0\r\nm=video 6000 RTP/AVP 96\r\n"},
		{"no g711", "v=0\r\no=- 1 1 IN IP4 10.0.0.2\r\ns=-\r\nc=IN IP4 10.0.0.2\r\nt=0 0\r\nm=audio 6000 RTP/AVP 18\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseRemoteSDP([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAnswerDirection(t *testing.T) {
	tests := map[string]string{
		dirSendRecv: dirSendRecv,
		dirSendOnly: dirRecvOnly,
		dirRecvOnly: dirSendOnly,
		dirInactive: dirInactive,
		"":          dirSendRecv,
	}
	for remote, want := range tests {
		if got := answerDirection(remote); got != want {
			t.Errorf("answerDirection(%q) = %q, want %q", remote, got, want)
		}
	}
}
