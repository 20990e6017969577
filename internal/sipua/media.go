package sipua

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// rtpStream is the receive side of one call's audio. It binds a UDP port for
// the SDP offer or answer and feeds incoming G.711 payloads to an optional
// recorder.
type rtpStream struct {
	conn   *net.UDPConn
	logger *slog.Logger

	mu       sync.Mutex
	remote   *net.UDPAddr
	rec      *recorder
	received uint64

	done chan struct{}
}

func listenRTP(host string, logger *slog.Logger) (*rtpStream, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
	if err != nil {
		return nil, fmt.Errorf("binding rtp port: %w", err)
	}

	s := &rtpStream{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *rtpStream) port() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

func (s *rtpStream) setRemote(addr *net.UDPAddr) {
	s.mu.Lock()
	s.remote = addr
	s.mu.Unlock()
}

func (s *rtpStream) readLoop() {
	defer close(s.done)

	buf := make([]byte, 1500)
	var pkt rtp.Packet
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("rtp read stopped", "error", err)
			}
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		s.mu.Lock()
		s.received++
		rec := s.rec
		s.mu.Unlock()

		if rec != nil {
			rec.feed(pkt.Payload, pkt.PayloadType)
		}
	}
}

func (s *rtpStream) startRecording(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec != nil {
		return nil
	}
	rec, err := newRecorder(path, s.logger)
	if err != nil {
		return err
	}
	s.rec = rec
	return nil
}

// stopRecording detaches and finalizes the recorder, if any.
func (s *rtpStream) stopRecording() (string, bool) {
	s.mu.Lock()
	rec := s.rec
	s.rec = nil
	s.mu.Unlock()

	if rec == nil {
		return "", false
	}
	path, _ := rec.stop()
	return path, true
}

func (s *rtpStream) packets() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

func (s *rtpStream) recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec != nil
}

func (s *rtpStream) close() {
	s.conn.Close()
	<-s.done
	s.stopRecording()

	s.mu.Lock()
	received := s.received
	s.mu.Unlock()
	s.logger.Debug("rtp stream closed", "packets_received", received)
}

// Telephone-event timing per RFC 4733 at 8kHz.
const (
	eventInterval    = 20 * time.Millisecond
	eventStepSamples = 160
	eventVolume      = 10
)

// sendTelephoneEvent plays one digit as RFC 4733 events to the remote media
// address. It blocks for the duration of the tone.
func (s *rtpStream) sendTelephoneEvent(digit rune, d time.Duration) error {
	event, ok := dtmfEventCode(digit)
	if !ok {
		return fmt.Errorf("invalid dtmf digit %q", digit)
	}

	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	if remote == nil {
		return errors.New("no remote media address")
	}

	if d <= 0 {
		d = defaultToneDuration
	}
	total := uint16(d.Seconds() * 8000)

	ssrc := rand.Uint32()
	seq := uint16(rand.UintN(1 << 16))
	ts := rand.Uint32()

	send := func(duration uint16, end, marker bool) error {
		payload := [4]byte{event, eventVolume, byte(duration >> 8), byte(duration)}
		if end {
			payload[1] |= 0x80
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    payloadTelephoneEvent,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           ssrc,
			},
			Payload: payload[:],
		}
		b, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshaling rtp event: %w", err)
		}
		seq++
		if _, err := s.conn.WriteToUDP(b, remote); err != nil {
			return fmt.Errorf("sending rtp event: %w", err)
		}
		return nil
	}

	for step := uint16(eventStepSamples); step < total; step += eventStepSamples {
		if err := send(step, false, step == eventStepSamples); err != nil {
			return err
		}
		time.Sleep(eventInterval)
	}
	// The end packet is sent three times.
	for i := 0; i < 3; i++ {
		if err := send(total, true, false); err != nil {
			return err
		}
	}
	return nil
}

func dtmfEventCode(r rune) (uint8, bool) {
	r = upperDigit(r)
	switch {
	case r >= '0' && r <= '9':
		return uint8(r - '0'), true
	case r == '*':
		return 10, true
	case r == '#':
		return 11, true
	case r >= 'A' && r <= 'D':
		return uint8(r-'A') + 12, true
	}
	return 0, false
}
