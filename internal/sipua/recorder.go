package sipua

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zaf/g711"
)

const (
	// recorderChanSize holds about 2.5 seconds of 20ms packets.
	recorderChanSize = 128

	// recorderFlushSize is one second of 8kHz u-law samples.
	recorderFlushSize = 8000

	wavHeaderSize = 44
	wavFormatPCMU = 7
)

// recorder writes the received audio of one call to a G.711 u-law WAV file.
// feed never blocks: packets are dropped if the write goroutine falls behind.
type recorder struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	dataSize uint32
	stopped  bool
	logger   *slog.Logger

	packets chan []byte
	done    chan struct{}
}

func newRecorder(path string, logger *slog.Logger) (*recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording file: %w", err)
	}

	// Placeholder header, rewritten with the real size on stop.
	if err := writeWAVHeader(f, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing wav header: %w", err)
	}

	r := &recorder{
		file:    f,
		path:    path,
		logger:  logger.With("file", path),
		packets: make(chan []byte, recorderChanSize),
		done:    make(chan struct{}),
	}
	go r.writeLoop()

	r.logger.Info("call recording started")
	return r, nil
}

// feed queues one RTP payload. PCMA is transcoded to u-law; other payload
// types are ignored.
func (r *recorder) feed(payload []byte, payloadType uint8) {
	if len(payload) == 0 {
		return
	}

	var ulaw []byte
	switch payloadType {
	case payloadPCMU:
		ulaw = make([]byte, len(payload))
		copy(ulaw, payload)
	case payloadPCMA:
		ulaw = g711.EncodeUlaw(g711.DecodeAlaw(payload))
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.packets <- ulaw:
	default:
	}
}

// stop finalizes the file and returns its path and recorded duration.
// Calls after the first return the path and zero.
func (r *recorder) stop() (string, time.Duration) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return r.path, 0
	}
	r.stopped = true
	close(r.packets)
	r.mu.Unlock()

	<-r.done

	if _, err := r.file.Seek(0, 0); err != nil {
		r.logger.Error("failed to seek for wav header rewrite", "error", err)
	} else if err := writeWAVHeader(r.file, r.dataSize); err != nil {
		r.logger.Error("failed to rewrite wav header", "error", err)
	}
	r.file.Close()

	// 8000 bytes per second for 8kHz mono u-law.
	d := time.Duration(r.dataSize) * time.Second / 8000
	r.logger.Info("call recording stopped", "duration", d.String(), "total_bytes", r.dataSize)
	return r.path, d
}

func (r *recorder) writeLoop() {
	defer close(r.done)

	buf := make([]byte, 0, recorderFlushSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		n, err := r.file.Write(buf)
		if err != nil {
			r.logger.Error("failed to write recording data", "error", err)
		}
		r.dataSize += uint32(n)
		buf = buf[:0]
	}

	for pkt := range r.packets {
		buf = append(buf, pkt...)
		if len(buf) >= recorderFlushSize {
			flush()
		}
	}
	flush()
}

// writeWAVHeader writes a 44-byte header for 8kHz mono G.711 u-law.
func writeWAVHeader(f *os.File, dataSize uint32) error {
	var hdr [wavHeaderSize]byte

	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")

	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCMU)
	binary.LittleEndian.PutUint16(hdr[22:24], 1)    // mono
	binary.LittleEndian.PutUint32(hdr[24:28], 8000) // sample rate
	binary.LittleEndian.PutUint32(hdr[28:32], 8000) // byte rate
	binary.LittleEndian.PutUint16(hdr[32:34], 1)    // block align
	binary.LittleEndian.PutUint16(hdr[34:36], 8)    // bits per sample

	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	_, err := f.Write(hdr[:])
	return err
}
