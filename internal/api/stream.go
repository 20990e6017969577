package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps idle event streams open through proxies.
const heartbeatInterval = 15 * time.Second

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startSSE sends the event-stream headers and lifts the server write
// deadline for the life of the stream.
func startSSE(w http.ResponseWriter) *sseWriter {
	rc := http.NewResponseController(w)
	// Not every writer supports deadlines; the stream still works without.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, rc: rc}
	s.comment("connected")
	return s
}

// event writes one named event with a JSON data line.
func (s *sseWriter) event(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleEvents streams outward voip events in emission order until the
// client disconnects or the service stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := s.svc.Subscribe()
	defer unsubscribe()

	sse := startSSE(w)
	s.logger.Info("event stream opened", "remote_addr", r.RemoteAddr)
	defer s.logger.Info("event stream closed", "remote_addr", r.RemoteAddr)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.event(string(ev.Name), ev); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := sse.comment("heartbeat"); err != nil {
				return
			}
		}
	}
}
