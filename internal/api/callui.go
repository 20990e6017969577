package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

// ErrNoCallUI is returned when an incoming call is presented while no call
// UI client is connected.
var ErrNoCallUI = errors.New("api: no call ui connected")

// callUIBuffer is the per-client queue of presentation requests.
const callUIBuffer = 16

// CallUIRequest is one instruction to the host's system call UI.
type CallUIRequest struct {
	Type        string         `json:"type"` // "incoming" or "ended"
	UUID        string         `json:"uuid"`
	Handle      string         `json:"handle,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Reason      voip.EndReason `json:"reason,omitempty"`
}

// CallUIStream implements voip.CallUI by forwarding presentation requests to
// connected call UI clients over an event stream.
type CallUIStream struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[int]chan CallUIRequest
	nextID  int
}

var _ voip.CallUI = (*CallUIStream)(nil)

// NewCallUIStream returns a stream with no clients.
func NewCallUIStream(logger *slog.Logger) *CallUIStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallUIStream{
		logger:  logger.With("subsystem", "callui"),
		clients: make(map[int]chan CallUIRequest),
	}
}

// ReportIncoming asks every connected client to present the call.
func (c *CallUIStream) ReportIncoming(call voip.IncomingCall) error {
	if c.broadcast(CallUIRequest{
		Type:        "incoming",
		UUID:        call.UUID,
		Handle:      call.Handle,
		DisplayName: call.DisplayName,
	}) == 0 {
		return ErrNoCallUI
	}
	return nil
}

// ReportEnded tells clients a presented call went away.
func (c *CallUIStream) ReportEnded(uuid string, reason voip.EndReason) {
	c.broadcast(CallUIRequest{Type: "ended", UUID: uuid, Reason: reason})
}

// Clients returns the number of connected call UI clients.
func (c *CallUIStream) Clients() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// broadcast queues req for every client and returns how many accepted it.
func (c *CallUIStream) broadcast(req CallUIRequest) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delivered := 0
	for id, ch := range c.clients {
		select {
		case ch <- req:
			delivered++
		default:
			c.logger.Warn("call ui client lagging, dropping request", "client", id, "type", req.Type)
		}
	}
	return delivered
}

func (c *CallUIStream) subscribe() (<-chan CallUIRequest, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan CallUIRequest, callUIBuffer)
	c.clients[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.clients, id)
	}
}

// handleCallUIStream serves GET /api/v1/callui/stream.
func (s *Server) handleCallUIStream(w http.ResponseWriter, r *http.Request) {
	if s.callUI == nil {
		writeError(w, http.StatusNotFound, "call ui stream not enabled")
		return
	}
	reqs, unsubscribe := s.callUI.subscribe()
	defer unsubscribe()

	sse := startSSE(w)
	s.logger.Info("call ui client connected", "remote_addr", r.RemoteAddr)
	defer s.logger.Info("call ui client disconnected", "remote_addr", r.RemoteAddr)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case req := <-reqs:
			if err := sse.event(req.Type, req); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := sse.comment("heartbeat"); err != nil {
				return
			}
		}
	}
}

type callUIAnswerRequest struct {
	UUID string `json:"uuid"`
}

type audioSessionRequest struct {
	Active bool `json:"active"`
}

// handleCallUIAnswer serves POST /api/v1/callui/answer.
func (s *Server) handleCallUIAnswer(w http.ResponseWriter, r *http.Request) {
	var req callUIAnswerRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ok, err := s.svc.CallUIAnswer(r.Context(), req.UUID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

// handleCallUIEnd serves POST /api/v1/callui/end.
func (s *Server) handleCallUIEnd(w http.ResponseWriter, r *http.Request) {
	var req callUIAnswerRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ok, err := s.svc.CallUIEnd(r.Context(), req.UUID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

// handleCallUIAudioSession serves POST /api/v1/callui/audio-session.
func (s *Server) handleCallUIAudioSession(w http.ResponseWriter, r *http.Request) {
	var req audioSessionRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ok, err := s.svc.CallUIAudioSession(r.Context(), req.Active)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}
