package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tiensd92/voip-linphone-sdk/internal/push"
	"github.com/tiensd92/voip-linphone-sdk/internal/voip"
)

// handlePush accepts a raw VoIP push payload relayed by the host and feeds
// the wake-up into the service.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body must not be empty")
		return
	}

	alert, err := push.ParseVoIPPayload(body)
	if errors.Is(err, push.ErrNotIncomingCall) {
		writeError(w, http.StatusUnprocessableEntity, "payload is not an incoming call")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed push payload")
		return
	}

	if err := s.svc.PushReceived(r.Context(), voip.IncomingPush{
		CallerID:   alert.CallerID,
		CallerName: alert.CallerName,
		UUID:       alert.UUID,
	}); err != nil {
		writeCommandError(w, err)
		return
	}
	s.logger.Info("push wake-up accepted", "uuid", alert.UUID, "caller_id", alert.CallerID)
	writeJSON(w, http.StatusAccepted, true)
}
