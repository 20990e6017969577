package voip

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// stateClass groups engine call states by the outward event they produce.
type stateClass int

const (
	classUnknown stateClass = iota
	classNoop
	classRing
	classConnected
	classStreaming
	classPaused
	classResuming
	classEnd
	classError
	classReleased
)

// classify maps every declared engine call state to its class. New engine
// states must be added here; the state coverage test fails otherwise.
func classify(s engine.CallState) stateClass {
	switch s {
	case engine.CallOutgoingInit, engine.CallOutgoingProgress, engine.CallOutgoingRinging,
		engine.CallOutgoingEarlyMedia, engine.CallIncomingReceived, engine.CallIncomingEarlyMedia:
		return classRing
	case engine.CallConnected:
		return classConnected
	case engine.CallStreamsRunning:
		return classStreaming
	case engine.CallPausing, engine.CallPaused, engine.CallPausedByRemote:
		return classPaused
	case engine.CallResuming:
		return classResuming
	case engine.CallEnd:
		return classEnd
	case engine.CallError:
		return classError
	case engine.CallReleased:
		return classReleased
	case engine.CallIdle, engine.CallPushIncomingReceived, engine.CallReferred,
		engine.CallUpdating, engine.CallUpdatedByRemote,
		engine.CallEarlyUpdating, engine.CallEarlyUpdatedByRemote:
		return classNoop
	default:
		return classUnknown
	}
}

// Normalizer turns engine call-state notifications into outward events and
// keeps the tracked session in step.
type Normalizer struct {
	tracker *Tracker
	eng     engine.Engine
	clock   Clock
	logger  *slog.Logger

	busyCallID string // last call declined for arriving during a session
}

// NewNormalizer returns a normalizer over the given tracker.
func NewNormalizer(tracker *Tracker, eng engine.Engine, clock Clock, logger *slog.Logger) *Normalizer {
	return &Normalizer{tracker: tracker, eng: eng, clock: clock, logger: logger}
}

// Normalize handles one call-state notification and returns the event it
// maps to, if any.
func (n *Normalizer) Normalize(ev engine.CallStateChanged) (Event, bool) {
	class := classify(ev.State)
	switch class {
	case classUnknown:
		n.logger.Warn("unhandled call state", "state", ev.State, "call_id", ev.Call.ID)
		return Event{}, false
	case classNoop:
		return Event{}, false
	}

	sess, ok := n.session(ev)
	if !ok {
		n.logger.Debug("ignoring notification for untracked call",
			"state", ev.State,
			"call_id", ev.Call.ID,
		)
		return Event{}, false
	}

	switch class {
	case classRing:
		if sess.ringEmitted {
			return Event{}, false
		}
		sess.ringEmitted = true
		return NewEvent(EventRing, map[string]any{
			KeyExtension:   n.extension(),
			KeyPhoneNumber: sess.RemoteUser,
			KeyCallType:    sess.Direction.String(),
		}), true

	case classConnected:
		sess.Connected = true
		return NewEvent(EventConnected, map[string]any{
			KeyCallID: ev.Call.ID,
			KeyUUID:   sess.CorrelationID,
		}), true

	case classStreaming:
		sess.Connected = true
		sess.Paused = false
		if sess.Streamed() {
			return Event{}, false
		}
		sess.StreamStartedAt = n.clock.Now()
		n.startRecording(sess)
		return NewEvent(EventUp, map[string]any{
			KeyCallID: ev.Call.ID,
			KeyUUID:   sess.CorrelationID,
		}), true

	case classPaused:
		sess.Paused = true
		return NewEvent(EventPaused, nil), true

	case classResuming:
		return NewEvent(EventResuming, nil), true

	case classEnd:
		sess.ended = true
		if sess.hungUp {
			return Event{}, false
		}
		sess.hungUp = true
		duration := sess.Duration(n.clock.Now())
		n.stopRecording(sess)
		sess.StreamStartedAt = time.Time{}
		return NewEvent(EventHangup, map[string]any{
			KeyDuration:   duration.Milliseconds(),
			KeyRecordFile: sess.RecordingFile,
		}), true

	case classError:
		sess.ended = true
		return NewEvent(EventError, map[string]any{
			KeyMessage: ev.Message,
		}), true

	case classReleased:
		n.tracker.End()
		if sess.Direction != engine.Incoming || sess.Connected {
			return Event{}, false
		}
		return NewEvent(EventMissed, map[string]any{
			KeyPhoneNumber: sess.RemoteUser,
			KeyTotalMissed: n.tracker.MissedCallsTotal(),
		}), true
	}
	return Event{}, false
}

// session finds the session a notification belongs to. An inbound call
// arriving while no call is active starts a new session.
func (n *Normalizer) session(ev engine.CallStateChanged) (*CallSession, bool) {
	if sess, ok := n.tracker.Lookup(ev.Call.ID); ok {
		return sess, true
	}
	if ev.Call.Dir != engine.Incoming || !ev.State.IsIncomingUnanswered() {
		return nil, false
	}

	correlationID := n.eng.CustomHeader(ev.Call.ID, engine.HeaderCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	sess, err := n.tracker.Begin(engine.Incoming, correlationID)
	if err != nil {
		n.declineBusy(ev.Call.ID, err)
		return nil, false
	}
	sess.CallID = ev.Call.ID
	sess.RemoteUser = ev.Call.RemoteUser
	n.logger.Info("call session started",
		"uuid", correlationID,
		"direction", sess.Direction,
		"remote", sess.RemoteUser,
	)
	return sess, true
}

// declineBusy rejects an inbound call that arrived while another session is
// active. Later ringing states of the same call are not declined again.
func (n *Normalizer) declineBusy(callID string, cause error) {
	if callID == n.busyCallID {
		return
	}
	n.busyCallID = callID
	n.logger.Warn("declining inbound call while another call is active",
		"call_id", callID,
		"error", cause,
	)
	if err := n.eng.Decline(callID, engine.ReasonBusy); err != nil {
		n.logger.Error("failed to decline busy call", "call_id", callID, "error", err)
	}
}

func (n *Normalizer) extension() string {
	if acct, ok := n.eng.DefaultAccount(); ok {
		return acct.Username
	}
	return ""
}

func (n *Normalizer) startRecording(sess *CallSession) {
	if !sess.RecordingRequested || n.eng.IsRecording(sess.CallID) {
		return
	}
	if err := n.eng.StartRecording(sess.CallID); err != nil {
		n.logger.Error("failed to start recording", "uuid", sess.CorrelationID, "error", err)
	}
}

func (n *Normalizer) stopRecording(sess *CallSession) {
	if !n.eng.IsRecording(sess.CallID) {
		return
	}
	if err := n.eng.StopRecording(sess.CallID); err != nil {
		n.logger.Error("failed to stop recording", "uuid", sess.CorrelationID, "error", err)
	}
}
