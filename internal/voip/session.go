package voip

import (
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// CallSession is the transient state of one call attempt.
type CallSession struct {
	CorrelationID string
	CallID        string // engine call id, empty until the engine reports one
	Direction     engine.Direction
	RemoteUser    string
	CreatedAt     time.Time

	// StreamStartedAt is latched on the first streaming entry and cleared
	// only when the call ends.
	StreamStartedAt    time.Time
	Paused             bool
	Connected          bool
	RecordingRequested bool
	RecordingFile      string

	ringEmitted bool
	signalled   bool // first ringing state handed to the arbitrator
	hungUp      bool
	ended       bool // End or Error processed, waiting for Released
}

// Streamed reports whether the session has reached media streaming.
func (s *CallSession) Streamed() bool {
	return !s.StreamStartedAt.IsZero()
}

// Duration returns the time elapsed since streaming started, or zero if it
// never did.
func (s *CallSession) Duration(now time.Time) time.Duration {
	if !s.Streamed() {
		return 0
	}
	return now.Sub(s.StreamStartedAt)
}

// Tracker owns the single active CallSession. It is not safe for concurrent
// use; the service worker is its only caller.
type Tracker struct {
	eng     engine.Engine
	clock   Clock
	current *CallSession
}

// NewTracker returns an empty tracker.
func NewTracker(eng engine.Engine, clock Clock) *Tracker {
	return &Tracker{eng: eng, clock: clock}
}

// Begin starts a new session. It fails with a Conflict error while another
// session is active. A session whose call already ended but has not been
// released yet does not block a new one.
func (t *Tracker) Begin(dir engine.Direction, correlationID string) (*CallSession, error) {
	if t.current != nil && !t.current.ended {
		return nil, newError(CodeConflict, "call %s is already active", t.current.CorrelationID)
	}
	t.current = &CallSession{
		CorrelationID: correlationID,
		Direction:     dir,
		CreatedAt:     t.clock.Now(),
	}
	return t.current, nil
}

// Current returns the active session.
func (t *Tracker) Current() (*CallSession, bool) {
	return t.current, t.current != nil
}

// Lookup returns the session bound to the engine call id.
func (t *Tracker) Lookup(callID string) (*CallSession, bool) {
	if t.current == nil || t.current.CallID != callID {
		return nil, false
	}
	return t.current, true
}

// End destroys the active session and returns it.
func (t *Tracker) End() *CallSession {
	s := t.current
	t.current = nil
	return s
}

// Snapshot returns a copy of the active session.
func (t *Tracker) Snapshot() (CallSession, bool) {
	if t.current == nil {
		return CallSession{}, false
	}
	return *t.current, true
}

// MissedCallsTotal reads the running missed-call count from the engine.
func (t *Tracker) MissedCallsTotal() int {
	return t.eng.MissedCallsCount()
}
