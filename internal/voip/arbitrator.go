package voip

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SignalSource names the channel an incoming-call signal came from.
type SignalSource int

const (
	SourcePushWake SignalSource = iota
	SourceLiveInvite
)

func (s SignalSource) String() string {
	switch s {
	case SourcePushWake:
		return "pushWake"
	case SourceLiveInvite:
		return "liveInvite"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// AttemptState is the lifecycle state of an IncomingCallAttempt.
type AttemptState int

const (
	AttemptPending AttemptState = iota
	AttemptPresented
	AttemptAnswered
	AttemptTimedOut
	AttemptCancelled
)

func (s AttemptState) String() string {
	switch s {
	case AttemptPending:
		return "pending"
	case AttemptPresented:
		return "presentedToUI"
	case AttemptAnswered:
		return "answered"
	case AttemptTimedOut:
		return "timedOut"
	case AttemptCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal returns true once the attempt is resolved.
func (s AttemptState) IsTerminal() bool {
	return s >= AttemptAnswered
}

// ArbitratorState is the arbitrator's own state.
type ArbitratorState int

const (
	ArbitratorIdle ArbitratorState = iota
	ArbitratorPending
	ArbitratorPresented
)

func (s ArbitratorState) String() string {
	switch s {
	case ArbitratorIdle:
		return "Idle"
	case ArbitratorPending:
		return "PendingSignal"
	case ArbitratorPresented:
		return "Presented"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Signal is one observation of an incoming call.
type Signal struct {
	Source        SignalSource
	CorrelationID string
	// FallbackID is presented when the signal carries no correlation id.
	// It is never used for matching.
	FallbackID    string
	RemoteAddress string
	DisplayName   string
	CallID        string // engine call id, live invites only
}

// IncomingCallAttempt is a ringing inbound call before the user acts on it.
type IncomingCallAttempt struct {
	SourceSignal  SignalSource
	CorrelationID string
	RemoteAddress string
	DisplayName   string
	CallID        string
	State         AttemptState
	Signals       int
	// AnswerRequested is set when the user answered before the live invite
	// arrived; the engine accept is issued once the invite merges.
	AnswerRequested bool

	// fallbackID marks a CorrelationID taken from Signal.FallbackID.
	fallbackID bool
}

// Outcome reasons passed to the outcome callback.
const (
	OutcomeAnswered   = "answered"
	OutcomeTimeout    = "timeout"
	OutcomeCancelled  = "cancelled"
	OutcomeSuperseded = "superseded"
	OutcomeDismissed  = "dismissed"
)

// ArbitratorConfig wires an Arbitrator to its collaborators.
type ArbitratorConfig struct {
	UI          CallUI
	Clock       Clock
	Debounce    time.Duration
	RingTimeout time.Duration
	// Post schedules f on the serialized worker. Timer callbacks never touch
	// arbitrator state directly.
	Post func(f func())
	// Answer accepts the engine call with the given id.
	Answer func(callID string) error
	// Outcome is called once for every attempt that leaves the arbitrator.
	Outcome func(a IncomingCallAttempt, reason string)
	Logger  *slog.Logger
}

// Arbitrator merges push-wake and live-invite signals into a single
// incoming-call lifecycle. It is not safe for concurrent use; all methods
// run on the service worker.
type Arbitrator struct {
	cfg     ArbitratorConfig
	logger  *slog.Logger
	current *IncomingCallAttempt
	timer   Timer
	// timerSeq identifies the armed timer so a stale callback that was
	// already queued when its timer got replaced does nothing.
	timerSeq uint64
}

// NewArbitrator returns an idle arbitrator.
func NewArbitrator(cfg ArbitratorConfig) *Arbitrator {
	return &Arbitrator{cfg: cfg, logger: cfg.Logger}
}

// State returns the arbitrator state.
func (a *Arbitrator) State() ArbitratorState {
	if a.current == nil {
		return ArbitratorIdle
	}
	if a.current.State == AttemptPresented {
		return ArbitratorPresented
	}
	return ArbitratorPending
}

// Attempt returns a copy of the active attempt.
func (a *Arbitrator) Attempt() (IncomingCallAttempt, bool) {
	if a.current == nil {
		return IncomingCallAttempt{}, false
	}
	return *a.current, true
}

// Signal feeds one incoming-call observation.
func (a *Arbitrator) Signal(sig Signal) {
	if a.current != nil {
		if a.current.matches(sig) {
			a.merge(sig)
			return
		}
		a.logger.Info("new incoming call supersedes pending attempt",
			"previous", a.current.CorrelationID,
			"correlation_id", sig.CorrelationID,
		)
		a.retire(AttemptCancelled, OutcomeSuperseded, EndSuperseded)
	}

	a.current = &IncomingCallAttempt{
		SourceSignal:  sig.Source,
		CorrelationID: sig.CorrelationID,
		RemoteAddress: sig.RemoteAddress,
		DisplayName:   sig.DisplayName,
		CallID:        sig.CallID,
		State:         AttemptPending,
		Signals:       1,
	}
	if sig.CorrelationID == "" && sig.FallbackID != "" {
		a.current.CorrelationID = sig.FallbackID
		a.current.fallbackID = true
	}
	a.logger.Debug("incoming call attempt pending",
		"source", sig.Source,
		"correlation_id", sig.CorrelationID,
		"remote", sig.RemoteAddress,
	)
	a.arm(a.cfg.Debounce, a.onDebounce)
}

func (a *Arbitrator) merge(sig Signal) {
	cur := a.current
	cur.Signals++
	if cur.CorrelationID == "" {
		cur.CorrelationID = sig.CorrelationID
		if cur.CorrelationID == "" && sig.FallbackID != "" {
			cur.CorrelationID = sig.FallbackID
			cur.fallbackID = true
		}
	}
	if cur.RemoteAddress == "" {
		cur.RemoteAddress = sig.RemoteAddress
	}
	if cur.DisplayName == "" {
		cur.DisplayName = sig.DisplayName
	}
	if cur.CallID == "" && sig.CallID != "" {
		cur.CallID = sig.CallID
		if cur.AnswerRequested {
			a.answer()
			return
		}
	}
	if cur.State == AttemptPending {
		a.arm(a.cfg.Debounce, a.onDebounce)
	}
}

// Answer handles the user answering from the system call UI. An empty
// correlation id matches the active attempt.
func (a *Arbitrator) Answer(correlationID string) error {
	if a.current == nil || (correlationID != "" && correlationID != a.current.CorrelationID) {
		return ErrNoActiveCall
	}
	if a.current.CallID == "" {
		// Push arrived first; accept once the invite lands, bounded by the
		// ring timeout.
		a.current.AnswerRequested = true
		if a.current.State == AttemptPending {
			a.current.State = AttemptPresented
		}
		a.arm(a.cfg.RingTimeout, a.onRingTimeout)
		return nil
	}
	return a.answer()
}

func (a *Arbitrator) answer() error {
	callID := a.current.CallID
	a.retire(AttemptAnswered, OutcomeAnswered, "")
	if err := a.cfg.Answer(callID); err != nil {
		a.logger.Error("failed to accept incoming call", "call_id", callID, "error", err)
		return err
	}
	return nil
}

// Connected is called when the engine reports the inbound call answered by
// other means.
func (a *Arbitrator) Connected(callID string) {
	if a.current == nil || a.current.CallID != callID {
		return
	}
	a.retire(AttemptAnswered, OutcomeAnswered, "")
}

// Cancel retires the attempt bound to the engine call because the call went
// away before being answered.
func (a *Arbitrator) Cancel(callID string) {
	if a.current == nil || a.current.CallID == "" || a.current.CallID != callID {
		return
	}
	a.retire(AttemptCancelled, OutcomeCancelled, EndRemoteEnded)
}

// Dismiss retires the attempt because the user ended it from the system
// call UI. The UI already knows, so no end report is made.
func (a *Arbitrator) Dismiss(correlationID string) bool {
	if a.current == nil || (correlationID != "" && correlationID != a.current.CorrelationID) {
		return false
	}
	a.retire(AttemptCancelled, OutcomeDismissed, "")
	return true
}

func (a *Arbitrator) onDebounce() {
	cur := a.current
	if cur == nil || cur.State != AttemptPending {
		return
	}
	cur.State = AttemptPresented
	err := a.cfg.UI.ReportIncoming(IncomingCall{
		UUID:        cur.CorrelationID,
		Handle:      cur.RemoteAddress,
		DisplayName: cur.DisplayName,
	})
	if err != nil {
		a.logger.Warn("call ui refused incoming call", "correlation_id", cur.CorrelationID, "error", err)
		a.retire(AttemptCancelled, OutcomeCancelled, "")
		return
	}
	a.logger.Info("incoming call presented",
		"correlation_id", cur.CorrelationID,
		"source", cur.SourceSignal,
		"signals", cur.Signals,
	)
	a.arm(a.cfg.RingTimeout, a.onRingTimeout)
}

func (a *Arbitrator) onRingTimeout() {
	cur := a.current
	if cur == nil || cur.State != AttemptPresented {
		return
	}
	a.logger.Info("incoming call unanswered", "correlation_id", cur.CorrelationID)
	a.retire(AttemptTimedOut, OutcomeTimeout, EndUnanswered)
}

// retire resolves the active attempt and returns to idle. A non-empty end
// reason is reported to the call UI if the attempt had been presented.
func (a *Arbitrator) retire(state AttemptState, reason string, end EndReason) {
	cur := a.current
	if cur == nil {
		return
	}
	a.disarm()
	presented := cur.State == AttemptPresented
	cur.State = state
	a.current = nil

	if presented && end != "" {
		a.cfg.UI.ReportEnded(cur.CorrelationID, end)
	}
	if a.cfg.Outcome != nil {
		a.cfg.Outcome(*cur, reason)
	}
}

func (a *Arbitrator) arm(d time.Duration, fire func()) {
	a.disarm()
	a.timerSeq++
	seq := a.timerSeq
	a.timer = a.cfg.Clock.AfterFunc(d, func() {
		a.cfg.Post(func() {
			if seq != a.timerSeq {
				return
			}
			a.timer = nil
			fire()
		})
	})
}

func (a *Arbitrator) disarm() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerSeq++
}

// matches reports whether sig describes the same call. Correlation ids
// decide when both sides carry one; otherwise engine call id, then caller.
// A fallback id is local to this side and never decides.
func (c *IncomingCallAttempt) matches(sig Signal) bool {
	if c.CorrelationID != "" && !c.fallbackID && sig.CorrelationID != "" {
		return strings.EqualFold(c.CorrelationID, sig.CorrelationID)
	}
	if c.CallID != "" && sig.CallID != "" {
		return c.CallID == sig.CallID
	}
	if c.RemoteAddress != "" && sig.RemoteAddress != "" {
		return remoteUser(c.RemoteAddress) == remoteUser(sig.RemoteAddress)
	}
	return false
}

// remoteUser reduces "sip:1001@pbx.example.com" style addresses to "1001".
func remoteUser(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	addr = strings.TrimPrefix(addr, "sips:")
	addr = strings.TrimPrefix(addr, "sip:")
	if i := strings.IndexAny(addr, "@;"); i >= 0 {
		addr = addr[:i]
	}
	return addr
}
