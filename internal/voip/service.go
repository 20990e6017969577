// Package voip coordinates the call lifecycle between the host application
// and the telephony engine: it normalizes engine notifications into outward
// events, tracks the single active call, arbitrates incoming-call signals
// and dispatches host commands. All engine access runs on one worker.
package voip

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
)

// Default arbitration timings.
const (
	DefaultDebounce    = 2 * time.Second
	DefaultRingTimeout = 20 * time.Second
)

// subscriberBuffer is the event channel capacity per subscriber.
const subscriberBuffer = 256

// IncomingPush is a decoded push wake-up for an incoming call.
type IncomingPush struct {
	CallerID   string
	CallerName string
	UUID       string
}

// PushTokenRegistrar forwards a device push token to the PBX.
type PushTokenRegistrar interface {
	RegisterPushToken(ctx context.Context, token, platform string) error
}

// Options configures a Service.
type Options struct {
	Engine         engine.Engine
	CallUI         CallUI
	Clock          Clock
	Logger         *slog.Logger
	Debounce       time.Duration
	RingTimeout    time.Duration
	RecordingPaths RecordingPaths
	PushTokens     PushTokenRegistrar
}

// Status is a point-in-time copy of service state, safe to read from any
// goroutine.
type Status struct {
	Registration        engine.RegistrationState
	RegistrationMessage string
	Session             CallSession
	SessionActive       bool
	Arbitration         ArbitratorState
	EventCounts         map[EventName]int
	Outcomes            map[string]int
	Dropped             int
}

// Service owns the engine-facing worker.
type Service struct {
	eng        engine.Engine
	logger     *slog.Logger
	clock      Clock
	pushTokens PushTokenRegistrar

	q          *queue
	listener   *serviceListener
	tracker    *Tracker
	normalizer *Normalizer
	arbitrator *Arbitrator
	dispatcher *Dispatcher

	// Worker-only counters, copied into the snapshot.
	registration        engine.RegistrationState
	registrationMessage string
	eventCounts         map[EventName]int
	outcomes            map[string]int
	dropped             int

	mu      sync.RWMutex
	subs    map[int]chan Event
	nextSub int
	status  Status
}

// New builds a service. Run must be called for commands to execute.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.CallUI == nil {
		opts.CallUI = NopCallUI{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}

	logger := opts.Logger.With("subsystem", "voip")
	s := &Service{
		eng:         opts.Engine,
		logger:      logger,
		clock:       opts.Clock,
		pushTokens:  opts.PushTokens,
		q:           newQueue(),
		eventCounts: make(map[EventName]int),
		outcomes:    make(map[string]int),
		subs:        make(map[int]chan Event),
	}
	s.listener = &serviceListener{s: s}
	s.tracker = NewTracker(opts.Engine, opts.Clock)
	s.normalizer = NewNormalizer(s.tracker, opts.Engine, opts.Clock, logger)
	s.dispatcher = NewDispatcher(opts.Engine, s.tracker, opts.RecordingPaths, logger)
	s.arbitrator = NewArbitrator(ArbitratorConfig{
		UI:          opts.CallUI,
		Clock:       opts.Clock,
		Debounce:    opts.Debounce,
		RingTimeout: opts.RingTimeout,
		Post:        func(f func()) { s.q.push(f) },
		Answer:      s.dispatcher.AnswerCall,
		Outcome:     s.onOutcome,
		Logger:      opts.Logger.With("subsystem", "arbitrator"),
	})
	s.snapshot()
	// Notifications emitted before Run starts wait in the queue.
	opts.Engine.AddListener(s.listener)
	return s
}

// Run processes commands and engine notifications in order until ctx is
// cancelled, then stops listening to the engine.
func (s *Service) Run(ctx context.Context) error {
	defer s.eng.RemoveListener(s.listener)
	defer s.q.close()

	s.logger.Info("voip worker started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("voip worker stopped")
			s.closeSubscribers()
			return nil
		case <-s.q.ready:
			for _, f := range s.q.drain() {
				f()
			}
			s.snapshot()
		}
	}
}

// Subscribe returns a channel of outward events in emission order and a
// function that ends the subscription. Events are dropped for a subscriber
// that falls subscriberBuffer events behind.
func (s *Service) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Status returns the latest snapshot.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.EventCounts = maps.Clone(st.EventCounts)
	st.Outcomes = maps.Clone(st.Outcomes)
	return st
}

// RegistrationState returns the registration state wire name.
func (s *Service) RegistrationState() string {
	return s.Status().Registration.String()
}

type serviceListener struct {
	s *Service
}

func (l *serviceListener) OnNotification(n engine.Notification) {
	l.s.q.push(func() { l.s.handle(n) })
}

func (s *Service) handle(n engine.Notification) {
	switch n := n.(type) {
	case engine.CallStateChanged:
		s.handleCall(n)
	case engine.RegistrationStateChanged:
		s.handleRegistration(n)
	default:
		s.logger.Warn("unknown engine notification", "type", n)
	}
}

func (s *Service) handleCall(n engine.CallStateChanged) {
	s.logger.Debug("call state changed",
		"call_id", n.Call.ID,
		"state", n.State,
		"message", n.Message,
	)
	if ev, ok := s.normalizer.Normalize(n); ok {
		s.publish(ev)
	}
	if n.Call.Dir != engine.Incoming {
		return
	}

	switch classify(n.State) {
	case classRing:
		if n.State.IsIncomingUnanswered() {
			s.signalInvite(n.Call)
		}
	case classConnected, classStreaming:
		s.arbitrator.Connected(n.Call.ID)
	case classEnd, classError, classReleased:
		s.arbitrator.Cancel(n.Call.ID)
	}
}

// signalInvite feeds the first ringing state of a tracked inbound call to
// the arbitrator. Without an X-UUID header the attempt is presented under
// the session's id; if it merged into a push attempt instead, the session
// takes the push's id so both sides report the same uuid.
func (s *Service) signalInvite(call engine.Call) {
	sess, ok := s.tracker.Lookup(call.ID)
	if !ok || sess.signalled {
		return
	}
	sess.signalled = true

	header := s.eng.CustomHeader(call.ID, engine.HeaderCorrelationID)
	s.arbitrator.Signal(Signal{
		Source:        SourceLiveInvite,
		CorrelationID: header,
		FallbackID:    sess.CorrelationID,
		RemoteAddress: call.RemoteUser,
		DisplayName:   call.DisplayName,
		CallID:        call.ID,
	})
	if header != "" {
		return
	}
	if a, ok := s.arbitrator.Attempt(); ok && a.CallID == call.ID && a.CorrelationID != sess.CorrelationID {
		s.logger.Debug("session adopts push correlation id", "from", sess.CorrelationID, "to", a.CorrelationID)
		sess.CorrelationID = a.CorrelationID
	}
}

func (s *Service) handleRegistration(n engine.RegistrationStateChanged) {
	s.registration = n.State
	s.registrationMessage = n.Message
	s.logger.Info("registration state changed", "state", n.State, "message", n.Message)
	s.publish(NewEvent(EventRegistration, map[string]any{
		KeyRegistrationState: n.State.String(),
		KeyMessage:           n.Message,
	}))
}

func (s *Service) onOutcome(a IncomingCallAttempt, reason string) {
	s.outcomes[reason]++
	s.publish(NewEvent(EventReleased, map[string]any{
		KeyReason: reason,
		KeyUUID:   a.CorrelationID,
	}))
}

// publish fans ev out to subscribers. Only the worker calls it.
func (s *Service) publish(ev Event) {
	s.eventCounts[ev.Name]++
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped++
			s.logger.Warn("event subscriber lagging, dropping event", "subscriber", id, "event", ev.Name)
		}
	}
}

func (s *Service) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// snapshot copies worker state for concurrent readers.
func (s *Service) snapshot() {
	sess, active := s.tracker.Snapshot()
	st := Status{
		Registration:        s.registration,
		RegistrationMessage: s.registrationMessage,
		Session:             sess,
		SessionActive:       active,
		Arbitration:         s.arbitrator.State(),
		EventCounts:         maps.Clone(s.eventCounts),
		Outcomes:            maps.Clone(s.outcomes),
		Dropped:             s.dropped,
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// submit runs fn on the worker and waits for its result.
func submit[T any](ctx context.Context, s *Service, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	ok := s.q.push(func() {
		v, err := fn()
		done <- result{v, err}
	})
	if !ok {
		var zero T
		return zero, ErrServiceStopped
	}
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
