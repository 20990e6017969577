package voip

import (
	"errors"
	"testing"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
	"github.com/tiensd92/voip-linphone-sdk/internal/engine/enginetest"
)

func TestTrackerBeginConflict(t *testing.T) {
	tr := NewTracker(enginetest.New(), newFakeClock())

	if _, err := tr.Begin(engine.Outgoing, "a"); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	_, err := tr.Begin(engine.Incoming, "b")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second Begin error = %v, want Conflict", err)
	}
	if sess, _ := tr.Current(); sess.CorrelationID != "a" {
		t.Errorf("current = %q, want a", sess.CorrelationID)
	}
}

func TestTrackerBeginAfterEnd(t *testing.T) {
	tr := NewTracker(enginetest.New(), newFakeClock())

	sess, _ := tr.Begin(engine.Outgoing, "a")
	sess.ended = true
	if _, err := tr.Begin(engine.Incoming, "b"); err != nil {
		t.Fatalf("Begin after ended session: %v", err)
	}

	if ended := tr.End(); ended == nil || ended.CorrelationID != "b" {
		t.Fatalf("End() = %+v, want session b", ended)
	}
	if _, ok := tr.Current(); ok {
		t.Error("session still current after End")
	}
	if _, err := tr.Begin(engine.Outgoing, "c"); err != nil {
		t.Errorf("Begin after End: %v", err)
	}
}

func TestTrackerMissedReadThrough(t *testing.T) {
	eng := enginetest.New()
	tr := NewTracker(eng, newFakeClock())
	eng.SetMissed(7)
	if got := tr.MissedCallsTotal(); got != 7 {
		t.Errorf("MissedCallsTotal() = %d, want 7", got)
	}
}

func TestSessionDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &CallSession{}
	if d := s.Duration(start); d != 0 {
		t.Errorf("Duration before streaming = %s, want 0", d)
	}
	s.StreamStartedAt = start
	if d := s.Duration(start.Add(1500 * time.Millisecond)); d != 1500*time.Millisecond {
		t.Errorf("Duration = %s, want 1.5s", d)
	}
}
