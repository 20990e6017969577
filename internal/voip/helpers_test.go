package voip

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tiensd92/voip-linphone-sdk/internal/engine"
	"github.com/tiensd92/voip-linphone-sdk/internal/engine/enginetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due, in
// deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeCallUI records presentation calls and tracks how many calls are on
// screen at once.
type fakeCallUI struct {
	mu         sync.Mutex
	presented  []IncomingCall
	ended      map[string]EndReason
	onScreen   int
	maxVisible int
	refuse     error
}

func newFakeCallUI() *fakeCallUI {
	return &fakeCallUI{ended: make(map[string]EndReason)}
}

func (u *fakeCallUI) ReportIncoming(call IncomingCall) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.refuse != nil {
		return u.refuse
	}
	u.presented = append(u.presented, call)
	u.onScreen++
	if u.onScreen > u.maxVisible {
		u.maxVisible = u.onScreen
	}
	return nil
}

func (u *fakeCallUI) ReportEnded(uuid string, reason EndReason) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ended[uuid] = reason
	u.onScreen--
}

func (u *fakeCallUI) presentedCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.presented)
}

func (u *fakeCallUI) endReason(uuid string) (EndReason, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.ended[uuid]
	return r, ok
}

// registeredEngine returns a fake engine with a default account for 1000 at
// pbx.example.com.
func registeredEngine(t *testing.T) *enginetest.Engine {
	t.Helper()
	eng := enginetest.New()
	acct, err := eng.CreateAccount(engine.AccountParams{
		Username: "1000",
		Password: "secret",
		Domain:   "pbx.example.com",
		Port:     5060,
	})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	if err := eng.SetDefaultAccount(acct.ID); err != nil {
		t.Fatalf("setting default account: %v", err)
	}
	return eng
}
