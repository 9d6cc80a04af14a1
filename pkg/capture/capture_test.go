package capture

import (
	"context"
	"sync"
	"time"
)

// Shared test fakes: a manual timer factory, an adjustable clock, and
// capture doubles for every collaborator.

type manualTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

func (t *manualTimer) fire() {
	t.fired = true
	t.fn()
}

type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func newManualTimers() *manualTimers {
	return &manualTimers{}
}

func (f *manualTimers) factory(d time.Duration, fn func()) TimerHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &manualTimer{d: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// fireLatest fires the most recently scheduled live timer, simulating
// its deadline passing. Returns false when nothing was pending.
func (f *manualTimers) fireLatest() bool {
	f.mu.Lock()
	var target *manualTimer
	for i := len(f.timers) - 1; i >= 0; i-- {
		if !f.timers[i].stopped && !f.timers[i].fired {
			target = f.timers[i]
			break
		}
	}
	if target != nil {
		target.fired = true
	}
	f.mu.Unlock()
	if target == nil {
		return false
	}
	target.fn()
	return true
}

// fireAll fires every pending timer, including stopped ones, to verify
// generation guards rather than timer cancellation alone.
func (f *manualTimers) fireAll() {
	f.mu.Lock()
	pending := make([]*manualTimer, 0, len(f.timers))
	for _, t := range f.timers {
		if !t.fired {
			t.fired = true
			pending = append(pending, t)
		}
	}
	f.mu.Unlock()
	for _, t := range pending {
		t.fn()
	}
}

func (f *manualTimers) latest() *manualTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return nil
	}
	return f.timers[len(f.timers)-1]
}

func (f *manualTimers) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentReply struct {
	callID string
	reply  Reply
}

type fakeReplies struct {
	mu      sync.Mutex
	replies []sentReply
}

func (f *fakeReplies) Say(callID string, reply Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{callID: callID, reply: reply})
	return nil
}

func (f *fakeReplies) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies)
}

func (f *fakeReplies) last() (sentReply, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return sentReply{}, false
	}
	return f.replies[len(f.replies)-1], true
}

type endedCall struct {
	callID  string
	message string
	reason  string
}

type fakeCalls struct {
	mu   sync.Mutex
	ends []endedCall
}

func (f *fakeCalls) EndCall(_ context.Context, callID, message, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends = append(f.ends, endedCall{callID: callID, message: message, reason: reason})
	return nil
}

func (f *fakeCalls) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ends)
}

type fakeNotifier struct {
	mu    sync.Mutex
	lines []string
}

func (f *fakeNotifier) AddLiveEvent(_ string, text string, _ bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, text)
}

func (f *fakeNotifier) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

type fakeBridge struct {
	mu     sync.Mutex
	ready  bool
	err    error
	issued []GatherSpec
}

func (f *fakeBridge) Ready(string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeBridge) IssueGather(_ context.Context, _ string, spec GatherSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.issued = append(f.issued, spec)
	return nil
}

func (f *fakeBridge) issuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issued)
}

// rig bundles a manager with all of its fakes.
type rig struct {
	mgr      *Manager
	store    *MemoryStore
	replies  *fakeReplies
	calls    *fakeCalls
	notifier *fakeNotifier
	bridge   *fakeBridge
	timers   *manualTimers
	clock    *fakeClock
}

func newRig() *rig {
	r := &rig{
		store:    NewMemoryStore(),
		replies:  &fakeReplies{},
		calls:    &fakeCalls{},
		notifier: &fakeNotifier{},
		bridge:   &fakeBridge{},
		timers:   &manualTimers{},
		clock:    newFakeClock(),
	}
	disp := NewDispatcher(DispatcherOptions{
		Store:    r.store,
		Notifier: r.notifier,
		Bridge:   r.bridge,
		Calls:    r.calls,
		Replies:  r.replies,
		Clock:    r.clock.Now,
	})
	r.mgr = NewManager(disp, Options{
		Clock:  r.clock.Now,
		Timers: r.timers.factory,
	})
	return r
}
