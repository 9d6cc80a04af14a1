// Package mock provides an in-memory transport for local runs and
// integration tests, without any network dependency.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxsprint/voxly/pkg/capture"
	"github.com/voxsprint/voxly/pkg/transports"
)

type GatherRecord struct {
	CallID string
	Spec   capture.GatherSpec
}

type HangupRecord struct {
	CallID  string
	Message string
	Reason  string
}

type Transport struct {
	recvCh chan transports.Event
	closed atomic.Bool

	mu      sync.Mutex
	gathers []GatherRecord
	hangups []HangupRecord
	ready   bool
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan transports.Event, 256),
		ready:  true,
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan transports.Event { return t.recvCh }

// Push injects an inbound event.
func (t *Transport) Push(ev transports.Event) {
	if t.closed.Load() {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case t.recvCh <- ev:
	default:
	}
}

// PressKey injects a single live keypress.
func (t *Transport) PressKey(callID, digit string) {
	t.Push(transports.Event{Kind: transports.EventKeypress, CallID: callID, Digit: digit})
}

func (t *Transport) SetReady(ready bool) {
	t.mu.Lock()
	t.ready = ready
	t.mu.Unlock()
}

func (t *Transport) Ready(string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

func (t *Transport) IssueGather(_ context.Context, callID string, spec capture.GatherSpec) error {
	t.mu.Lock()
	t.gathers = append(t.gathers, GatherRecord{CallID: callID, Spec: spec})
	t.mu.Unlock()
	return nil
}

func (t *Transport) EndCall(_ context.Context, callID, message, reason string) error {
	t.mu.Lock()
	t.hangups = append(t.hangups, HangupRecord{CallID: callID, Message: message, Reason: reason})
	t.mu.Unlock()
	return nil
}

// Gathers exposes issued gather directives for inspection.
func (t *Transport) Gathers() []GatherRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]GatherRecord, len(t.gathers))
	copy(out, t.gathers)
	return out
}

// Hangups exposes issued call terminations for inspection.
func (t *Transport) Hangups() []HangupRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]HangupRecord, len(t.hangups))
	copy(out, t.hangups)
	return out
}
