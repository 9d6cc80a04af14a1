package voxly

import (
	"context"
	"testing"
	"time"

	"github.com/voxsprint/voxly/pkg/capture"
	"github.com/voxsprint/voxly/pkg/digits"
	"github.com/voxsprint/voxly/pkg/intent"
	"github.com/voxsprint/voxly/pkg/transports"
	"github.com/voxsprint/voxly/pkg/transports/mock"
)

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func noopTimers(time.Duration, func()) capture.TimerHandle { return noopTimer{} }

type engineReplies struct{}

func (engineReplies) Say(string, capture.Reply) error { return nil }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mock.Transport, *capture.MemoryStore, context.CancelFunc) {
	t.Helper()
	tr := mock.New()
	store := capture.NewMemoryStore()
	eng := NewEngine(EngineOptions{
		Config:    cfg,
		Transport: tr,
		Store:     store,
		Bridge:    tr,
		Calls:     tr,
		Replies:   engineReplies{},
		Timers:    noopTimers,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()
	return eng, tr, store, cancel
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineArmsOTPCaptureOnCallStart(t *testing.T) {
	cfg := Config{
		Transports: TransportsConfig{Provider: "mock"},
		Call:       CallConfig{RequireOTP: true, OTPLength: 6},
	}
	eng, tr, store, cancel := newTestEngine(t, cfg)
	defer cancel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.Push(transports.Event{Kind: transports.EventCallStart, CallID: "CA1", At: base})

	waitFor(t, func() bool {
		exp, ok := eng.Manager().Expectation("CA1")
		return ok && exp.Profile == digits.ProfileVerification && exp.Min == 6 && exp.Max == 6
	}, "armed verification expectation")

	// Keypresses spaced like a human; acceptance at the sixth digit.
	code := []string{"4", "8", "2", "9", "1", "3"}
	for i, d := range code {
		tr.Push(transports.Event{
			Kind:   transports.EventKeypress,
			CallID: "CA1",
			Digit:  d,
			At:     base.Add(time.Duration(i+1) * 400 * time.Millisecond),
		})
	}

	waitFor(t, func() bool {
		return store.Status("CA1")["otp_code"] == "482913"
	}, "otp captured")
	waitFor(t, func() bool {
		return len(tr.Hangups()) == 1
	}, "call ended on success")
}

func TestEngineRoutesGatherResultAsFallback(t *testing.T) {
	cfg := Config{Transports: TransportsConfig{Provider: "mock"}}
	eng, tr, store, cancel := newTestEngine(t, cfg)
	defer cancel()

	eng.BeginCapture(context.Background(), "CA2", capture.Params{
		Profile:          "cvv",
		EndCallOnSuccess: boolPtr(false),
	})

	tr.Push(transports.Event{Kind: transports.EventGatherResult, CallID: "CA2", Digits: "914"})

	waitFor(t, func() bool {
		events := store.Events()
		return len(events) == 1 && events[0].Accepted && events[0].Source == capture.SourceFallback
	}, "fallback batch judged")
}

func TestEngineCallEndTearsDownSession(t *testing.T) {
	cfg := Config{Transports: TransportsConfig{Provider: "mock"}}
	eng, tr, _, cancel := newTestEngine(t, cfg)
	defer cancel()

	eng.BeginCapture(context.Background(), "CA3", capture.Params{Profile: "generic"})
	waitFor(t, func() bool {
		_, ok := eng.Manager().Expectation("CA3")
		return ok
	}, "expectation armed")

	tr.Push(transports.Event{Kind: transports.EventCallEnd, CallID: "CA3", Reason: "completed"})
	waitFor(t, func() bool {
		_, ok := eng.Manager().Expectation("CA3")
		return !ok
	}, "session torn down")
}

func TestEnginePerCallPolicyBeatsTemplate(t *testing.T) {
	cfg := Config{
		Transports: TransportsConfig{Provider: "mock"},
		Call:       CallConfig{RequireOTP: true, OTPLength: 4},
	}
	eng, tr, _, cancel := newTestEngine(t, cfg)
	defer cancel()

	eng.RegisterCall("CA4", intent.CallConfig{CollectionProfile: "routing_number"})
	tr.Push(transports.Event{Kind: transports.EventCallStart, CallID: "CA4"})

	waitFor(t, func() bool {
		exp, ok := eng.Manager().Expectation("CA4")
		return ok && exp.Profile == digits.ProfileRouting
	}, "per-call policy applied")
}

func TestEngineAppliesProfileOverrides(t *testing.T) {
	retries := 1
	cfg := Config{
		Transports: TransportsConfig{Provider: "mock"},
		Capture: CaptureConfig{
			Profiles: map[string]ProfileOverride{
				"verification": {MinDigits: 6, MaxDigits: 6, MaxRetries: &retries},
			},
		},
	}
	eng, _, _, cancel := newTestEngine(t, cfg)
	defer cancel()

	eng.BeginCapture(context.Background(), "CA5", capture.Params{Profile: "otp"})
	waitFor(t, func() bool {
		exp, ok := eng.Manager().Expectation("CA5")
		return ok && exp.Min == 6 && exp.Max == 6 && exp.MaxRetries == 1
	}, "override applied")
}

func boolPtr(v bool) *bool { return &v }
