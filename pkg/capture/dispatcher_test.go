package capture

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxsprint/voxly/pkg/digits"
	"github.com/voxsprint/voxly/pkg/resilience"
)

// flakyStore fails every store call a fixed number of times before
// delegating to a MemoryStore.
type flakyStore struct {
	inner    *MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) attempt() error {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	return nil
}

func (s *flakyStore) AddDigitEvent(ctx context.Context, ev DigitEvent) error {
	if err := s.attempt(); err != nil {
		return err
	}
	return s.inner.AddDigitEvent(ctx, ev)
}

func (s *flakyStore) UpdateCallState(ctx context.Context, callID, state string, payload map[string]any) error {
	if err := s.attempt(); err != nil {
		return err
	}
	return s.inner.UpdateCallState(ctx, callID, state, payload)
}

func (s *flakyStore) UpdateCallStatus(ctx context.Context, callID, status string, fields map[string]any) error {
	if err := s.attempt(); err != nil {
		return err
	}
	return s.inner.UpdateCallStatus(ctx, callID, status, fields)
}

func TestPromptRotationClampsToLastEntry(t *testing.T) {
	first := invalidPrompt(digits.ProfileVerification, 0)
	second := invalidPrompt(digits.ProfileVerification, 1)
	if first == second {
		t.Fatalf("first and second reprompts must differ")
	}
	if got := invalidPrompt(digits.ProfileVerification, 7); got != second {
		t.Fatalf("attempts past the rotation must reuse the last entry, got %q", got)
	}
	if got := invalidPrompt(digits.ProfileVerification, -3); got != first {
		t.Fatalf("negative attempts clamp to the first entry, got %q", got)
	}
}

func TestConfirmationText(t *testing.T) {
	got := confirmationText(digits.ConfirmLast4, digits.ProfileCardNumber, "4111111111111111")
	if !strings.Contains(got, "ending in 1111") {
		t.Fatalf("last4 confirmation wrong: %q", got)
	}
	if strings.Contains(got, "4111111111111111") {
		t.Fatalf("confirmation must never speak the full value: %q", got)
	}

	got = confirmationText(digits.ConfirmSpokenAmount, digits.ProfileGeneric, "123")
	if !strings.Contains(got, "1 2 3") {
		t.Fatalf("spoken-amount confirmation must spell digits: %q", got)
	}

	got = confirmationText(digits.ConfirmNone, digits.ProfileCVV, "914")
	if strings.Contains(got, "914") {
		t.Fatalf("plain confirmation must not include the value: %q", got)
	}
}

func TestBookkeepingRoutesByProfile(t *testing.T) {
	cases := []struct {
		profile digits.Profile
		entry   string
		field   string
		want    any
	}{
		{digits.ProfileVerification, "482913", "otp_code", "482913"},
		{digits.ProfileCardNumber, "4111111111111111", "card_last4", "1111"},
		{digits.ProfileRouting, "021000021", "account_last4", "0021"},
		{digits.ProfileSSN, "078051120", "ssn_last4", "1120"},
	}
	for _, tc := range cases {
		store := NewMemoryStore()
		d := NewDispatcher(DispatcherOptions{Store: store})
		d.bookkeeping(context.Background(), judgement{callID: "call-1", profile: tc.profile, entry: tc.entry})
		status := store.Status("call-1")
		if status[tc.field] != tc.want {
			t.Fatalf("%s: status[%s] = %v, want %v", tc.profile, tc.field, status[tc.field], tc.want)
		}
	}

	// Profiles without a status field write nothing.
	store := NewMemoryStore()
	d := NewDispatcher(DispatcherOptions{Store: store})
	d.bookkeeping(context.Background(), judgement{callID: "call-1", profile: digits.ProfileCVV, entry: "914"})
	if len(store.Status("call-1")) != 0 {
		t.Fatalf("cvv must not touch call status, got %v", store.Status("call-1"))
	}
}

func TestPersistEventRetriesTransientFailure(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore(), failures: 1}
	retry := resilience.NewRetryPolicy(2, time.Millisecond)
	d := NewDispatcher(DispatcherOptions{Store: store, Retry: &retry})

	d.accepted(context.Background(), judgement{callID: "call-1", profile: digits.ProfileCVV, entry: "914"})

	if got := len(store.inner.Events()); got != 1 {
		t.Fatalf("event must land after a transient failure, got %d", got)
	}
}

func TestStoreOutageNeverAbortsJudgement(t *testing.T) {
	store := &flakyStore{inner: NewMemoryStore(), failures: 1 << 20}
	retry := resilience.NewRetryPolicy(1, time.Millisecond)
	replies := &fakeReplies{}
	d := NewDispatcher(DispatcherOptions{Store: store, Retry: &retry, Replies: replies})

	d.rejected(context.Background(), judgement{
		callID:  "call-1",
		profile: digits.ProfileVerification,
		entry:   "12",
		reason:  digits.ReasonTooShort,
		retries: 1,
	})

	// The caller still hears the reprompt even though nothing persisted.
	if replies.count() != 1 {
		t.Fatalf("reprompt must be emitted despite store outage")
	}
	if len(store.inner.Events()) != 0 {
		t.Fatalf("sanity: outage store must not have persisted")
	}
}

func TestAcceptedMasksLiveAndStatePayload(t *testing.T) {
	store := NewMemoryStore()
	notifier := &fakeNotifier{}
	d := NewDispatcher(DispatcherOptions{Store: store, Notifier: notifier})

	d.accepted(context.Background(), judgement{
		callID:  "call-1",
		profile: digits.ProfileCardNumber,
		entry:   "4111111111111111",
		masked:  true,
	})

	events := store.Events()
	if len(events) != 1 {
		t.Fatalf("expected one persisted event")
	}
	if events[0].Meta["masked_value"] != "************1111" {
		t.Fatalf("masked_value wrong: %q", events[0].Meta["masked_value"])
	}
	for _, line := range notifier.all() {
		if strings.Contains(line, "4111111111111111") {
			t.Fatalf("live feed leaked the full card number: %q", line)
		}
	}
}

func TestExhaustedSpokenFallbackKeepsCallAlive(t *testing.T) {
	replies := &fakeReplies{}
	calls := &fakeCalls{}
	d := NewDispatcher(DispatcherOptions{Store: NewMemoryStore(), Replies: replies, Calls: calls})

	ended := d.exhausted(context.Background(), judgement{
		callID:         "call-1",
		profile:        digits.ProfileAccount,
		reason:         digits.ReasonTimeout,
		retries:        3,
		spokenFallback: true,
	})
	if ended || calls.count() != 0 {
		t.Fatalf("spoken fallback must not end the call")
	}
	last, ok := replies.last()
	if !ok || last.reply.Context == "" {
		t.Fatalf("degrade reply must carry conversational context")
	}

	ended = d.exhausted(context.Background(), judgement{
		callID:  "call-2",
		profile: digits.ProfileAccount,
		reason:  digits.ReasonTimeout,
		retries: 3,
	})
	if !ended || calls.count() != 1 {
		t.Fatalf("without spoken fallback exhaustion ends the call")
	}
}
