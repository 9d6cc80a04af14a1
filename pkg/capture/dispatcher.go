package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voxsprint/voxly/pkg/digits"
	"github.com/voxsprint/voxly/pkg/errorsx"
	"github.com/voxsprint/voxly/pkg/redact"
	"github.com/voxsprint/voxly/pkg/resilience"
)

// Dispatcher turns terminal judgements into collaborator calls:
// persistence, live notification, reply emission, fallback issuance,
// and call termination. Collaborator failures are logged and never
// abort the state machine.
type Dispatcher struct {
	store    Store
	notifier LiveNotifier
	bridge   ProviderBridge
	calls    CallControl
	replies  ReplySink
	retry    resilience.RetryPolicy
	logger   *slog.Logger
	clock    func() time.Time
}

// DispatcherOptions wire the dispatcher's collaborators. Store, calls,
// and replies are required; notifier and bridge may be nil.
type DispatcherOptions struct {
	Store    Store
	Notifier LiveNotifier
	Bridge   ProviderBridge
	Calls    CallControl
	Replies  ReplySink
	Retry    *resilience.RetryPolicy
	Logger   *slog.Logger
	Clock    func() time.Time
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	retry := resilience.NewRetryPolicy(1, 100*time.Millisecond)
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Dispatcher{
		store:    opts.Store,
		notifier: opts.Notifier,
		bridge:   opts.Bridge,
		calls:    opts.Calls,
		replies:  opts.Replies,
		retry:    retry,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
}

func maskedValue(j judgement) string {
	return redact.Digits(j.entry)
}

// displayValue is what the conversational layer and logs may see.
func displayValue(j judgement) string {
	if j.masked {
		return maskedValue(j)
	}
	return j.entry
}

func (d *Dispatcher) accepted(ctx context.Context, j judgement) {
	ev := d.newEvent(j)
	ev.Accepted = true
	ev.Meta["masked_value"] = maskedValue(j)
	d.persistEvent(ctx, ev)

	payload := map[string]any{
		"profile": string(j.profile),
		"length":  len(j.entry),
		"value":   displayValue(j),
	}
	if j.planID != "" {
		payload["plan_id"] = j.planID
		payload["plan_step"] = j.planStep
		payload["plan_total"] = j.planTotal
	}
	d.persistState(ctx, j.callID, "digits_accepted", payload)
	d.bookkeeping(ctx, j)
	d.live(j.callID, fmt.Sprintf("captured %s %s", digits.SpokenName(j.profile), maskedValue(j)), true)

	d.logger.Info("digits_accepted",
		"call_id", j.callID,
		"profile", string(j.profile),
		"source", string(j.source),
		"length", len(j.entry),
		"value", displayValue(j),
	)
}

// bookkeeping routes the accepted value into call-status fields by
// profile: last-four for card/account shapes, the full value for
// verification codes.
func (d *Dispatcher) bookkeeping(ctx context.Context, j judgement) {
	fields := map[string]any{}
	switch j.profile {
	case digits.ProfileVerification:
		fields["otp_code"] = j.entry
	case digits.ProfileCardNumber:
		fields["card_last4"] = redact.Last4(j.entry)
	case digits.ProfileAccount, digits.ProfileRouting:
		fields["account_last4"] = redact.Last4(j.entry)
	case digits.ProfileSSN:
		fields["ssn_last4"] = redact.Last4(j.entry)
	default:
		return
	}
	if d.store == nil {
		return
	}
	if err := d.retry.Do(func() error {
		return d.store.UpdateCallStatus(ctx, j.callID, "digits_captured", fields)
	}); err != nil {
		d.logger.Error("call_status_update_failed",
			"call_id", j.callID,
			"reason_code", string(errorsx.ReasonStoreStatus),
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) confirm(ctx context.Context, j judgement) {
	_ = ctx
	text := confirmationText(j.confirmation, j.profile, j.entry)
	d.say(j.callID, Reply{
		Text:    text,
		Context: fmt.Sprintf("caller entered their %s via keypad (%s)", digits.SpokenName(j.profile), displayValue(j)),
	})
}

func (d *Dispatcher) endCallAccepted(ctx context.Context, j judgement) {
	message := confirmationText(j.confirmation, j.profile, j.entry)
	if j.confirmation == digits.ConfirmNone {
		message = "Got it, thank you. Goodbye."
	}
	d.endCall(ctx, j.callID, message, "digits_captured")
}

func (d *Dispatcher) rejected(ctx context.Context, j judgement) {
	ev := d.newEvent(j)
	ev.Meta["masked_value"] = maskedValue(j)
	d.persistEvent(ctx, ev)
	d.persistState(ctx, j.callID, "digits_rejected", map[string]any{
		"profile": string(j.profile),
		"reason":  string(j.reason),
		"retries": j.retries,
	})
	d.live(j.callID, fmt.Sprintf("rejected %s input (%s), attempt %d", digits.SpokenName(j.profile), j.reason, j.retries), false)
	d.say(j.callID, Reply{Text: invalidPrompt(j.profile, j.retries-1)})

	d.logger.Info("digits_rejected",
		"call_id", j.callID,
		"profile", string(j.profile),
		"reason", string(j.reason),
		"retries", j.retries,
	)
}

// recordAbuse persists a timing-heuristic rejection without issuing a
// reprompt; the live window keeps running.
func (d *Dispatcher) recordAbuse(ctx context.Context, j judgement, heuristic string) {
	ev := d.newEvent(j)
	ev.Meta["heuristic"] = heuristic
	d.persistEvent(ctx, ev)
	d.live(j.callID, fmt.Sprintf("dropped keypress (%s)", j.reason), false)
	d.logger.Warn("digits_abuse_heuristic",
		"call_id", j.callID,
		"reason", string(j.reason),
		"heuristic", heuristic,
	)
}

func (d *Dispatcher) timeoutEvent(ctx context.Context, j judgement) {
	ev := d.newEvent(j)
	ev.Digits = ""
	ev.Length = 0
	d.persistEvent(ctx, ev)
	d.persistState(ctx, j.callID, "digits_timeout", map[string]any{
		"profile": string(j.profile),
		"retries": j.retries,
	})
}

func (d *Dispatcher) repromptTimeout(ctx context.Context, j judgement) {
	_ = ctx
	d.live(j.callID, fmt.Sprintf("no %s input, reprompt %d", digits.SpokenName(j.profile), j.retries), false)
	d.say(j.callID, Reply{Text: timeoutPrompt(j.profile, j.retries-1)})
}

// tryFallback re-issues capture through the provider-native gather
// path. Returns true only when the directive was actually issued.
func (d *Dispatcher) tryFallback(ctx context.Context, callID string, spec GatherSpec) bool {
	if d.bridge == nil || !d.bridge.Ready(callID) {
		return false
	}
	if err := d.bridge.IssueGather(ctx, callID, spec); err != nil {
		d.logger.Error("fallback_gather_failed",
			"call_id", callID,
			"reason_code", string(errorsx.ReasonProviderGather),
			"error", err.Error(),
		)
		return false
	}
	d.live(callID, fmt.Sprintf("fallback gather issued for %s", digits.SpokenName(spec.Profile)), true)
	d.logger.Info("fallback_gather_issued", "call_id", callID, "profile", string(spec.Profile))
	return true
}

// exhausted handles a judgement whose retry budget is spent. Returns
// true when the call was terminated.
func (d *Dispatcher) exhausted(ctx context.Context, j judgement) bool {
	// The timeout path persists its event before it knows the retry
	// budget is spent; writing another here would double-count the
	// terminal judgement in the audit trail.
	if !j.eventLogged {
		ev := d.newEvent(j)
		ev.Meta["fallback"] = "retries_exhausted"
		d.persistEvent(ctx, ev)
	}
	d.persistState(ctx, j.callID, "digits_failed", map[string]any{
		"profile": string(j.profile),
		"reason":  string(j.reason),
		"retries": j.retries,
	})

	if j.spokenFallback {
		d.live(j.callID, fmt.Sprintf("%s capture failed, degrading to conversation", digits.SpokenName(j.profile)), true)
		d.say(j.callID, Reply{
			Text:    fmt.Sprintf("No problem, let's continue. You can also tell me your %s instead.", digits.SpokenName(j.profile)),
			Context: "keypad capture failed after all retries; continue the conversation and collect the value verbally if possible",
		})
		return false
	}
	d.endCall(ctx, j.callID, failureMessage(j.profile), "digits_failed")
	return true
}

// planCompleted runs the plan's single completion action. Returns true
// when the call was terminated.
func (d *Dispatcher) planCompleted(ctx context.Context, callID string, plan *Plan) bool {
	d.persistState(ctx, callID, "plan_completed", map[string]any{
		"plan_id": plan.ID,
		"steps":   len(plan.Steps),
	})
	d.live(callID, fmt.Sprintf("collection plan complete (%d steps)", len(plan.Steps)), true)

	message := plan.CompletionMessage
	if message == "" {
		message = "That's everything I needed, thank you."
	}
	if plan.EndCallOnSuccess {
		d.endCall(ctx, callID, message, "plan_completed")
		return true
	}
	d.say(callID, Reply{Text: message})
	return false
}

func (d *Dispatcher) newEvent(j judgement) DigitEvent {
	return DigitEvent{
		ID:      uuid.NewString(),
		CallID:  j.callID,
		Source:  j.source,
		Profile: j.profile,
		Digits:  j.entry,
		Length:  len(j.entry),
		Reason:  j.reason,
		Meta:    map[string]string{},
		At:      d.clock(),
	}
}

func (d *Dispatcher) persistEvent(ctx context.Context, ev DigitEvent) {
	if d.store == nil {
		return
	}
	if err := d.retry.Do(func() error {
		return d.store.AddDigitEvent(ctx, ev)
	}); err != nil {
		d.logger.Error("digit_event_persist_failed",
			"call_id", ev.CallID,
			"reason_code", string(errorsx.ReasonStoreEvent),
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) persistState(ctx context.Context, callID, state string, payload map[string]any) {
	if d.store == nil {
		return
	}
	if err := d.store.UpdateCallState(ctx, callID, state, payload); err != nil {
		d.logger.Error("call_state_update_failed",
			"call_id", callID,
			"state", state,
			"reason_code", string(errorsx.ReasonStoreState),
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) live(callID, text string, force bool) {
	if d.notifier == nil {
		return
	}
	d.notifier.AddLiveEvent(callID, redact.Text(text), force)
}

func (d *Dispatcher) say(callID string, reply Reply) {
	if d.replies == nil {
		return
	}
	if err := d.replies.Say(callID, reply); err != nil {
		d.logger.Error("reply_emit_failed",
			"call_id", callID,
			"reason_code", string(errorsx.ReasonReplySend),
			"error", err.Error(),
		)
	}
}

func (d *Dispatcher) endCall(ctx context.Context, callID, message, reasonTag string) {
	if d.calls == nil {
		return
	}
	if err := d.calls.EndCall(ctx, callID, message, reasonTag); err != nil {
		d.logger.Error("end_call_failed",
			"call_id", callID,
			"reason_code", string(errorsx.ReasonProviderHangup),
			"error", err.Error(),
		)
	}
}
