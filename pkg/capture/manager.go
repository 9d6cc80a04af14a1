package capture

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxsprint/voxly/pkg/digits"
)

// defaultMinKeyGap is the anti-bot minimum interval between single
// keypresses. A lone digit arriving faster than this is rejected as
// too_fast without touching the buffer.
const defaultMinKeyGap = 120 * time.Millisecond

// Options tune the manager. Zero values take defaults; Clock and Timers
// exist for deterministic tests.
type Options struct {
	MinKeyGap time.Duration
	Clock     func() time.Time
	Timers    TimerFactory
	Logger    *slog.Logger
}

// Manager owns the live per-call capture state and serializes every
// event (expectation install, keypress batch, timeout fire) against it.
// Calls never observe each other's state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	sched     *scheduler
	disp      *Dispatcher
	minKeyGap time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Meta accompanies a keypress batch into RecordDigits.
type Meta struct {
	Source     Source
	ReceivedAt time.Time
}

// judgement is the terminal verdict on one input batch, handed to the
// dispatcher after the session state has been updated.
type judgement struct {
	callID   string
	source   Source
	profile  digits.Profile
	entry    string
	accepted bool
	reason   digits.RejectReason
	retries  int

	masked           bool
	confirmation     digits.ConfirmationStyle
	endCallOnSuccess bool
	spokenFallback   bool
	exhausted        bool
	eventLogged      bool

	planID    string
	planStep  int
	planTotal int
}

func NewManager(disp *Dispatcher, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MinKeyGap <= 0 {
		opts.MinKeyGap = defaultMinKeyGap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		sessions:  make(map[string]*session),
		sched:     newScheduler(opts.Timers),
		disp:      disp,
		minKeyGap: opts.MinKeyGap,
		now:       opts.Clock,
		logger:    opts.Logger,
	}
}

// SetExpectation installs a new expectation for the call, superseding
// any prior one, then replays queued digits against it in arrival
// order. The timeout window starts after the estimated prompt speech.
func (m *Manager) SetExpectation(ctx context.Context, callID string, p Params) *Expectation {
	m.mu.Lock()
	sess := m.ensureSessionLocked(callID)
	exp := normalizeExpectation(p, m.now())
	if prev := sess.exp; prev != nil && prev.PromptedDelay > exp.PromptedDelay {
		// A reschedule never shrinks the settle window mid-prompt.
		exp.PromptedDelay = prev.PromptedDelay
	}
	sess.exp = exp
	sess.fallbackActive = false
	pending := sess.drainPending()
	m.mu.Unlock()

	m.logger.Debug("expectation_set",
		"call_id", callID,
		"profile", string(exp.Profile),
		"min", exp.Min,
		"max", exp.Max,
		"timeout", exp.Timeout.String(),
		"plan_id", exp.PlanID,
	)
	m.scheduleTimeout(callID, exp)

	for _, batch := range pending {
		out := m.RecordDigits(ctx, callID, batch.digits, Meta{Source: batch.source, ReceivedAt: batch.at})
		if out.Status == StatusAccepted || out.CallEnded {
			break
		}
	}
	return exp
}

// StartPlan installs an ordered multi-step capture plan, with step 0 as
// the live expectation. Queued digits replay immediately, so a step may
// complete before its own prompt is spoken.
func (m *Manager) StartPlan(ctx context.Context, callID string, steps []Params, opts PlanOptions) error {
	if err := validatePlan(steps, opts); err != nil {
		return err
	}
	plan := &Plan{
		ID:                uuid.NewString(),
		Steps:             steps,
		Active:            true,
		EndCallOnSuccess:  opts.EndCallOnSuccess,
		CompletionMessage: opts.CompletionMessage,
	}
	m.mu.Lock()
	sess := m.ensureSessionLocked(callID)
	sess.plan = plan
	m.mu.Unlock()

	m.logger.Info("plan_started", "call_id", callID, "plan_id", plan.ID, "steps", len(steps))
	m.SetExpectation(ctx, callID, plan.step())
	return nil
}

// RecordDigits applies a keypress batch to the call's live expectation.
// Batches arriving before any expectation exists are queued and replayed
// on the next SetExpectation.
func (m *Manager) RecordDigits(ctx context.Context, callID, raw string, meta Meta) Outcome {
	now := meta.ReceivedAt
	if now.IsZero() {
		now = m.now()
	}
	source := meta.Source
	if source == "" {
		source = SourceDTMF
	}

	m.mu.Lock()
	sess := m.ensureSessionLocked(callID)
	if sess.exp == nil {
		if clean := digits.Clean(raw); clean != "" {
			sess.enqueuePending(pendingBatch{digits: clean, source: source, at: now})
		}
		m.mu.Unlock()
		m.logger.Debug("digits_queued_no_expectation", "call_id", callID, "len", len(raw))
		return Outcome{Status: StatusQueued, Reason: digits.ReasonNoExpectation}
	}

	exp := sess.exp
	clean := digits.Clean(raw)
	if clean == "" {
		m.mu.Unlock()
		m.logger.Debug("digits_empty_batch", "call_id", callID)
		return Outcome{Status: StatusRejected, Reason: digits.ReasonEmpty}
	}

	if len(clean) == 1 && !sess.lastKeyAt.IsZero() && now.Sub(sess.lastKeyAt) < m.minKeyGap {
		sess.lastKeyAt = now
		j := m.judgementLocked(sess, source, clean, digits.ReasonTooFast)
		m.mu.Unlock()
		m.disp.recordAbuse(ctx, j, "min_inter_key_gap")
		return Outcome{Status: StatusRejected, Reason: digits.ReasonTooFast, Retries: j.retries}
	}
	sess.lastKeyAt = now

	entry, finalize, viaTerminator := m.accumulateLocked(exp, clean)
	if !finalize {
		buffered := len(exp.Buffer)
		m.mu.Unlock()
		m.logger.Debug("digits_partial", "call_id", callID, "buffered", buffered)
		return Outcome{Status: StatusPartial, Retries: exp.Retries}
	}

	j := m.judgeLocked(sess, source, entry, viaTerminator)
	m.mu.Unlock()
	return m.resolve(ctx, callID, j)
}

// Teardown releases every piece of per-call state: expectation, plan,
// queued digits, fallback flag, and the pending timer. Idempotent; a
// previously scheduled timeout can never fire after this returns.
func (m *Manager) Teardown(callID string) {
	m.mu.Lock()
	delete(m.sessions, callID)
	m.mu.Unlock()
	m.sched.release(callID)
	m.logger.Debug("session_teardown", "call_id", callID)
}

// ClearExpectation drops the live expectation but keeps the call's
// session, used when capture degrades back to open conversation.
func (m *Manager) ClearExpectation(callID string) {
	m.mu.Lock()
	if sess := m.sessions[callID]; sess != nil {
		sess.exp = nil
		sess.plan = nil
		sess.fallbackActive = false
	}
	m.mu.Unlock()
	m.sched.cancel(callID)
}

// Expectation returns a copy of the live expectation, if any.
func (m *Manager) Expectation(callID string) (Expectation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sessions[callID]
	if sess == nil || sess.exp == nil {
		return Expectation{}, false
	}
	return *sess.exp, true
}

func (m *Manager) ensureSessionLocked(callID string) *session {
	sess := m.sessions[callID]
	if sess == nil {
		sess = newSession(callID)
		m.sessions[callID] = sess
	}
	return sess
}

// accumulateLocked folds a cleaned batch into the buffer and decides
// whether the accumulated entry is ready to judge. Single keypresses
// buffer silently until the maximum length or a terminator; multi-digit
// batches are judged as complete entries.
func (m *Manager) accumulateLocked(exp *Expectation, clean string) (entry string, finalize, viaTerminator bool) {
	if exp.AllowTerminator && exp.Terminator != "" && strings.Contains(clean, exp.Terminator) {
		idx := strings.Index(clean, exp.Terminator)
		entry = exp.Buffer + numericOnly(clean[:idx])
		exp.Buffer = ""
		return entry, true, true
	}

	numeric := numericOnly(clean)
	if numeric == "" {
		return "", false, false
	}
	exp.Buffer += numeric
	if len(exp.Buffer) > exp.Max {
		entry = exp.Buffer
		exp.Buffer = ""
		return entry, true, false
	}
	if len(numeric) == 1 {
		if len(exp.Buffer) == exp.Max {
			entry = exp.Buffer
			exp.Buffer = ""
			return entry, true, false
		}
		return "", false, false
	}
	entry = exp.Buffer
	exp.Buffer = ""
	return entry, true, false
}

// judgeLocked produces the terminal verdict for a complete entry and
// updates retry state. The buffer has already been reset.
func (m *Manager) judgeLocked(sess *session, source Source, entry string, viaTerminator bool) judgement {
	exp := sess.exp
	exp.Collected = append(exp.Collected, entry)

	var reason digits.RejectReason
	switch {
	case len(entry) < exp.Min:
		if viaTerminator {
			reason = digits.ReasonTooShort
		} else {
			reason = digits.ReasonIncomplete
		}
	case len(entry) > exp.Max:
		reason = digits.ReasonTooLong
	case digits.IsSpamPattern(entry):
		reason = digits.ReasonSpamPattern
	default:
		if v := digits.Validate(exp.Profile, entry); !v.Valid {
			reason = v.Reason
		}
	}

	j := m.judgementLocked(sess, source, entry, reason)
	if reason == digits.ReasonNone {
		j.accepted = true
		return j
	}
	exp.Retries++
	j.retries = exp.Retries
	j.exhausted = exp.Retries > exp.MaxRetries
	return j
}

func (m *Manager) judgementLocked(sess *session, source Source, entry string, reason digits.RejectReason) judgement {
	exp := sess.exp
	return judgement{
		callID:           sess.callID,
		source:           source,
		profile:          exp.Profile,
		entry:            entry,
		reason:           reason,
		retries:          exp.Retries,
		masked:           exp.MaskForGPT,
		confirmation:     exp.Confirmation,
		endCallOnSuccess: exp.EndCallOnSuccess,
		spokenFallback:   exp.SpokenFallback,
		planID:           exp.PlanID,
		planStep:         exp.PlanStep,
		planTotal:        exp.PlanTotal,
	}
}

// resolve performs the dispatcher side effects for a judgement and
// advances plan or teardown state. Called without the lock held.
func (m *Manager) resolve(ctx context.Context, callID string, j judgement) Outcome {
	if j.accepted {
		m.sched.cancel(callID)
		m.disp.accepted(ctx, j)
		out := Outcome{Status: StatusAccepted, Value: j.entry, Masked: maskedValue(j), Retries: j.retries}
		if j.planID != "" {
			completed, ended := m.advancePlan(ctx, callID, j.planID)
			out.PlanAdvanced = true
			out.PlanCompleted = completed
			out.CallEnded = ended
			return out
		}
		if j.endCallOnSuccess {
			m.disp.endCallAccepted(ctx, j)
			m.Teardown(callID)
			out.CallEnded = true
			return out
		}
		m.disp.confirm(ctx, j)
		m.ClearExpectation(callID)
		return out
	}

	out := Outcome{Status: StatusRejected, Reason: j.reason, Retries: j.retries}
	if !j.exhausted {
		m.disp.rejected(ctx, j)
		if exp, ok := m.Expectation(callID); ok {
			m.scheduleTimeout(callID, &exp)
		}
		return out
	}

	out.Fallback = true
	if m.disp.exhausted(ctx, j) {
		m.Teardown(callID)
		out.CallEnded = true
	} else {
		m.ClearExpectation(callID)
	}
	return out
}

func (m *Manager) advancePlan(ctx context.Context, callID, planID string) (completed, ended bool) {
	m.mu.Lock()
	sess := m.sessions[callID]
	if sess == nil || sess.plan == nil || sess.plan.ID != planID || !sess.plan.Active {
		m.mu.Unlock()
		return false, false
	}
	plan := sess.plan
	if plan.advance() {
		m.mu.Unlock()
		m.SetExpectation(ctx, callID, plan.step())
		return false, false
	}
	sess.plan = nil
	sess.exp = nil
	sess.fallbackActive = false
	m.mu.Unlock()

	m.sched.cancel(callID)
	ended = m.disp.planCompleted(ctx, callID, plan)
	if ended {
		m.Teardown(callID)
	}
	return true, ended
}

func (m *Manager) scheduleTimeout(callID string, exp *Expectation) {
	m.sched.schedule(callID, exp.fireDelay(), func(uint64) {
		m.onTimeout(context.Background(), callID)
	})
}

// onTimeout fires when no accepted input arrived inside the window.
// An in-range buffer is judged as a late entry first; otherwise the
// fallback bridge, reprompt rotation, and terminal failure run in order.
func (m *Manager) onTimeout(ctx context.Context, callID string) {
	m.mu.Lock()
	sess := m.sessions[callID]
	if sess == nil || sess.exp == nil {
		m.mu.Unlock()
		return
	}
	exp := sess.exp

	if n := len(exp.Buffer); n >= exp.Min && n <= exp.Max {
		entry := exp.Buffer
		exp.Buffer = ""
		j := m.judgeLocked(sess, SourceDTMF, entry, false)
		m.mu.Unlock()
		m.resolve(ctx, callID, j)
		return
	}

	j := m.judgementLocked(sess, SourceDTMF, "", digits.ReasonTimeout)
	canFallback := !sess.fallbackActive
	spec := exp.gatherSpec()
	m.mu.Unlock()

	m.disp.timeoutEvent(ctx, j)
	j.eventLogged = true

	if canFallback && m.disp.tryFallback(ctx, callID, spec) {
		m.mu.Lock()
		if sess := m.sessions[callID]; sess != nil {
			sess.fallbackActive = true
		}
		m.mu.Unlock()
		m.scheduleTimeout(callID, exp)
		return
	}

	m.mu.Lock()
	if sess := m.sessions[callID]; sess == nil || sess.exp != exp {
		m.mu.Unlock()
		return
	}
	exp.Retries++
	j.retries = exp.Retries
	j.exhausted = exp.Retries > exp.MaxRetries
	m.mu.Unlock()

	if !j.exhausted {
		m.disp.repromptTimeout(ctx, j)
		m.scheduleTimeout(callID, exp)
		return
	}
	if m.disp.exhausted(ctx, j) {
		m.Teardown(callID)
	} else {
		m.ClearExpectation(callID)
	}
}

func numericOnly(in string) string {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		if in[i] >= '0' && in[i] <= '9' {
			out = append(out, in[i])
		}
	}
	return string(out)
}
