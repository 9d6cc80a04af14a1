// Package voxly wires the digit capture engine to a telephony
// transport: transport events in, judgements and replies out.
package voxly

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxsprint/voxly/pkg/capture"
	"github.com/voxsprint/voxly/pkg/digits"
	"github.com/voxsprint/voxly/pkg/intent"
	"github.com/voxsprint/voxly/pkg/logging"
	"github.com/voxsprint/voxly/pkg/notify"
	"github.com/voxsprint/voxly/pkg/redact"
	"github.com/voxsprint/voxly/pkg/resilience"
	"github.com/voxsprint/voxly/pkg/transports"
)

type Engine struct {
	cfg       Config
	mgr       *capture.Manager
	transport transports.Transport
	notifier  *notify.AsyncNotifier
	logger    *slog.Logger

	mu       sync.Mutex
	callCfgs map[string]intent.CallConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EngineOptions wire the engine. Transport, Store, and Replies are
// required for a useful deployment; Bridge and Calls usually point at
// the same transport value.
type EngineOptions struct {
	Config    Config
	Transport transports.Transport
	Store     capture.Store
	Bridge    transports.GatherIssuer
	Calls     transports.CallEnder
	Replies   capture.ReplySink
	Sink      notify.Sink
	Timers    capture.TimerFactory
	Clock     func() time.Time
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	logger := logging.InitDefault(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	var notifier *notify.AsyncNotifier
	if opts.Sink != nil {
		notifier = notify.NewAsyncNotifier(opts.Sink, cfg.Capture.NotifyBuffer)
	}

	retry := resilience.NewRetryPolicy(
		cfg.Capture.StoreRetries,
		time.Duration(cfg.Capture.StoreBackoffMS)*time.Millisecond,
	)
	var bridge capture.ProviderBridge
	if opts.Bridge != nil {
		bridge = opts.Bridge
	}
	var liveNotifier capture.LiveNotifier
	if notifier != nil {
		liveNotifier = notifier
	}
	disp := capture.NewDispatcher(capture.DispatcherOptions{
		Store:    opts.Store,
		Notifier: liveNotifier,
		Bridge:   bridge,
		Calls:    opts.Calls,
		Replies:  opts.Replies,
		Retry:    &retry,
		Logger:   logging.NewComponentLogger(logger, "dispatcher"),
		Clock:    opts.Clock,
	})
	mgr := capture.NewManager(disp, capture.Options{
		MinKeyGap: time.Duration(cfg.Capture.MinKeyGapMS) * time.Millisecond,
		Clock:     opts.Clock,
		Timers:    opts.Timers,
		Logger:    logging.NewComponentLogger(logger, "capture"),
	})

	slog.Info("voxly_init",
		"environment", cfg.Environment,
		"transport", cfg.Transports.Provider,
	)

	return &Engine{
		cfg:       cfg,
		mgr:       mgr,
		transport: opts.Transport,
		notifier:  notifier,
		logger:    logger,
		callCfgs:  make(map[string]intent.CallConfig),
	}
}

// Manager exposes the capture state machine for direct driving, e.g.
// from an agent tool-call layer.
func (e *Engine) Manager() *capture.Manager { return e.mgr }

// Run starts the transport and consumes its events until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, e.cancel = context.WithCancel(ctx)
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			return err
		}
		if rr, ok := e.transport.(transports.ReadyReporter); ok {
			args := []any{"transport", e.transport.Name()}
			for k, v := range rr.ReadyFields() {
				args = append(args, k, v)
			}
			e.logger.Info("transport_ready", args...)
		}
		e.wg.Add(1)
		go e.loop(ctx)
	}
	<-ctx.Done()
	return e.Drain()
}

// Drain stops intake and flushes pending live lines. Implements the
// runner Drainer contract.
func (e *Engine) Drain() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.transport != nil {
		_ = e.transport.Stop()
	}
	e.wg.Wait()
	if e.notifier != nil {
		e.notifier.Close()
	}
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for ev := range e.transport.Recv() {
		e.handleEvent(ctx, ev)
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev transports.Event) {
	switch ev.Kind {
	case transports.EventCallStart:
		e.onCallStart(ctx, ev)
	case transports.EventKeypress:
		e.mgr.RecordDigits(ctx, ev.CallID, ev.Digit, capture.Meta{
			Source:     capture.SourceDTMF,
			ReceivedAt: ev.At,
		})
	case transports.EventGatherResult:
		e.mgr.RecordDigits(ctx, ev.CallID, ev.Digits, capture.Meta{
			Source:     capture.SourceFallback,
			ReceivedAt: ev.At,
		})
	case transports.EventCallEnd:
		e.logger.Info("call_end", "call_id", ev.CallID, "reason", ev.Reason)
		e.forgetCall(ev.CallID)
		e.mgr.Teardown(ev.CallID)
	}
}

// onCallStart classifies the call's collection intent and, when keypad
// capture is expected, arms an expectation before the caller can key
// anything in.
func (e *Engine) onCallStart(ctx context.Context, ev transports.Event) {
	cfg := e.intentConfig(ev.CallID)
	it := intent.Determine(cfg)
	e.logger.Info("call_start",
		"call_id", ev.CallID,
		"mode", string(it.Mode),
		"intent_reason", it.Reason,
		"confidence", it.Confidence,
	)
	if it.Mode != intent.ModeDTMF || it.Hint == nil {
		return
	}
	params := capture.Params{
		Profile:    string(it.Hint.Profile),
		MinDigits:  it.Hint.MinDigits,
		MaxDigits:  it.Hint.MaxDigits,
		PromptText: cfg.FirstMessage,
	}
	e.BeginCapture(ctx, ev.CallID, params)
}

// RegisterCall installs a per-call collection policy ahead of the
// call's start event. Without one, the deployment-wide call template
// applies.
func (e *Engine) RegisterCall(callID string, cfg intent.CallConfig) {
	e.mu.Lock()
	e.callCfgs[callID] = cfg
	e.mu.Unlock()
}

func (e *Engine) forgetCall(callID string) {
	e.mu.Lock()
	delete(e.callCfgs, callID)
	e.mu.Unlock()
}

func (e *Engine) intentConfig(callID string) intent.CallConfig {
	e.mu.Lock()
	if cfg, ok := e.callCfgs[callID]; ok {
		e.mu.Unlock()
		return cfg
	}
	e.mu.Unlock()

	call := e.cfg.Call
	cfg := intent.CallConfig{
		CollectionProfile:   call.CollectionProfile,
		CollectionMinDigits: call.CollectionMinDigits,
		CollectionMaxDigits: call.CollectionMaxDigits,
		Prompt:              call.Prompt,
		FirstMessage:        call.FirstMessage,
	}
	if call.RequireOTP {
		cfg.Policy = &intent.TemplatePolicy{
			Locked:     true,
			RequireOTP: true,
			OTPLength:  call.OTPLength,
		}
	}
	return cfg
}

// BeginCapture arms a single capture expectation, applying any
// deployment profile overrides the params leave unset.
func (e *Engine) BeginCapture(ctx context.Context, callID string, p capture.Params) {
	e.mgr.SetExpectation(ctx, callID, e.applyOverride(p))
}

// BeginPlan arms a multi-step collection plan.
func (e *Engine) BeginPlan(ctx context.Context, callID string, steps []capture.Params, opts capture.PlanOptions) error {
	for i := range steps {
		steps[i] = e.applyOverride(steps[i])
	}
	return e.mgr.StartPlan(ctx, callID, steps, opts)
}

func (e *Engine) applyOverride(p capture.Params) capture.Params {
	if len(e.cfg.Capture.Profiles) == 0 {
		return p
	}
	o, ok := e.cfg.Capture.Profiles[string(digits.Normalize(p.Profile))]
	if !ok {
		return p
	}
	if p.MinDigits == 0 && o.MinDigits > 0 {
		p.MinDigits = o.MinDigits
	}
	if p.MaxDigits == 0 && o.MaxDigits > 0 {
		p.MaxDigits = o.MaxDigits
	}
	if p.TimeoutSec == nil && o.TimeoutSec != nil {
		p.TimeoutSec = o.TimeoutSec
	}
	if p.MaxRetries == nil && o.MaxRetries != nil {
		p.MaxRetries = o.MaxRetries
	}
	if p.SpokenFallback == nil && o.SpokenFallback != nil {
		p.SpokenFallback = o.SpokenFallback
	}
	return p
}
