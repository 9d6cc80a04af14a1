package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDrainTimeout reports that shutdown gave up waiting for in-flight
// work to flush.
var ErrDrainTimeout = errors.New("drain timeout")

// LifecycleRunner walks the engine through its phases exactly once:
// new, starting, running, draining, stopped. Run blocks until the
// context ends or Stop is called, whichever comes first.
type LifecycleRunner struct {
	phase   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	stopped sync.Once
	hooks   Hooks
	drainer Drainer
	timeout time.Duration
	stopErr error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
	r.phase.Store(int32(StateNew))
	return r
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.phase.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.phase.Store(int32(StateRunning))
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.phase.Load())
}

func (r *LifecycleRunner) stop() error {
	r.stopped.Do(func() {
		r.phase.Store(int32(StateDraining))
		r.stopErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.phase.Store(int32(StateStopped))
	})
	return r.stopErr
}

// drain gives in-flight judgements and queued live lines a bounded
// window to flush before the process exits.
func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		_ = r.drainer.Drain()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(r.timeout):
		slog.Warn("engine_drain_timeout", "timeout", r.timeout.String())
		return ErrDrainTimeout
	}
}
