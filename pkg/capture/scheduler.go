package capture

import (
	"sync"
	"time"
)

// TimerHandle is a cancellable deferred callback.
type TimerHandle interface {
	Stop() bool
}

// TimerFactory creates deferred callbacks; swapped in tests for
// manual firing.
type TimerFactory func(d time.Duration, fn func()) TimerHandle

func realTimerFactory(d time.Duration, fn func()) TimerHandle {
	return time.AfterFunc(d, fn)
}

type timerSlot struct {
	gen    uint64
	handle TimerHandle
}

// scheduler owns one deferred timeout per call session. Every schedule
// bumps the call's generation counter; a firing callback is discarded
// unless its generation is still current, so stale timers can never act
// on state that has moved on.
type scheduler struct {
	mu      sync.Mutex
	slots   map[string]*timerSlot
	factory TimerFactory
}

func newScheduler(factory TimerFactory) *scheduler {
	if factory == nil {
		factory = realTimerFactory
	}
	return &scheduler{
		slots:   make(map[string]*timerSlot),
		factory: factory,
	}
}

// schedule replaces any pending timer for the call and returns the new
// generation. fn receives the generation it was scheduled under.
func (s *scheduler) schedule(callID string, d time.Duration, fn func(gen uint64)) uint64 {
	s.mu.Lock()
	slot := s.slots[callID]
	if slot == nil {
		slot = &timerSlot{}
		s.slots[callID] = slot
	}
	if slot.handle != nil {
		slot.handle.Stop()
	}
	slot.gen++
	gen := slot.gen
	slot.handle = s.factory(d, func() {
		if !s.current(callID, gen) {
			return
		}
		fn(gen)
	})
	s.mu.Unlock()
	return gen
}

// cancel stops the pending timer and invalidates every outstanding
// generation for the call. Safe to call repeatedly.
func (s *scheduler) cancel(callID string) {
	s.mu.Lock()
	if slot := s.slots[callID]; slot != nil {
		if slot.handle != nil {
			slot.handle.Stop()
			slot.handle = nil
		}
		slot.gen++
	}
	s.mu.Unlock()
}

// release drops the slot entirely once a call is gone.
func (s *scheduler) release(callID string) {
	s.mu.Lock()
	if slot := s.slots[callID]; slot != nil {
		if slot.handle != nil {
			slot.handle.Stop()
		}
		delete(s.slots, callID)
	}
	s.mu.Unlock()
}

func (s *scheduler) current(callID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.slots[callID]
	return slot != nil && slot.gen == gen
}
