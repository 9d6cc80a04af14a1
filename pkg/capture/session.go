package capture

import "time"

// maxPendingBatches bounds the pre-expectation queue per call.
const maxPendingBatches = 16

type pendingBatch struct {
	digits string
	source Source
	at     time.Time
}

// session is the single owned aggregate of all mutable per-call capture
// state. Everything the engine knows about a call lives here, so there
// is one lookup per event and no key drift between parallel maps.
type session struct {
	callID         string
	exp            *Expectation
	plan           *Plan
	pending        []pendingBatch
	fallbackActive bool
	lastKeyAt      time.Time
}

func newSession(callID string) *session {
	return &session{callID: callID}
}

func (s *session) enqueuePending(b pendingBatch) {
	if len(s.pending) >= maxPendingBatches {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, b)
}

func (s *session) drainPending() []pendingBatch {
	out := s.pending
	s.pending = nil
	return out
}
