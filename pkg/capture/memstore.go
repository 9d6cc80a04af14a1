package capture

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and local runs. Digit
// events are append-only, matching the persistence contract.
type MemoryStore struct {
	mu       sync.Mutex
	events   []DigitEvent
	states   map[string][]string
	statuses map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   make(map[string][]string),
		statuses: make(map[string]map[string]any),
	}
}

func (s *MemoryStore) AddDigitEvent(_ context.Context, ev DigitEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) UpdateCallState(_ context.Context, callID, state string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[callID] = append(s.states[callID], state)
	return nil
}

func (s *MemoryStore) UpdateCallStatus(_ context.Context, callID, status string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.statuses[callID]
	if merged == nil {
		merged = make(map[string]any)
		s.statuses[callID] = merged
	}
	merged["status"] = status
	for k, v := range fields {
		merged[k] = v
	}
	return nil
}

// Events returns a copy of all persisted digit events.
func (s *MemoryStore) Events() []DigitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DigitEvent, len(s.events))
	copy(out, s.events)
	return out
}

// States returns the state transitions recorded for a call.
func (s *MemoryStore) States(callID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.states[callID]))
	copy(out, s.states[callID])
	return out
}

// Status returns the merged status fields for a call.
func (s *MemoryStore) Status(callID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.statuses[callID]))
	for k, v := range s.statuses[callID] {
		out[k] = v
	}
	return out
}
