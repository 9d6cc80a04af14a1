package notify

import "sync"

// MemorySink keeps delivered lines in memory for tests and local runs.
type MemorySink struct {
	mu    sync.Mutex
	lines []LiveLine
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Deliver(line LiveLine) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *MemorySink) Lines() []LiveLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LiveLine, len(s.lines))
	copy(out, s.lines)
	return out
}
