package notify

import (
	"sync"
	"sync/atomic"
	"time"
)

// AsyncNotifier fans live lines into a sink from a dedicated goroutine.
// The channel is bounded; when the sink cannot keep up, lines are
// dropped and counted rather than stalling the caller.
type AsyncNotifier struct {
	sink    Sink
	ch      chan LiveLine
	dropped int64
	closed  atomic.Bool
	once    sync.Once
	clock   func() time.Time
}

func NewAsyncNotifier(sink Sink, buffer int) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	n := &AsyncNotifier{
		sink:  sink,
		ch:    make(chan LiveLine, buffer),
		clock: time.Now,
	}
	go n.loop()
	return n
}

// AddLiveEvent satisfies the capture engine's notifier contract.
func (n *AsyncNotifier) AddLiveEvent(callID, text string, force bool) {
	if n == nil || n.closed.Load() {
		return
	}
	line := LiveLine{CallID: callID, Text: text, Force: force, At: n.clock()}
	select {
	case n.ch <- line:
	default:
		atomic.AddInt64(&n.dropped, 1)
	}
}

// Dropped reports how many lines were discarded because the buffer was
// full.
func (n *AsyncNotifier) Dropped() int64 {
	return atomic.LoadInt64(&n.dropped)
}

// Close stops intake and drains the buffer. Safe to call repeatedly.
func (n *AsyncNotifier) Close() {
	if n == nil {
		return
	}
	n.once.Do(func() {
		n.closed.Store(true)
		close(n.ch)
	})
}

func (n *AsyncNotifier) loop() {
	for line := range n.ch {
		n.sink.Deliver(line)
	}
}
