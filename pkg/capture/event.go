package capture

import (
	"time"

	"github.com/voxsprint/voxly/pkg/digits"
)

// Source tags which channel delivered a keypress batch.
type Source string

const (
	SourceDTMF     Source = "dtmf"
	SourceFallback Source = "fallback"
)

// DigitEvent is the append-only audit record written on every terminal
// judgement of an input batch. Rows are immutable once written and
// outlive the call.
type DigitEvent struct {
	ID       string
	CallID   string
	Source   Source
	Profile  digits.Profile
	Digits   string
	Length   int
	Accepted bool
	Reason   digits.RejectReason
	Meta     map[string]string
	At       time.Time
}

// Reply is an outbound spoken-turn instruction handed to the
// conversational layer. The engine enqueues reply values instead of
// invoking callbacks so the layer can be swapped or faked.
type Reply struct {
	Text    string
	Context string
}

// Status classifies the outcome of a RecordDigits call.
type Status string

const (
	// StatusAccepted means the batch passed validation and the value was
	// captured.
	StatusAccepted Status = "accepted"
	// StatusRejected means the batch was judged and refused.
	StatusRejected Status = "rejected"
	// StatusPartial means digits were buffered awaiting more input.
	StatusPartial Status = "partial"
	// StatusQueued means no expectation exists yet; the batch waits in
	// the pending queue.
	StatusQueued Status = "queued"
)

// Outcome reports what RecordDigits did with a batch.
type Outcome struct {
	Status  Status
	Reason  digits.RejectReason
	Value   string
	Masked  string
	Retries int
	// Fallback is set when retries are exhausted and the dispatcher has
	// been signalled to degrade or terminate.
	Fallback      bool
	PlanAdvanced  bool
	PlanCompleted bool
	CallEnded     bool
}
