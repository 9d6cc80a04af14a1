// Package transports defines the vendor-agnostic boundary between
// telephony providers and the digit capture engine. A transport turns
// provider webhooks and stream events into keypress events; the engine
// never sees provider wire formats.
package transports

import (
	"context"
	"time"

	"github.com/voxsprint/voxly/pkg/capture"
)

// EventKind discriminates inbound transport events.
type EventKind string

const (
	// EventCallStart announces a connected call ready for capture.
	EventCallStart EventKind = "call_start"
	// EventKeypress carries a single live DTMF digit.
	EventKeypress EventKind = "keypress"
	// EventGatherResult carries a completed provider-side gather batch.
	EventGatherResult EventKind = "gather_result"
	// EventCallEnd announces call teardown with a normalized reason.
	EventCallEnd EventKind = "call_end"
)

// Event is one inbound occurrence on a call. CallID is the provider's
// call identifier and is stable across stream reconnects.
type Event struct {
	Kind   EventKind
	CallID string
	From   string
	// Digit is set for keypresses, Digits for gather batches.
	Digit  string
	Digits string
	Reason string
	At     time.Time
}

// Transport owns its network lifecycle and emits Events until stopped.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan Event
}

// GatherIssuer re-issues capture through the provider's native DTMF
// collection. It doubles as the engine's provider bridge.
type GatherIssuer interface {
	Ready(callID string) bool
	IssueGather(ctx context.Context, callID string, spec capture.GatherSpec) error
}

// CallEnder terminates a live call after speaking a final message.
type CallEnder interface {
	EndCall(ctx context.Context, callID, message, reasonTag string) error
}

// OutboundDialer initiates outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	// SendDigits is keyed into the far end once the call connects, for
	// navigating IVR menus before capture starts.
	SendDigits string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callID string, err error)
}

// ReadyReporter exposes readiness metadata (e.g. webhook URLs) for
// informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
