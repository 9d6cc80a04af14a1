package capture

import (
	"context"
	"time"

	"github.com/voxsprint/voxly/pkg/digits"
)

// Store is the persistence collaborator. Calls are fire-and-forget from
// the engine's perspective: failures are logged and never block the
// state machine.
type Store interface {
	AddDigitEvent(ctx context.Context, ev DigitEvent) error
	UpdateCallState(ctx context.Context, callID, state string, payload map[string]any) error
	UpdateCallStatus(ctx context.Context, callID, status string, fields map[string]any) error
}

// LiveNotifier pushes best-effort status lines to operators.
type LiveNotifier interface {
	AddLiveEvent(callID, text string, force bool)
}

// GatherSpec describes the provider-native capture directive issued when
// the live channel stalls. It mirrors the active expectation's shape.
type GatherSpec struct {
	Profile    digits.Profile
	MinDigits  int
	MaxDigits  int
	Timeout    time.Duration
	Terminator string
	PromptText string
}

// ProviderBridge re-issues digit capture through the telephony provider.
type ProviderBridge interface {
	Ready(callID string) bool
	IssueGather(ctx context.Context, callID string, spec GatherSpec) error
}

// CallControl is the only way the engine ends a live call.
type CallControl interface {
	EndCall(ctx context.Context, callID, message, reasonTag string) error
}

// ReplySink receives outbound reply instructions for the next spoken turn.
type ReplySink interface {
	Say(callID string, reply Reply) error
}
