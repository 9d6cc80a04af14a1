package capture

import (
	"strings"
	"time"

	"github.com/voxsprint/voxly/pkg/configutil"
	"github.com/voxsprint/voxly/pkg/digits"
)

// Params are the raw parameters of a capture request. Unset fields are
// filled from the profile's defaults during normalization.
type Params struct {
	Profile          string
	MinDigits        int
	MaxDigits        int
	TimeoutSec       *int
	MaxRetries       *int
	AllowTerminator  *bool
	TerminatorChar   string
	MaskForGPT       *bool
	Confirmation     string
	EndCallOnSuccess *bool
	// SpokenFallback allows degrading to open conversation instead of
	// hanging up once retries are exhausted.
	SpokenFallback *bool
	// PromptText is the agent line spoken to request the digits; its
	// length sizes the settle delay before the timeout window starts.
	PromptText      string
	PromptedDelayMS int

	PlanID    string
	PlanStep  int
	PlanTotal int
}

// Expectation is the live description of what digit input a call session
// is currently waiting for. At most one exists per call; installing a
// new one supersedes the old.
type Expectation struct {
	Profile          digits.Profile
	Min              int
	Max              int
	Timeout          time.Duration
	MaxRetries       int
	AllowTerminator  bool
	Terminator       string
	MaskForGPT       bool
	Confirmation     digits.ConfirmationStyle
	EndCallOnSuccess bool
	SpokenFallback   bool
	PromptText       string

	PlanID    string
	PlanStep  int
	PlanTotal int

	Buffer        string
	Retries       int
	Collected     []string
	PromptedAt    time.Time
	PromptedDelay time.Duration
}

// speechWordsPerMinute sizes the settle delay so the timeout window
// never starts before the agent finishes speaking the prompt.
const speechWordsPerMinute = 150

const maxSettleDelay = 15 * time.Second

func normalizeExpectation(p Params, now time.Time) *Expectation {
	profile := digits.Normalize(p.Profile)
	shape := digits.DefaultShape(profile)

	exp := &Expectation{
		Profile:          profile,
		Min:              shape.MinDigits,
		Max:              shape.MaxDigits,
		Timeout:          configutil.SecondsValue(p.TimeoutSec, shape.Timeout),
		MaxRetries:       configutil.IntValue(p.MaxRetries, shape.MaxRetries),
		AllowTerminator:  configutil.BoolValue(p.AllowTerminator, shape.AllowTerminator),
		Terminator:       shape.TerminatorChar,
		MaskForGPT:       configutil.BoolValue(p.MaskForGPT, shape.MaskForGPT),
		Confirmation:     shape.Confirmation,
		EndCallOnSuccess: configutil.BoolValue(p.EndCallOnSuccess, shape.EndCallOnSuccess),
		SpokenFallback:   configutil.BoolValue(p.SpokenFallback, false),
		PromptText:       p.PromptText,
		PlanID:           p.PlanID,
		PlanStep:         p.PlanStep,
		PlanTotal:        p.PlanTotal,
		PromptedAt:       now,
	}
	if p.MinDigits > 0 {
		exp.Min = p.MinDigits
	}
	if p.MaxDigits > 0 {
		exp.Max = p.MaxDigits
	}
	if exp.Max < exp.Min {
		exp.Max = exp.Min
	}
	if t := strings.TrimSpace(p.TerminatorChar); t != "" {
		exp.Terminator = t
	}
	if c := strings.TrimSpace(p.Confirmation); c != "" {
		exp.Confirmation = digits.ConfirmationStyle(c)
	}

	settle := estimateSpeechDuration(p.PromptText)
	if d := time.Duration(p.PromptedDelayMS) * time.Millisecond; d > settle {
		settle = d
	}
	exp.PromptedDelay = settle
	return exp
}

// estimateSpeechDuration approximates how long the agent needs to speak
// a prompt, at a conversational pace.
func estimateSpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	d := time.Duration(float64(words) / speechWordsPerMinute * float64(time.Minute))
	if d > maxSettleDelay {
		return maxSettleDelay
	}
	return d
}

// fireDelay is the full wait before the timeout callback fires: the
// settle delay (never shrinking across reschedules) plus the window.
func (e *Expectation) fireDelay() time.Duration {
	return e.PromptedDelay + e.Timeout
}

// gatherSpec mirrors the expectation into a provider directive.
func (e *Expectation) gatherSpec() GatherSpec {
	return GatherSpec{
		Profile:    e.Profile,
		MinDigits:  e.Min,
		MaxDigits:  e.Max,
		Timeout:    e.Timeout,
		Terminator: e.Terminator,
		PromptText: e.PromptText,
	}
}
