package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

var digitRunRe = regexp.MustCompile(`\d{4,}`)

// SetEnabled toggles captured-digit redaction.
func SetEnabled(v bool) {
	enabled.Store(v)
}

// Enabled returns true when redaction is active.
func Enabled() bool {
	return enabled.Load()
}

// Digits masks a captured digit string down to its last four digits.
// Short values are masked entirely. Always masks, regardless of the
// global toggle; callers decide per expectation whether to mask.
func Digits(in string) string {
	n := len(in)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	return strings.Repeat("*", n-4) + in[n-4:]
}

// Last4 returns the trailing four digits of a value, or the whole value
// when shorter.
func Last4(in string) string {
	if len(in) <= 4 {
		return in
	}
	return in[len(in)-4:]
}

// Text masks digit runs inside free text when redaction is enabled.
// Used for log lines and operator status messages that may embed
// captured values.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	return digitRunRe.ReplaceAllStringFunc(in, Digits)
}
