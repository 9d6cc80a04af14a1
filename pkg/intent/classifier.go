// Package intent decides whether a call should start in keypad-capture
// mode, and with which digit profile, from the call's configuration and
// prompt text. Classification is stateless given its inputs.
package intent

import (
	"regexp"
	"strings"

	"github.com/voxsprint/voxly/pkg/digits"
)

// Mode routes raw keypad events before any expectation exists.
type Mode string

const (
	ModeDTMF   Mode = "dtmf"
	ModeNormal Mode = "normal"
)

// TemplatePolicy is the locked collection policy a call template may
// carry. When locked with RequireOTP, classification is forced to the
// verification profile at the template's declared length.
type TemplatePolicy struct {
	Locked     bool
	RequireOTP bool
	OTPLength  int
	Profile    string
}

// CallConfig is the slice of call configuration the classifier reads.
type CallConfig struct {
	CollectionProfile   string
	CollectionMinDigits int
	CollectionMaxDigits int
	Policy              *TemplatePolicy
	Prompt              string
	FirstMessage        string
}

// Hint carries the expectation parameters implied by a classification.
type Hint struct {
	Profile   digits.Profile
	MinDigits int
	MaxDigits int
}

// Intent is the classifier's verdict.
type Intent struct {
	Mode       Mode
	Reason     string
	Confidence float64
	Hint       *Hint
}

// Explicit command words. A bare noun with no instruction to act never
// triggers keypad mode.
var commandRe = regexp.MustCompile(`(?i)\b(press|enter|key\s+in|type|dial)\b`)

var otpRe = regexp.MustCompile(`(?i)\b(otp|one[\s-]?time|passcode|pass\s?code|verification\s+code|security\s+code|(text|sms)\s+(message\s+)?code|\d[\s-]?digit\s+code|code)\b`)

type nounRule struct {
	profile    digits.Profile
	confidence float64
	re         *regexp.Regexp
}

// Deterministic nouns, scanned only when no OTP signal is present.
var nounRules = []nounRule{
	{digits.ProfileRouting, 0.8, regexp.MustCompile(`(?i)\brouting\s+number\b|\baba\s+number\b`)},
	{digits.ProfileSSN, 0.8, regexp.MustCompile(`(?i)\bsocial\s+security\b|\bssn\b`)},
	{digits.ProfileDOB, 0.75, regexp.MustCompile(`(?i)\bdate\s+of\s+birth\b|\bbirth\s?date\b`)},
	{digits.ProfileCardNumber, 0.75, regexp.MustCompile(`(?i)\b(credit|debit)\s+card\s+number\b|\bcard\s+number\b`)},
	{digits.ProfilePhone, 0.7, regexp.MustCompile(`(?i)\b(phone|callback|call\s?back)\s+number\b`)},
	{digits.ProfileAccount, 0.7, regexp.MustCompile(`(?i)\b(tax\s+id|ein)\b`)},
	{digits.ProfileAccount, 0.6, regexp.MustCompile(`(?i)\b(claim|reservation|ticket|case)\s+number\b`)},
}

var accountRe = regexp.MustCompile(`(?i)\b(account|customer|member)\s+number\b`)

var otpLengthRe = regexp.MustCompile(`(?i)\b(\d)[\s-]?digit\b`)

// Determine classifies a call configuration. Priority order, first
// match wins: structured config, locked template policy, OTP free-text
// scan, deterministic nouns, generic account phrasing, then normal.
func Determine(cfg CallConfig) Intent {
	if p := strings.TrimSpace(cfg.CollectionProfile); p != "" {
		profile := digits.Normalize(p)
		hint := &Hint{Profile: profile, MinDigits: cfg.CollectionMinDigits, MaxDigits: cfg.CollectionMaxDigits}
		return Intent{Mode: ModeDTMF, Reason: "explicit_config", Confidence: 0.95, Hint: hint}
	}

	if cfg.Policy != nil && cfg.Policy.Locked && cfg.Policy.RequireOTP {
		hint := &Hint{Profile: digits.ProfileVerification}
		if n := cfg.Policy.OTPLength; n > 0 {
			hint.MinDigits, hint.MaxDigits = n, n
		}
		return Intent{Mode: ModeDTMF, Reason: "template_policy", Confidence: 0.95, Hint: hint}
	}

	text := cfg.Prompt
	if strings.TrimSpace(cfg.FirstMessage) != "" {
		text = text + "\n" + cfg.FirstMessage
	}
	if strings.TrimSpace(text) == "" || !commandRe.MatchString(text) {
		return Intent{Mode: ModeNormal, Reason: "no_signal"}
	}

	// OTP takes precedence over every other numeric noun.
	if otpRe.MatchString(text) {
		hint := &Hint{Profile: digits.ProfileVerification}
		if m := otpLengthRe.FindStringSubmatch(text); m != nil {
			if n := int(m[1][0] - '0'); n >= 3 && n <= 9 {
				hint.MinDigits, hint.MaxDigits = n, n
			}
		}
		return Intent{Mode: ModeDTMF, Reason: "otp_vocabulary", Confidence: 0.8, Hint: hint}
	}

	for _, rule := range nounRules {
		if rule.re.MatchString(text) {
			return Intent{
				Mode:       ModeDTMF,
				Reason:     "noun_" + string(rule.profile),
				Confidence: rule.confidence,
				Hint:       &Hint{Profile: rule.profile},
			}
		}
	}

	if accountRe.MatchString(text) {
		return Intent{
			Mode:       ModeDTMF,
			Reason:     "generic_account",
			Confidence: 0.55,
			Hint:       &Hint{Profile: digits.ProfileAccount},
		}
	}

	return Intent{Mode: ModeNormal, Reason: "no_signal"}
}
