package digits

import (
	"strings"
	"time"
)

// Profile names the shape and validation policy for a kind of numeric
// data collected over the keypad. The set is closed: unknown or retired
// profile names normalize to ProfileGeneric.
type Profile string

const (
	ProfileGeneric      Profile = "generic"
	ProfileVerification Profile = "verification"
	ProfileCardNumber   Profile = "card_number"
	ProfileCardExpiry   Profile = "card_expiry"
	ProfileCVV          Profile = "cvv"
	ProfileRouting      Profile = "routing_number"
	ProfileSSN          Profile = "ssn"
	ProfileDOB          Profile = "dob"
	ProfileAccount      Profile = "account_number"
	ProfilePhone        Profile = "phone_number"
)

// ConfirmationStyle selects how an accepted capture is acknowledged.
type ConfirmationStyle string

const (
	ConfirmNone         ConfirmationStyle = "none"
	ConfirmLast4        ConfirmationStyle = "last4"
	ConfirmSpokenAmount ConfirmationStyle = "spoken_amount"
)

// Shape holds the static defaults for a profile.
type Shape struct {
	MinDigits        int
	MaxDigits        int
	Timeout          time.Duration
	MaxRetries       int
	AllowTerminator  bool
	TerminatorChar   string
	MaskForGPT       bool
	Confirmation     ConfirmationStyle
	EndCallOnSuccess bool
}

// Normalize maps a raw profile name onto the closed profile set.
// Retired names (menu, member_id, survey, ...) fall through to generic.
func Normalize(raw string) Profile {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "otp", "verification", "verification_code", "one_time_code":
		return ProfileVerification
	case "card_number", "card", "credit_card":
		return ProfileCardNumber
	case "card_expiry", "expiry", "expiration":
		return ProfileCardExpiry
	case "cvv", "cvc", "security_code":
		return ProfileCVV
	case "routing_number", "routing", "aba":
		return ProfileRouting
	case "ssn", "social_security":
		return ProfileSSN
	case "dob", "date_of_birth", "birthdate":
		return ProfileDOB
	case "account_number", "account", "customer_number", "member_number":
		return ProfileAccount
	case "phone_number", "phone", "callback_number":
		return ProfilePhone
	default:
		return ProfileGeneric
	}
}

// DefaultShape returns the static capture defaults for a profile.
func DefaultShape(p Profile) Shape {
	switch p {
	case ProfileVerification:
		return Shape{
			MinDigits:        4,
			MaxDigits:        8,
			Timeout:          25 * time.Second,
			MaxRetries:       2,
			AllowTerminator:  true,
			TerminatorChar:   "#",
			MaskForGPT:       false,
			Confirmation:     ConfirmNone,
			EndCallOnSuccess: true,
		}
	case ProfileCardNumber:
		return Shape{
			MinDigits:        13,
			MaxDigits:        19,
			Timeout:          40 * time.Second,
			MaxRetries:       2,
			AllowTerminator:  true,
			TerminatorChar:   "#",
			MaskForGPT:       true,
			Confirmation:     ConfirmLast4,
			EndCallOnSuccess: false,
		}
	case ProfileCardExpiry:
		return Shape{
			MinDigits:       4,
			MaxDigits:       6,
			Timeout:         20 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			Confirmation:    ConfirmNone,
		}
	case ProfileCVV:
		return Shape{
			MinDigits:       3,
			MaxDigits:       4,
			Timeout:         20 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			MaskForGPT:      true,
			Confirmation:    ConfirmNone,
		}
	case ProfileRouting:
		return Shape{
			MinDigits:       9,
			MaxDigits:       9,
			Timeout:         30 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			Confirmation:    ConfirmLast4,
		}
	case ProfileSSN:
		return Shape{
			MinDigits:       9,
			MaxDigits:       9,
			Timeout:         30 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			MaskForGPT:      true,
			Confirmation:    ConfirmLast4,
		}
	case ProfileDOB:
		return Shape{
			MinDigits:       6,
			MaxDigits:       8,
			Timeout:         25 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			Confirmation:    ConfirmNone,
		}
	case ProfileAccount:
		return Shape{
			MinDigits:       4,
			MaxDigits:       17,
			Timeout:         30 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			Confirmation:    ConfirmLast4,
		}
	case ProfilePhone:
		return Shape{
			MinDigits:       10,
			MaxDigits:       11,
			Timeout:         30 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			Confirmation:    ConfirmLast4,
		}
	default:
		return Shape{
			MinDigits:       1,
			MaxDigits:       20,
			Timeout:         30 * time.Second,
			MaxRetries:      2,
			AllowTerminator: true,
			TerminatorChar:  "#",
			Confirmation:    ConfirmNone,
		}
	}
}

// SpokenName returns a caller-facing description for prompts.
func SpokenName(p Profile) string {
	switch p {
	case ProfileVerification:
		return "verification code"
	case ProfileCardNumber:
		return "card number"
	case ProfileCardExpiry:
		return "card expiration date"
	case ProfileCVV:
		return "security code"
	case ProfileRouting:
		return "routing number"
	case ProfileSSN:
		return "social security number"
	case ProfileDOB:
		return "date of birth"
	case ProfileAccount:
		return "account number"
	case ProfilePhone:
		return "phone number"
	default:
		return "number"
	}
}
