package digits

import "strconv"

// RejectReason is the closed vocabulary for why an input batch was not
// accepted. Values are persisted verbatim on digit events and consumed
// by the result dispatcher when choosing reprompts.
type RejectReason string

const (
	ReasonNone RejectReason = ""

	ReasonTooShort      RejectReason = "too_short"
	ReasonTooLong       RejectReason = "too_long"
	ReasonIncomplete    RejectReason = "incomplete"
	ReasonInvalidLength RejectReason = "invalid_length"
	ReasonInvalidMonth  RejectReason = "invalid_month"
	ReasonInvalidDay    RejectReason = "invalid_day"
	ReasonInvalidCard   RejectReason = "invalid_card_number"
	ReasonInvalidRoute  RejectReason = "invalid_routing"
	ReasonSpamPattern   RejectReason = "spam_pattern"
	ReasonTooFast       RejectReason = "too_fast"
	ReasonTimeout       RejectReason = "timeout"
	ReasonEmpty         RejectReason = "empty"
	ReasonNoExpectation RejectReason = "no_expectation"
)

// Verdict is the outcome of validating a digit string against a profile.
type Verdict struct {
	Valid  bool
	Reason RejectReason
}

func valid() Verdict                 { return Verdict{Valid: true} }
func invalid(r RejectReason) Verdict { return Verdict{Reason: r} }

// Validate checks a complete digit string against a profile's rules.
// Pure: same inputs always yield the same verdict. Length-vs-bounds
// checks belong to the expectation manager; this validates shape and
// checksums of an in-range value.
func Validate(p Profile, in string) Verdict {
	if in == "" {
		return invalid(ReasonEmpty)
	}
	if !allDigits(in) {
		return invalid(ReasonInvalidLength)
	}
	switch p {
	case ProfileCardNumber:
		if !IsValidLuhn(in) {
			return invalid(ReasonInvalidCard)
		}
		return valid()
	case ProfileRouting:
		if len(in) != 9 {
			return invalid(ReasonInvalidLength)
		}
		if !IsValidRoutingNumber(in) {
			return invalid(ReasonInvalidRoute)
		}
		return valid()
	case ProfileSSN:
		if len(in) != 9 {
			return invalid(ReasonInvalidLength)
		}
		return valid()
	case ProfileDOB:
		return validateDOB(in)
	case ProfileCardExpiry:
		return validateExpiry(in)
	case ProfileCVV:
		if len(in) != 3 && len(in) != 4 {
			return invalid(ReasonInvalidLength)
		}
		return valid()
	default:
		// Generic and remaining fixed-shape profiles accept anything in
		// range; bounds were already enforced upstream.
		return valid()
	}
}

// IsValidLuhn reports whether a digit string passes the Luhn checksum.
func IsValidLuhn(in string) bool {
	if len(in) == 0 {
		return false
	}
	sum := 0
	double := false
	for i := len(in) - 1; i >= 0; i-- {
		c := in[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// IsValidRoutingNumber reports whether a 9-digit string passes the ABA
// weighted checksum (weights 3, 7, 1 repeating, sum mod 10 == 0).
func IsValidRoutingNumber(in string) bool {
	if len(in) != 9 || !allDigits(in) {
		return false
	}
	weights := [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += int(in[i]-'0') * weights[i]
	}
	return sum%10 == 0
}

// validateDOB accepts MMDDYY or MMDDYYYY with positional month/day checks.
func validateDOB(in string) Verdict {
	if len(in) != 6 && len(in) != 8 {
		return invalid(ReasonInvalidLength)
	}
	month, _ := strconv.Atoi(in[0:2])
	day, _ := strconv.Atoi(in[2:4])
	if month < 1 || month > 12 {
		return invalid(ReasonInvalidMonth)
	}
	if day < 1 || day > 31 {
		return invalid(ReasonInvalidDay)
	}
	return valid()
}

// validateExpiry accepts MMYY or MMYYYY with a month check.
func validateExpiry(in string) Verdict {
	if len(in) != 4 && len(in) != 6 {
		return invalid(ReasonInvalidLength)
	}
	month, _ := strconv.Atoi(in[0:2])
	if month < 1 || month > 12 {
		return invalid(ReasonInvalidMonth)
	}
	return valid()
}

func allDigits(in string) bool {
	for i := 0; i < len(in); i++ {
		if in[i] < '0' || in[i] > '9' {
			return false
		}
	}
	return len(in) > 0
}
