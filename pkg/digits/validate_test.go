package digits

import "testing"

func TestLuhn(t *testing.T) {
	if !IsValidLuhn("4111111111111111") {
		t.Fatalf("known-good test PAN must pass Luhn")
	}
	if IsValidLuhn("4111111111111112") {
		t.Fatalf("flipped check digit must fail Luhn")
	}
	if IsValidLuhn("") || IsValidLuhn("411a") {
		t.Fatalf("non-digit input must fail Luhn")
	}
}

func TestRoutingNumberChecksum(t *testing.T) {
	if !IsValidRoutingNumber("021000021") {
		t.Fatalf("published ABA number must pass")
	}
	if IsValidRoutingNumber("123456789") {
		t.Fatalf("sequential digits must fail the weighted checksum")
	}
	if IsValidRoutingNumber("12345678") {
		t.Fatalf("length must be exactly 9")
	}
}

func TestValidateIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		v := Validate(ProfileCardNumber, "4111111111111111")
		if !v.Valid || v.Reason != ReasonNone {
			t.Fatalf("run %d: expected stable valid verdict, got %+v", i, v)
		}
		v = Validate(ProfileRouting, "123456789")
		if v.Valid || v.Reason != ReasonInvalidRoute {
			t.Fatalf("run %d: expected stable invalid_routing verdict, got %+v", i, v)
		}
	}
}

func TestValidateProfiles(t *testing.T) {
	cases := []struct {
		name    string
		profile Profile
		in      string
		valid   bool
		reason  RejectReason
	}{
		{"card flipped digit", ProfileCardNumber, "4111111111111112", false, ReasonInvalidCard},
		{"ssn ok", ProfileSSN, "123456780", true, ReasonNone},
		{"ssn short", ProfileSSN, "12345678", false, ReasonInvalidLength},
		{"dob mmddyy ok", ProfileDOB, "123187", true, ReasonNone},
		{"dob mmddyyyy ok", ProfileDOB, "07041990", true, ReasonNone},
		{"dob bad month", ProfileDOB, "130487", false, ReasonInvalidMonth},
		{"dob bad day", ProfileDOB, "023387", false, ReasonInvalidDay},
		{"dob bad length", ProfileDOB, "12345", false, ReasonInvalidLength},
		{"expiry mmyy ok", ProfileCardExpiry, "0727", true, ReasonNone},
		{"expiry mmyyyy ok", ProfileCardExpiry, "122030", true, ReasonNone},
		{"expiry bad month", ProfileCardExpiry, "1327", false, ReasonInvalidMonth},
		{"cvv 3 ok", ProfileCVV, "123", true, ReasonNone},
		{"cvv 4 ok", ProfileCVV, "1234", true, ReasonNone},
		{"cvv 5 bad", ProfileCVV, "12345", false, ReasonInvalidLength},
		{"generic anything", ProfileGeneric, "0000", true, ReasonNone},
		{"empty", ProfileGeneric, "", false, ReasonEmpty},
	}
	for _, tc := range cases {
		v := Validate(tc.profile, tc.in)
		if v.Valid != tc.valid || v.Reason != tc.reason {
			t.Fatalf("%s: got %+v", tc.name, v)
		}
	}
}

func TestNormalizeProfiles(t *testing.T) {
	if Normalize("OTP") != ProfileVerification {
		t.Fatalf("otp must normalize to verification")
	}
	if Normalize("menu") != ProfileGeneric || Normalize("member_id") != ProfileGeneric || Normalize("survey") != ProfileGeneric {
		t.Fatalf("retired profiles must normalize to generic")
	}
	if Normalize(" routing ") != ProfileRouting {
		t.Fatalf("whitespace and aliases must normalize")
	}
}

func TestSpamPattern(t *testing.T) {
	for _, spam := range []string{"111111", "123456", "98765432", "0000"} {
		if !IsSpamPattern(spam) {
			t.Fatalf("%s should be flagged as spam", spam)
		}
	}
	for _, ok := range []string{"121212", "4111111111111111", "11", "907"} {
		if IsSpamPattern(ok) {
			t.Fatalf("%s should not be flagged as spam", ok)
		}
	}
}

func TestClean(t *testing.T) {
	if Clean(" 1 2w3#\n") != "123#" {
		t.Fatalf("unexpected clean result: %q", Clean(" 1 2w3#\n"))
	}
}

func TestDefaultShapeBounds(t *testing.T) {
	otp := DefaultShape(ProfileVerification)
	if otp.MinDigits != 4 || otp.MaxDigits != 8 || !otp.EndCallOnSuccess {
		t.Fatalf("unexpected verification shape: %+v", otp)
	}
	routing := DefaultShape(ProfileRouting)
	if routing.MinDigits != 9 || routing.MaxDigits != 9 {
		t.Fatalf("routing must be fixed length 9: %+v", routing)
	}
	card := DefaultShape(ProfileCardNumber)
	if card.MinDigits != 13 || card.MaxDigits != 19 || !card.MaskForGPT {
		t.Fatalf("unexpected card shape: %+v", card)
	}
}
