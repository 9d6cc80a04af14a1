package configutil

import (
	"testing"
	"time"
)

func TestDecodeSettingsWeakTyping(t *testing.T) {
	var out struct {
		AccountSID string `mapstructure:"account_sid"`
		MaxDigits  int    `mapstructure:"max_digits"`
		Masked     *bool  `mapstructure:"masked"`
	}
	in := map[string]any{
		"Account-SID": "AC123",
		"max_digits":  "16",
		"masked":      true,
	}
	if err := DecodeSettings(in, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.AccountSID != "AC123" || out.MaxDigits != 16 {
		t.Fatalf("unexpected decode result: %+v", out)
	}
	if out.Masked == nil || !*out.Masked {
		t.Fatalf("expected masked true")
	}
}

func TestValidateSettingsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"auth_token": "tok",
		"bogus":      1,
	}, Schema{Required: []string{"account_sid", "auth_token"}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if msg != "missing: account_sid; unknown: bogus" {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestFallbackHelpers(t *testing.T) {
	if BoolValue(nil, true) != true {
		t.Fatalf("BoolValue fallback broken")
	}
	n := 7
	if IntValue(&n, 3) != 7 {
		t.Fatalf("IntValue set broken")
	}
	if SecondsValue(nil, 9*time.Second) != 9*time.Second {
		t.Fatalf("SecondsValue fallback broken")
	}
	secs := 4
	if SecondsValue(&secs, time.Second) != 4*time.Second {
		t.Fatalf("SecondsValue set broken")
	}
	if ClampInt(25, 1, 20) != 20 || ClampInt(-1, 0, 5) != 0 {
		t.Fatalf("ClampInt broken")
	}
}
