package redact

import "testing"

func TestDigitsMasksAllButLast4(t *testing.T) {
	if got := Digits("4111111111111111"); got != "************1111" {
		t.Fatalf("unexpected mask: %s", got)
	}
	if got := Digits("123"); got != "***" {
		t.Fatalf("short values must be fully masked, got %s", got)
	}
	if got := Digits(""); got != "" {
		t.Fatalf("empty input must stay empty")
	}
}

func TestLast4(t *testing.T) {
	if Last4("123456789") != "6789" {
		t.Fatalf("unexpected last4")
	}
	if Last4("42") != "42" {
		t.Fatalf("short values pass through")
	}
}

func TestTextRespectsToggle(t *testing.T) {
	SetEnabled(false)
	defer SetEnabled(false)
	in := "captured 123456 on call"
	if Text(in) != in {
		t.Fatalf("disabled redaction must not rewrite text")
	}
	SetEnabled(true)
	if got := Text(in); got != "captured **3456 on call" {
		t.Fatalf("unexpected redacted text: %s", got)
	}
}
