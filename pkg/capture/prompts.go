package capture

import (
	"fmt"
	"strings"

	"github.com/voxsprint/voxly/pkg/digits"
	"github.com/voxsprint/voxly/pkg/redact"
)

// promptSet holds the attempt-indexed reprompt rotations for one
// profile. Attempts past the end of a rotation reuse its last entry.
type promptSet struct {
	invalid []string
	timeout []string
	failure string
}

func promptsFor(p digits.Profile) promptSet {
	name := digits.SpokenName(p)
	switch p {
	case digits.ProfileVerification:
		return promptSet{
			invalid: []string{
				"That code doesn't look right. Please enter it again using your keypad.",
				"Sorry, that still doesn't match. Carefully key in the code from your message.",
			},
			timeout: []string{
				"I didn't receive anything. Please enter your verification code now.",
				"Just checking you're still there. Key in the code when you're ready.",
			},
			failure: "I wasn't able to verify the code. Please call back when you have it handy. Goodbye.",
		}
	case digits.ProfileCardNumber:
		return promptSet{
			invalid: []string{
				"That card number didn't validate. Please re-enter the long number on the front of your card.",
				"Hmm, that still isn't a valid card number. Take your time and key it in once more.",
			},
			timeout: []string{
				"I didn't catch any digits. Please enter your card number, then press pound.",
			},
			failure: "I couldn't take your card number over the keypad. A representative will follow up. Goodbye.",
		}
	default:
		return promptSet{
			invalid: []string{
				fmt.Sprintf("That %s doesn't look right. Please enter it again.", name),
				fmt.Sprintf("Sorry, that still isn't a valid %s. Please key it in one more time.", name),
			},
			timeout: []string{
				fmt.Sprintf("I didn't receive anything. Please enter your %s using the keypad.", name),
			},
			failure: fmt.Sprintf("I wasn't able to capture your %s. Please try again later. Goodbye.", name),
		}
	}
}

func pickPrompt(rotation []string, attempt int) string {
	if len(rotation) == 0 {
		return ""
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(rotation) {
		attempt = len(rotation) - 1
	}
	return rotation[attempt]
}

func invalidPrompt(p digits.Profile, attempt int) string {
	return pickPrompt(promptsFor(p).invalid, attempt)
}

func timeoutPrompt(p digits.Profile, attempt int) string {
	return pickPrompt(promptsFor(p).timeout, attempt)
}

func failureMessage(p digits.Profile) string {
	return promptsFor(p).failure
}

// confirmationText phrases the acknowledgement for an accepted value.
func confirmationText(style digits.ConfirmationStyle, p digits.Profile, value string) string {
	switch style {
	case digits.ConfirmLast4:
		return fmt.Sprintf("Got it, %s ending in %s.", digits.SpokenName(p), redact.Last4(value))
	case digits.ConfirmSpokenAmount:
		return fmt.Sprintf("I have %s. Thank you.", spellDigits(value))
	default:
		return "Got it, thank you."
	}
}

// spellDigits spaces digits out so TTS reads them one by one.
func spellDigits(value string) string {
	parts := make([]string, 0, len(value))
	for i := 0; i < len(value); i++ {
		parts = append(parts, string(value[i]))
	}
	return strings.Join(parts, " ")
}
