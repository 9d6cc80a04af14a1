package digits

// IsSpamPattern reports whether a digit string looks like keypad abuse:
// a single repeated digit, or a run along the 0123456789 sequence in
// either direction. Applied only to strings of four or more digits so
// short legitimate entries (e.g. "11" on a menu) are never flagged.
func IsSpamPattern(in string) bool {
	if len(in) < 4 || !allDigits(in) {
		return false
	}
	repeated, ascending, descending := true, true, true
	for i := 1; i < len(in); i++ {
		prev, cur := in[i-1], in[i]
		if cur != prev {
			repeated = false
		}
		if cur != prev+1 {
			ascending = false
		}
		if cur != prev-1 {
			descending = false
		}
	}
	return repeated || ascending || descending
}

// Clean strips everything but keypad characters (0-9, *, #) from a raw
// input batch. Providers occasionally deliver whitespace or w/W pause
// markers around digits.
func Clean(in string) string {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		c := in[i]
		if (c >= '0' && c <= '9') || c == '*' || c == '#' {
			out = append(out, c)
		}
	}
	return string(out)
}
