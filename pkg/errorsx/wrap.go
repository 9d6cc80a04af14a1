package errorsx

import (
	"errors"
	"fmt"
)

// codedError carries a stable reason code alongside its cause. The
// code rides the error chain untouched so the outermost handler can
// classify a failure without string matching.
type codedError struct {
	reason ReasonCode
	err    error
}

func (e *codedError) Error() string {
	if e.err == nil {
		return string(e.reason)
	}
	return fmt.Sprintf("%s: %s", e.reason, e.err)
}

func (e *codedError) Unwrap() error { return e.err }

// Wrap tags err with a reason code. A nil err stays nil, and an error
// that already carries a code keeps its original one.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return err
	}
	return &codedError{reason: reason, err: err}
}

// Reason reports the code carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.reason
	}
	return ReasonUnknown
}

// HasReason reports whether err carries exactly the given code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
