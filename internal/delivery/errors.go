package delivery

import (
	"errors"
	"time"
)

// TransientError marks a send failure worth retrying (timeout, rate limit,
// transport hiccup). RetryAfter, when non-zero, is the platform's own
// back-off hint and takes precedence over the dispatcher's schedule.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient delivery failure"
	}
	return "transient delivery failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a send failure that retrying cannot fix (endpoint
// gone, payload rejected). The dispatcher records it and moves on.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent delivery failure"
	}
	return "permanent delivery failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func TransientAfter(err error, retryAfter time.Duration) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
// Anything else (including plain errors) is treated as transient, so an
// unclassified failure never silently drops an endpoint.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryAfter extracts the platform back-off hint, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}
