package gateway

import (
	"errors"

	"github.com/abrino/abrinostore/limiter"
	"github.com/abrino/abrinostore/telegram"
)

// ErrTooLarge rejects objects over the platform ceiling before any remote
// call is made.
var ErrTooLarge = errors.New("object exceeds the platform size ceiling")

// TransientError wraps a failure the caller may retry: network trouble or a
// 5xx-equivalent from the platform.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return "transient remote failure: " + e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError wraps a failure retrying cannot fix: a revoked credential,
// an unknown reference, a rejected object.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string { return "permanent remote failure: " + e.Cause.Error() }
func (e *PermanentError) Unwrap() error { return e.Cause }

// classify maps a raw platform error onto the gateway taxonomy. The
// platform's own back-off request is surfaced as a throttle with its hint so
// callers treat it like a limiter rejection.
func classify(err error) error {
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.RetryAfter > 0:
			return &limiter.ThrottledError{RetryAfter: apiErr.RetryAfter}
		case apiErr.Code >= 500:
			return &TransientError{Cause: err}
		default:
			return &PermanentError{Cause: err}
		}
	}
	// Anything else came from the transport layer.
	return &TransientError{Cause: err}
}
