package fetcher

import (
	"errors"
	"fmt"
)

// ErrorKind separates failures the caller may retry from those it must not.
type ErrorKind int

const (
	// Transient covers timeouts, connection resets and 5xx responses.
	// The fetcher retries these itself; surfacing one means the retry
	// budget is exhausted.
	Transient ErrorKind = iota
	// Permanent covers 404s and other structurally invalid responses.
	// Never retried.
	Permanent
	// RateLimited is an upstream 429. Handled through the per-host
	// cool-down window, outside the generic retry budget.
	RateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case RateLimited:
		return "rate_limited"
	}
	return "unknown"
}

// Error is a classified fetch failure.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int // HTTP status when one was received, 0 otherwise
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (HTTP %d)", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a non-retryable fetch failure.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Permanent
}

// IsRateLimited reports whether err is an upstream rate-limit signal.
func IsRateLimited(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == RateLimited
}

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Transient
}
