package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrUnsupportedScheme is returned for URLs no fetcher can serve.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// ErrPolicyDenied marks a deliberate skip rather than a failure.
var ErrPolicyDenied = errors.New("denied by policy")

// FetchError carries the retry classification of a failed fetch.
type FetchError struct {
	Transient  bool
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s fetch failure: status %d: %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch failure: %v", kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CheckStatus converts a non-success HTTP status into a FetchError.
// 429 and 5xx are transient; any other 4xx is permanent.
func CheckStatus(code int, retryAfter time.Duration) error {
	switch {
	case code >= 200 && code < 400:
		return nil
	case code == http.StatusTooManyRequests:
		return &FetchError{Transient: true, StatusCode: code, RetryAfter: retryAfter, Err: errors.New(http.StatusText(code))}
	case code >= 500:
		return &FetchError{Transient: true, StatusCode: code, Err: errors.New(http.StatusText(code))}
	default:
		return &FetchError{StatusCode: code, Err: errors.New(http.StatusText(code))}
	}
}

// OutcomeFor maps a fetch or parse error to the queue outcome it deserves.
func OutcomeFor(err error) Outcome {
	var fe *FetchError
	switch {
	case err == nil:
		return Success("")
	case errors.As(err, &fe):
		if fe.Transient {
			return Transient(err.Error(), fe.RetryAfter)
		}
		return Permanent(err.Error())
	case errors.Is(err, ErrUnsupportedScheme):
		return Permanent(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(err.Error(), 0)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err.Error(), 0)
	}
	return Permanent(err.Error())
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
