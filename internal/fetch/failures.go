package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// FailureKind classifies a failed attempt or terminal outcome. The taxonomy
// is shared across strategies so the orchestrator can reason about
// retryability without knowing which client produced the error.
type FailureKind string

// Failure kinds. The first five are produced by strategies, the next two by
// the extractor, the last two by the runner's gates.
const (
	KindTimeout              FailureKind = "timeout"
	KindNetworkError         FailureKind = "network_error"
	KindBlocked              FailureKind = "blocked"
	KindHTTPError            FailureKind = "http_error"
	KindMalformedResponse    FailureKind = "malformed_response"
	KindMissingRequiredField FailureKind = "missing_required_field"
	KindUnparsableValue      FailureKind = "unparsable_value"
	KindDisallowed           FailureKind = "disallowed"
	KindCanceled             FailureKind = "canceled"
)

// FetchError is the uniform failure value flowing out of strategies, the
// extractor, and the runner's gates. Status is set for http_error kinds;
// RetryAfter carries the server's backoff hint on 429 responses.
type FetchError struct {
	Kind       FailureKind
	Status     int
	RetryAfter time.Duration
	cause      error
}

func (e *FetchError) Error() string {
	msg := string(e.Kind)
	if e.Kind == KindHTTPError {
		msg = fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *FetchError) Unwrap() error { return e.cause }

// Retryable reports whether the same strategy may be tried again for this
// failure: timeouts, transport errors, and 429 responses qualify.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindNetworkError:
		return true
	case KindHTTPError:
		return e.Status == 429
	}
	return false
}

// MarshalJSON flattens the error for attempt-history emission.
func (e *FetchError) MarshalJSON() ([]byte, error) {
	view := struct {
		Kind         FailureKind `json:"kind"`
		Status       int         `json:"status,omitempty"`
		RetryAfterMs int64       `json:"retry_after_ms,omitempty"`
		Message      string      `json:"message,omitempty"`
	}{Kind: e.Kind, Status: e.Status, RetryAfterMs: e.RetryAfter.Milliseconds()}
	if e.cause != nil {
		view.Message = e.cause.Error()
	}
	return json.Marshal(view)
}

// TimeoutError wraps a deadline overrun.
func TimeoutError(cause error) *FetchError {
	return &FetchError{Kind: KindTimeout, cause: cause}
}

// NetworkError wraps a transport-level failure (DNS, TLS, connection reset).
func NetworkError(cause error) *FetchError {
	return &FetchError{Kind: KindNetworkError, cause: cause}
}

// BlockedError marks an anti-bot challenge or CAPTCHA interception.
func BlockedError(reason string) *FetchError {
	return &FetchError{Kind: KindBlocked, cause: errors.New(reason)}
}

// HTTPError marks a non-2xx response. retryAfter is zero unless the server
// sent a usable Retry-After header.
func HTTPError(status int, retryAfter time.Duration) *FetchError {
	return &FetchError{Kind: KindHTTPError, Status: status, RetryAfter: retryAfter}
}

// MalformedError marks content that could not be interpreted at all.
func MalformedError(cause error) *FetchError {
	return &FetchError{Kind: KindMalformedResponse, cause: cause}
}

// MissingFieldError marks extraction that found no value for a required field.
func MissingFieldError(field string) *FetchError {
	return &FetchError{Kind: KindMissingRequiredField, cause: fmt.Errorf("no value for required field %q", field)}
}

// UnparsableError marks extraction text that resisted normalization.
func UnparsableError(field, raw string) *FetchError {
	return &FetchError{Kind: KindUnparsableValue, cause: fmt.Errorf("field %q: cannot parse %q", field, raw)}
}

// DisallowedError marks a URL rejected by robots.txt before any attempt.
func DisallowedError(rawURL string) *FetchError {
	return &FetchError{Kind: KindDisallowed, cause: fmt.Errorf("robots.txt disallows %s", rawURL)}
}

// CanceledError marks a job aborted by the caller's context.
func CanceledError(cause error) *FetchError {
	return &FetchError{Kind: KindCanceled, cause: cause}
}

// Classify maps an arbitrary error onto the taxonomy. FetchErrors pass
// through unchanged; context and net errors map to canceled/timeout; anything
// else is a network error.
func Classify(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(err)
	}
	if errors.Is(err, context.Canceled) {
		return CanceledError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError(err)
	}
	return NetworkError(err)
}

// KindOf returns the taxonomy kind for any error.
func KindOf(err error) FailureKind {
	return Classify(err).Kind
}
