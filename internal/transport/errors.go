package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Reason categorizes why a completion request failed.
type Reason string

const (
	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit Reason = "rate_limit"

	// ReasonServerError indicates server-side issues (HTTP 502/503/504 and
	// other 5xx).
	ReasonServerError Reason = "server_error"

	// ReasonTimeout indicates the per-attempt timeout elapsed.
	ReasonTimeout Reason = "timeout"

	// ReasonConnection indicates a network-level failure.
	ReasonConnection Reason = "connection"

	// ReasonInvalidRequest indicates a client-side error (4xx other than 429).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable returns true if the reason suggests retrying may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonServerError, ReasonTimeout, ReasonConnection:
		return true
	default:
		return false
	}
}

// Error is a structured transport failure. It implements backoff.Hinter so
// the retry loop can honor server-supplied retry-after delays.
type Error struct {
	Reason  Reason
	Status  int
	Message string
	// Hint is the server-supplied retry delay, zero when absent.
	Hint  time.Duration
	Cause error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[transport:%s]", e.Reason))
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// RetryAfter returns the server-supplied retry delay, if any.
func (e *Error) RetryAfter() time.Duration { return e.Hint }

// IsRetryable reports whether the failure is worth another attempt.
func (e *Error) IsRetryable() bool { return e.Reason.IsRetryable() }

// retryAfterPattern matches in-message delay hints such as
// "Please try again in 1.2s" or "retry after 3 seconds".
var retryAfterPattern = regexp.MustCompile(`(?i)(?:try again in|retry after)\s+([0-9]+(?:\.[0-9]+)?)\s*(ms|s|seconds?)?`)

// Classify converts an arbitrary error from the completion client into a
// structured *Error. Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var terr *Error
	if errors.As(err, &terr) {
		return terr
	}

	out := &Error{Reason: ReasonUnknown, Cause: err, Message: err.Error()}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		out.Status = apiErr.HTTPStatusCode
		out.Message = apiErr.Message
		out.Reason = reasonForStatus(apiErr.HTTPStatusCode)
		if out.Reason == ReasonRateLimit {
			out.Hint = extractRetryHint(apiErr.Message)
		}
		return out
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		out.Status = reqErr.HTTPStatusCode
		out.Reason = reasonForStatus(reqErr.HTTPStatusCode)
		return out
	}

	if errors.Is(err, context.DeadlineExceeded) {
		out.Reason = ReasonTimeout
		return out
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			out.Reason = ReasonTimeout
		} else {
			out.Reason = ReasonConnection
		}
		return out
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		out.Reason = ReasonTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") ||
		strings.Contains(msg, "reset") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof"):
		out.Reason = ReasonConnection
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		out.Reason = ReasonRateLimit
		out.Hint = extractRetryHint(err.Error())
	}
	return out
}

func reasonForStatus(status int) Reason {
	switch {
	case status == 429:
		return ReasonRateLimit
	case status == 502 || status == 503 || status == 504:
		return ReasonServerError
	case status >= 500:
		return ReasonServerError
	case status == 408:
		return ReasonTimeout
	case status >= 400:
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// extractRetryHint parses a retry delay from an error message. The OpenAI
// SDK does not surface the Retry-After header, but the server repeats the
// delay in the message body ("Please try again in 1.2s").
func extractRetryHint(message string) time.Duration {
	match := retryAfterPattern.FindStringSubmatch(message)
	if match == nil {
		return 0
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil || value <= 0 {
		return 0
	}
	unit := strings.ToLower(match[2])
	if unit == "ms" {
		return time.Duration(value * float64(time.Millisecond))
	}
	return time.Duration(value * float64(time.Second))
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).IsRetryable()
}
