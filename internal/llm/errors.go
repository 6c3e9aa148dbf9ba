package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies stream errors for the orchestrator's control flow.
type ErrorKind string

const (
	// ErrKindInvalidToolArguments and ErrKindToolNotFound are recoverable
	// by the outer agent loop: they are re-yielded as error events and the
	// stream continues.
	ErrKindInvalidToolArguments ErrorKind = "invalid_tool_arguments"
	ErrKindToolNotFound         ErrorKind = "tool_not_found"

	// ErrKindUpstream covers everything a provider reported; whether it is
	// recoverable by fallback is decided by the classifiers below.
	ErrKindUpstream ErrorKind = "upstream"
	ErrKindInternal ErrorKind = "internal"
)

// StreamError is the error shape carried by error events.
type StreamError struct {
	Kind         ErrorKind
	Message      string
	StatusCode   int
	ResponseBody string
}

func (e *StreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// Recoverable reports whether the outer agent loop may retry after this
// error without tearing the stream down.
func (e *StreamError) Recoverable() bool {
	return e.Kind == ErrKindInvalidToolArguments || e.Kind == ErrKindToolNotFound
}

// HTTPError is returned when an upstream endpoint answers with a non-2xx
// status before or instead of a stream.
type HTTPError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "…"
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, body)
}

// ErrorDetails is the fixed shape every classifier consumes. Extraction
// type-switches exactly once at the boundary so nothing downstream has to
// inspect arbitrary error values.
type ErrorDetails struct {
	StatusCode   int
	Message      string
	ResponseBody string
}

// ExtractErrorDetails flattens any error into ErrorDetails.
func ExtractErrorDetails(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}

	var se *StreamError
	if errors.As(err, &se) {
		return ErrorDetails{
			StatusCode:   se.StatusCode,
			Message:      se.Message,
			ResponseBody: se.ResponseBody,
		}
	}

	var he *HTTPError
	if errors.As(err, &he) {
		return ErrorDetails{
			StatusCode:   he.StatusCode,
			Message:      he.Error(),
			ResponseBody: he.Body,
		}
	}

	return ErrorDetails{Message: err.Error()}
}

var rateLimitMarkers = []string{"rate_limit", "rate limit", "overloaded"}

var authMarkers = []string{"unauthorized", "invalid_token", "authentication", "expired"}

// IsRateLimit reports whether the details describe a rate-limited request.
func (d ErrorDetails) IsRateLimit() bool {
	if d.StatusCode == 429 {
		return true
	}
	return containsAny(d.Message, rateLimitMarkers) || containsAny(d.ResponseBody, rateLimitMarkers)
}

// IsAuthExpired reports whether the details describe an authentication
// failure or an expired token.
func (d ErrorDetails) IsAuthExpired() bool {
	if d.StatusCode == 401 || d.StatusCode == 403 {
		return true
	}
	return containsAny(d.Message, authMarkers) || containsAny(d.ResponseBody, authMarkers)
}

// IsRateLimitError classifies an arbitrary error as rate-limited.
func IsRateLimitError(err error) bool {
	return ExtractErrorDetails(err).IsRateLimit()
}

// IsAuthError classifies an arbitrary error as authentication-expired.
func IsAuthError(err error) bool {
	return ExtractErrorDetails(err).IsAuthExpired()
}

func containsAny(s string, markers []string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
