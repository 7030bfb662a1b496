// Package errors defines the typed error values shared across the pipeline.
//
// DESIGN: Each failure kind from the upstream API, the cache, the broker,
// and the LLM router gets its own type so callers can dispatch with
// errors.As. Per-item loops absorb these; single-item operations return
// them wrapped.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals an upstream 429. RetryAfter is the server's hint
// when present, zero otherwise.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by upstream (retry after %s)", e.RetryAfter)
	}
	return "rate limited by upstream"
}

// TimeoutError signals an HTTP or extraction deadline overrun.
type TimeoutError struct {
	Timeout time.Duration
	Cause   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// APIError signals an unusable upstream response: unexpected status,
// transport failure, or malformed ATOM.
type APIError struct {
	Status int
	Body   string
	Cause  error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("arxiv API returned status %d: %s", e.Status, truncate(e.Body, 200))
	}
	if e.Cause != nil {
		return fmt.Sprintf("arxiv API request failed: %v", e.Cause)
	}
	return "arxiv API request failed"
}

func (e *APIError) Unwrap() error { return e.Cause }

// PDFError covers download, parse, and size failures for a single paper.
type PDFError struct {
	PaperID string
	Stage   string // "download", "parse", "size"
	Cause   error
}

func (e *PDFError) Error() string {
	return fmt.Sprintf("pdf %s failed for %s: %v", e.Stage, e.PaperID, e.Cause)
}

func (e *PDFError) Unwrap() error { return e.Cause }

// PublishError signals that the broker rejected or never accepted a message.
type PublishError struct {
	RoutingKey string
	Cause      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.RoutingKey, e.Cause)
}

func (e *PublishError) Unwrap() error { return e.Cause }

// QueryProcessingError signals that both the LLM expansion and the
// deterministic fallback produced nothing usable.
type QueryProcessingError struct {
	Query string
	Cause error
}

func (e *QueryProcessingError) Error() string {
	return fmt.Sprintf("query expansion failed for %q: %v", e.Query, e.Cause)
}

func (e *QueryProcessingError) Unwrap() error { return e.Cause }

// ValidationError signals invalid config or request shape. Raised eagerly,
// never absorbed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
