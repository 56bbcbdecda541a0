package tracker

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrorKind classifies a failure produced anywhere in the fetch core.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "NETWORK"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindRateLimit      ErrorKind = "RATE_LIMIT"
	KindAPIUnavailable ErrorKind = "API_UNAVAILABLE"
	KindAborted        ErrorKind = "ABORTED"
	KindValidation     ErrorKind = "VALIDATION"
	KindGeneric        ErrorKind = "GENERIC"
)

// Severity is an informational ranking used by callers deciding how loudly
// to surface an error.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Default messages per kind.
var defaultMessages = map[ErrorKind]string{
	KindNetwork:        "Network connection failed. Please check your internet connection.",
	KindTimeout:        "Request timed out. Please try again.",
	KindRateLimit:      "Too many requests. Please wait before trying again.",
	KindAPIUnavailable: "Unable to fetch data from the server. Please try again.",
	KindAborted:        "Request was superseded.",
	KindValidation:     "Please check your input and try again.",
	KindGeneric:        "An unexpected error occurred. Please try again.",
}

var userMessages = map[ErrorKind]string{
	KindNetwork:        "Connection problem. Please check your internet connection and try again.",
	KindTimeout:        "Request timed out. Please try again in a moment.",
	KindRateLimit:      "Too many requests. Please wait a moment before trying again.",
	KindAPIUnavailable: "Service temporarily unavailable. Please try again later.",
	KindValidation:     "Please check your input and try again.",
	KindGeneric:        "Something went wrong. Please try again.",
}

// ErrAborted is the sentinel matched by errors.Is for superseded or
// cancelled requests.
var ErrAborted = &NormalizedError{Kind: KindAborted}

// NormalizedError is the uniform error record every layer of the core
// produces. Treat values as immutable; the constructors copy Details.
type NormalizedError struct {
	Kind       ErrorKind
	Message    string
	Details    map[string]any
	Timestamp  time.Time
	Context    string
	StatusCode int
	// RetryAfter carries a server-provided retry hint for RATE_LIMIT errors.
	RetryAfter time.Duration
	Cause      error
}

// NewError builds a NormalizedError stamped with the current time. An empty
// message falls back to the kind's default text.
func NewError(kind ErrorKind, message string, details map[string]any) *NormalizedError {
	return newErrorAt(kind, message, details, time.Now())
}

func newErrorAt(kind ErrorKind, message string, details map[string]any, now time.Time) *NormalizedError {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &NormalizedError{
		Kind:      kind,
		Message:   message,
		Details:   maps.Clone(details),
		Timestamp: now,
	}
}

// Error implements error.
func (e *NormalizedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Context != "" {
		msg = fmt.Sprintf("[%s] %s", e.Context, msg)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *NormalizedError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches another *NormalizedError by kind, so errors.Is(err, ErrAborted)
// works through wrapping.
func (e *NormalizedError) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *NormalizedError
	if errors.As(target, &t) && t != nil {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether the kind is worth another attempt.
func (e *NormalizedError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind.Retryable()
}

// Severity ranks the error for display.
func (e *NormalizedError) Severity() Severity {
	if e == nil {
		return SeverityLow
	}
	return e.Kind.Severity()
}

// UserMessage returns text suitable for an end user.
func (e *NormalizedError) UserMessage() string {
	if e == nil {
		return ""
	}
	if msg, ok := userMessages[e.Kind]; ok {
		return msg
	}
	if e.Message != "" {
		return e.Message
	}
	return defaultMessages[KindGeneric]
}

// Detail returns a single details value.
func (e *NormalizedError) Detail(key string) (any, bool) {
	if e == nil || e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *NormalizedError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Kind: %s\n", e.Kind)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Context != "" {
		info += fmt.Sprintf("Context: %s\n", e.Context)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		info += fmt.Sprintf("Retry After: %v\n", e.RetryAfter)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if len(e.Details) > 0 {
		info += fmt.Sprintf("Details: %v\n", e.Details)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// withStamp returns a copy of e carrying a new timestamp and, when given,
// a new context label.
func (e *NormalizedError) withStamp(now time.Time, context string) *NormalizedError {
	cp := *e
	cp.Details = maps.Clone(e.Details)
	cp.Timestamp = now
	if context != "" {
		cp.Context = context
	}
	return &cp
}

// Retryable reports whether failures of this kind may succeed on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindAPIUnavailable:
		return true
	default:
		return false
	}
}

// Severity ranks the kind.
func (k ErrorKind) Severity() Severity {
	switch k {
	case KindNetwork, KindAPIUnavailable:
		return SeverityHigh
	case KindAborted:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// IsRetryable reports whether err normalizes to a retryable kind.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Normalize(err, "").Retryable()
}

// IsAborted reports whether err represents a superseded or cancelled request.
func IsAborted(err error) bool {
	return KindOf(err) == KindAborted
}

// KindOf returns the normalized kind of err, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return Normalize(err, "").Kind
}
