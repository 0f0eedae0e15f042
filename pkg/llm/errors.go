package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeEndpoint    ErrorType = "endpoint"
	ErrorTypeUnavailable ErrorType = "unavailable"
	ErrorTypeUnknown     ErrorType = "unknown"
)

var (
	// ErrResourceGone means a stored remote identifier no longer resolves on the provider.
	ErrResourceGone = errors.New("remote resource no longer exists")
	// ErrRunFailed means a run ended failed, cancelled or expired.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrRunTimedOut means a run did not reach a terminal state within the wait budget.
	ErrRunTimedOut = errors.New("assistant run timed out")
	// ErrEmptyResponse means the assistant produced no usable text.
	ErrEmptyResponse = errors.New("assistant returned an empty response")
)

// Error represents a classified provider error.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrResourceGone) match not-found classifications.
func (e *Error) Is(target error) bool {
	return target == ErrResourceGone && e.Type == ErrorTypeNotFound
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a classified provider error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ClassifyError categorizes a provider error. Typed go-openai errors are
// classified by status code; anything else falls back to message inspection.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if code := statusCodeOf(err); code > 0 {
		classified := classifyStatus(code, err)
		classified.StatusCode = code
		return classified
	}

	lower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lower, "invalid api key") || strings.Contains(lower, "unauthorized"):
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case strings.Contains(lower, "no such") && strings.Contains(lower, "thread"),
		strings.Contains(lower, "no assistant found"):
		return NewError(ErrorTypeNotFound, "resource not found", false, err)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return NewError(ErrorTypeEndpoint, "connection failed", true, err)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return NewError(ErrorTypeEndpoint, "request timeout", true, err)
	case strings.Contains(lower, "rate limit"):
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	}

	return NewError(ErrorTypeUnknown, "provider error", false, err)
}

func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func classifyStatus(code int, err error) *Error {
	switch {
	case code == http.StatusNotFound:
		return NewError(ErrorTypeNotFound, "resource not found", false, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewError(ErrorTypeAuth, "authentication failed", false, err)
	case code == http.StatusTooManyRequests:
		return NewError(ErrorTypeRateLimit, "rate limited", true, err)
	case code >= 500:
		return NewError(ErrorTypeEndpoint, "server error", true, err)
	default:
		return NewError(ErrorTypeUnknown, "provider error", false, err)
	}
}

// IsResourceGone reports whether err signals a missing remote resource.
func IsResourceGone(err error) bool {
	return errors.Is(err, ErrResourceGone)
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
